// Package citations maps the numeric markers of a drafted post ("[1]",
// "[2]") to the URLs listed in its trailing References section.
package citations

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/postgen/postgen/pkg/models"
)

var (
	referencesHeader = regexp.MustCompile(`(?i)(?:^|\n)[ \t#*_>-]*references:?[ \t*_]*\n`)
	labelPrefix      = regexp.MustCompile(`^\s*(?:[-*+]\s*)?\[(\d+)\]`)
	schemeURL        = regexp.MustCompile(`(?i)\[(\d+)\]\s*(https?:[^\s]+)`)
	bareURL          = regexp.MustCompile(`(?i)\[(\d+)\]\s*([^\s]+\.[^\s]+)`)
)

var md = goldmark.New(goldmark.WithExtensions(extension.Linkify))

// Extract returns the citations listed after the last "References:" line of
// content, in listing order. It returns nil when there is no such section.
func Extract(content string) []models.Citation {
	locs := referencesHeader.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return nil
	}
	section := content[locs[len(locs)-1][1]:]

	var out []models.Citation
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if c, ok := parseLine(line); ok {
			out = append(out, c)
		}
	}
	return out
}

// parseLine reads one reference entry. Markdown links ("[1](url)") and
// linkified URLs ("[1] https://...") are found through the Markdown AST;
// bare domains fall back to a pattern match.
func parseLine(line string) (models.Citation, bool) {
	src := []byte(line)
	doc := md.Parser().Parse(text.NewReader(src))

	var c models.Citation
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Link:
			label := strings.TrimSpace(string(v.Text(src)))
			if isDigits(label) {
				c = models.Citation{Label: "[" + label + "]", URL: string(v.Destination)}
				return ast.WalkStop, nil
			}
		case *ast.AutoLink:
			if m := labelPrefix.FindStringSubmatch(line); m != nil {
				c = models.Citation{Label: "[" + m[1] + "]", URL: string(v.URL(src))}
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	if c.URL != "" {
		return c, true
	}

	if m := schemeURL.FindStringSubmatch(line); m != nil {
		return models.Citation{Label: "[" + m[1] + "]", URL: m[2]}, true
	}
	if m := bareURL.FindStringSubmatch(line); m != nil {
		return models.Citation{Label: "[" + m[1] + "]", URL: m[2]}, true
	}
	return models.Citation{}, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
