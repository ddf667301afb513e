// Package llmjson recovers JSON values from model output that is almost, but
// not quite, JSON: fenced code blocks, commentary before or after the value,
// and trailing commas.
package llmjson

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrUnparsable is the cause callers attach when Extract reports no value.
var ErrUnparsable = errors.New("response is not valid JSON")

var (
	leadingFence  = regexp.MustCompile("(?i)^```[a-z0-9_-]*[ \t]*\r?\n?")
	trailingFence = regexp.MustCompile("\\s*```\\s*$")
)

// Extract parses the first JSON object or array found in raw. It never
// panics; ok is false when nothing parseable was found.
func Extract(raw string) (v any, ok bool) {
	body, found := candidate(raw)
	if !found {
		return nil, false
	}
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		return v, true
	}
	// Trailing commentary after the value: retry on the balanced prefix.
	if end := balancedEnd(body); end > 0 && end < len(body) {
		if err := json.Unmarshal([]byte(body[:end]), &v); err == nil {
			return v, true
		}
	}
	return nil, false
}

// Into decodes the first JSON value in raw into dst.
func Into(raw string, dst any) bool {
	body, found := candidate(raw)
	if !found {
		return false
	}
	if err := json.Unmarshal([]byte(body), dst); err == nil {
		return true
	}
	if end := balancedEnd(body); end > 0 && end < len(body) {
		return json.Unmarshal([]byte(body[:end]), dst) == nil
	}
	return false
}

// candidate strips fences, slices from the first opening brace or bracket
// and removes trailing commas.
func candidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	return stripTrailingCommas(s[start:]), true
}

// stripTrailingCommas drops a comma when the next non-space character closes
// an object or array. String literals are left untouched.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// balancedEnd returns the index just past the bracket that closes the
// value starting at s[0], or -1.
func balancedEnd(s string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
