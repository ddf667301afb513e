package drafter

import (
	"strings"
	"unicode"
)

// CTA styles understood by CTAFor.
const (
	StyleQuestion  = "Question"
	StyleDirective = "Directive"
	StyleSoftAsk   = "Soft Ask"
	StyleNone      = "No CTA"
)

var ctaTemplates = map[string][]string{
	StyleQuestion: {
		"What do you think?",
		"Have you experienced this?",
		"What's your take?",
		"Does this resonate with you?",
		"What would you add to this list?",
	},
	StyleDirective: {
		"Try this today.",
		"Share this with someone who needs it.",
		"Save this for later.",
		"Tag someone who should read this.",
		"Follow me for more insights like this.",
	},
	StyleSoftAsk: {
		"I'd love to hear your thoughts below.",
		"Feel free to share your experience.",
		"Let me know if this was helpful.",
		"Drop a comment if you agree (or disagree).",
		"Would appreciate your perspective on this.",
	},
}

var genericHashtags = []string{
	"#linkedin", "#careergrowth", "#productivity", "#leadership",
	"#innovation", "#mindset", "#success",
}

// CTAFor picks a template for the given style, rotating by post id so
// sibling posts get different lines. Unknown styles use Question.
func CTAFor(style string, id int) string {
	if strings.EqualFold(style, StyleNone) {
		return ""
	}
	list, ok := ctaTemplates[canonicalStyle(style)]
	if !ok {
		list = ctaTemplates[StyleQuestion]
	}
	i := (id - 1) % len(list)
	if i < 0 {
		i += len(list)
	}
	return list[i]
}

func canonicalStyle(style string) string {
	for k := range ctaTemplates {
		if strings.EqualFold(k, strings.TrimSpace(style)) {
			return k
		}
	}
	return style
}

// FallbackHashtags derives up to limit tags from the topic, padded with
// generic professional tags.
func FallbackHashtags(topic string, limit int) []string {
	if limit <= 0 {
		return []string{}
	}
	var tags []string
	for _, w := range strings.Fields(topic) {
		w = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, w)
		if len([]rune(w)) <= 3 {
			continue
		}
		tags = append(tags, "#"+w)
		if len(tags) == 2 {
			break
		}
	}
	tags = append(tags, genericHashtags...)
	tags = dedupe(tags)
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

// dedupe drops blanks and case-insensitive repeats, keeping first spelling.
func dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}
