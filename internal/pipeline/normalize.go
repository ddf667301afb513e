package pipeline

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Topic categories, checked in this order.
const (
	CategoryTechnology   = "technology"
	CategoryCareer       = "career"
	CategoryProductivity = "productivity"
	CategoryBusiness     = "business"
	CategoryPersonal     = "personal"
	CategoryGeneral      = "general"
)

var fillerPrefixes = []string{
	"write a post about",
	"create a linkedin post about",
	"generate content about",
	"i want to talk about",
	"can you write about",
	"please write about",
}

type category struct {
	name    string
	pattern *regexp.Regexp
}

var categories = []category{
	{CategoryTechnology, keywords("tech", "ai", "software", "programming", "developer", "code", "startup", "saas", "api", "cloud", "machine learning", "devops")},
	{CategoryCareer, keywords("career", "job", "interview", "resume", "salary", "promotion", "manager", "leadership", "hire", "fired", "layoff")},
	{CategoryProductivity, keywords("productivity", "habits", "time", "efficiency", "routine", "morning", "focus", "remote work", "wfh")},
	{CategoryBusiness, keywords("business", "entrepreneur", "founder", "revenue", "growth", "marketing", "sales", "customer", "b2b")},
	{CategoryPersonal, keywords("personal", "life", "balance", "health", "mental", "burnout", "success", "failure", "story")},
}

// keywords matches any of the words on word boundaries, allowing a plural
// "s" ("startups", "habits").
func keywords(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)s?\b`)
}

// NormalizeTopic strips a leading filler phrase and capitalizes the result.
func NormalizeTopic(topic string) string {
	t := strings.Join(strings.Fields(topic), " ")
	lower := strings.ToLower(t)
	for _, p := range fillerPrefixes {
		if strings.HasPrefix(lower, p) {
			t = strings.TrimSpace(t[len(p):])
			lower = strings.ToLower(t)
		}
	}
	if t == "" {
		return strings.TrimSpace(topic)
	}
	r, n := utf8.DecodeRuneInString(t)
	return string(unicode.ToUpper(r)) + t[n:]
}

// DetectCategory returns the first category with a keyword in topic.
func DetectCategory(topic string) string {
	for _, c := range categories {
		if c.pattern.MatchString(topic) {
			return c.name
		}
	}
	return CategoryGeneral
}
