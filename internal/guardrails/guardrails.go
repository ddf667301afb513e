// Package guardrails is the deterministic post-drafting safety pass.
// It re-checks every drafted post and recomputes its flags; nothing the
// model self-reported survives.
//
// Checks:
//   - profanity: case-insensitive substring match against a word list
//   - risky claims: ordered regex list, first match of each pattern
//   - hashtags: count bound (truncated), leading '#', length ceiling
package guardrails

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/postgen/postgen/pkg/models"
)

// MaxHashtagLength is the longest compliant hashtag, '#' included.
const MaxHashtagLength = 30

// ── Validator ───────────────────────────────────────────────

// Validator applies the guardrail rules. The zero value is not usable; use
// New.
type Validator struct {
	profanity []string
	risky     []*regexp.Regexp
}

// New returns a Validator with the built-in word list and patterns.
func New() *Validator {
	return &Validator{profanity: profanityList, risky: riskyPatterns}
}

// Report lists what one draft failed.
type Report struct {
	DraftID int
	Issues  []string
}

// Apply checks every draft in place: flags are recomputed and hashtag lists
// are cut to limit. Applying it twice yields the same drafts.
func (v *Validator) Apply(drafts []models.Draft, limit int) ([]Report, models.GuardrailsSummary) {
	reports := make([]Report, 0, len(drafts))
	var sum models.GuardrailsSummary
	for i := range drafts {
		r := v.ApplyOne(&drafts[i], limit)
		reports = append(reports, r)
		if drafts[i].Flags.PassedGuardrails {
			sum.Passed++
			continue
		}
		sum.Failed++
		for _, issue := range r.Issues {
			sum.Issues = append(sum.Issues, fmt.Sprintf("Post %d: %s", r.DraftID, issue))
		}
	}
	return reports, sum
}

// ApplyOne checks a single draft in place.
func (v *Validator) ApplyOne(d *models.Draft, limit int) Report {
	if limit < 0 {
		limit = 0
	}
	rep := Report{DraftID: d.ID}

	if len(d.Hashtags) > limit {
		rep.Issues = append(rep.Issues, fmt.Sprintf("Too many hashtags: %d > %d", len(d.Hashtags), limit))
		d.Hashtags = d.Hashtags[:limit]
	}
	// Judged after truncation so a second pass sees the same list.
	compliant := true
	for _, tag := range d.Hashtags {
		if !strings.HasPrefix(tag, "#") {
			compliant = false
			rep.Issues = append(rep.Issues, "Invalid hashtag format: "+tag)
		}
		if utf8.RuneCountInString(tag) > MaxHashtagLength {
			compliant = false
			rep.Issues = append(rep.Issues, "Hashtag too long: "+tag)
		}
	}

	profane := v.ContainsProfanity(d.Content)
	if profane {
		rep.Issues = append(rep.Issues, "Contains profanity")
	}
	claims := v.RiskyClaims(d.Content)
	if len(claims) > 0 {
		rep.Issues = append(rep.Issues, "Risky claims: "+strings.Join(claims, ", "))
	}

	d.Flags = models.Flags{
		Profanity:        profane,
		RiskyClaims:      claims,
		PassedGuardrails: !profane && len(claims) == 0 && compliant,
	}
	return rep
}

// ── Profanity ───────────────────────────────────────────────

// Substring match, so short words that occur inside common words ("hell"
// in "hello") are left out.
var profanityList = []string{
	"damn",
	"shit",
	"bastard",
	"crap",
	"asshole",
	"dumbass",
	"fuck",
	"bloody",
}

// ContainsProfanity reports whether text contains any listed word.
func (v *Validator) ContainsProfanity(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range v.profanity {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// ── Risky Claims ────────────────────────────────────────────

var riskyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)guaranteed\s+(success|results|income|money)`),
	regexp.MustCompile(`(?i)make\s+\$?\d+[k,]?\s*(per|a)\s*(day|week|month)`),
	regexp.MustCompile(`(?i)\d+x\s+your\s+(income|revenue|sales)`),
	regexp.MustCompile(`(?i)secret\s+(to|of)\s+(success|wealth|riches)`),
	regexp.MustCompile(`(?i)get\s+rich\s+(quick|fast|easy)`),
	regexp.MustCompile(`(?i)100%\s+proven`),
	regexp.MustCompile(`(?i)never\s+fail`),
	regexp.MustCompile(`(?i)everyone\s+should`),
	regexp.MustCompile(`(?i)if\s+you\s+(don't|dont)\s+do\s+this`),
	regexp.MustCompile(`(?i)\b(fastest|guaranteed|no\s*risk|beat\s*the\s*market)\b|#1\b`),
	regexp.MustCompile(`\d{2,}%`),
	regexp.MustCompile(`(?i)\b(triple|10x|100x)\b`),
}

// RiskyClaims returns the first match of each pattern, in pattern order.
// It never returns nil.
func (v *Validator) RiskyClaims(text string) []string {
	claims := []string{}
	for _, re := range v.risky {
		if m := re.FindString(text); m != "" {
			claims = append(claims, m)
		}
	}
	return claims
}
