// Package planner turns a validated request into N creative briefs with a
// single LLM call.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/postgen/postgen/internal/llmjson"
	"github.com/postgen/postgen/pkg/contracts"
	"github.com/postgen/postgen/pkg/models"
)

// NoFacts is the grounding text used when the fact provider returned nothing.
const NoFacts = "No external facts provided."

// ErrNoPlans is returned when the response parsed but held no usable plans.
var ErrNoPlans = errors.New("response contains no plans")

const promptText = `You are a senior LinkedIn content strategist.

Task: Generate {{.Req.PostCount}} distinct, structured LinkedIn post plans.
Topic: "{{.Topic}}"{{if .Category}} (category: {{.Category}}){{end}}

Constraints:
- Tone: {{.Req.Tone}}
- Audience: {{.Req.Audience}}
- Target Length: {{.Req.TargetLength}}
- Language: {{.Req.Language}}
- Reading Level: {{.Req.ReadingLevel}}
- Use Emojis: {{yesNo .Req.AllowEmojis}}
- Add Hashtags: {{yesNo .Req.AddHashtags}} (limit: {{.Req.HashtagLimit}})
- Add CTA: {{yesNo .Req.AddCTA}}{{if .Req.AddCTA}} (style: {{.Req.CTAStyle}}){{end}}
- Include Links: {{yesNo .Req.IncludeLinks}}

Each plan needs a scroll-stopping hook, 3-5 talking points, a suggested CTA
and an example angle. Plans must differ in angle and structure.

FACTUAL CONTEXT (use where relevant, do not invent beyond it):
{{.Facts}}

Style examples to consider: {{if .Req.Examples}}{{.Req.Examples}}{{else}}None{{end}}

Return JSON only:
{
  "plans": [
    { "id": 1, "hook": "...", "points": ["..."], "cta": "...", "example_angle": "..." }
  ]
}
`

var funcs = template.FuncMap{
	"yesNo": func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	},
}

// Input is everything the planner needs for one request.
type Input struct {
	Req      models.GenerationRequest
	Topic    string
	Category string
	Facts    string
}

// Result holds the normalized plans and the tokens the call consumed.
type Result struct {
	Plans []models.Plan
	Usage models.TokenUsage
}

// Planner builds the planning prompt and parses the reply.
type Planner struct {
	tmpl            *template.Template
	maxOutputTokens int
}

// New returns a Planner. maxOutputTokens <= 0 leaves the provider default.
func New(maxOutputTokens int) *Planner {
	return &Planner{
		tmpl:            template.Must(template.New("plan").Funcs(funcs).Parse(promptText)),
		maxOutputTokens: maxOutputTokens,
	}
}

// Prompt renders the planning prompt. An empty Facts renders as NoFacts.
func (p *Planner) Prompt(in Input) (string, error) {
	if strings.TrimSpace(in.Facts) == "" {
		in.Facts = NoFacts
	}
	if in.Topic == "" {
		in.Topic = in.Req.Topic
	}
	var sb strings.Builder
	if err := p.tmpl.Execute(&sb, in); err != nil {
		return "", fmt.Errorf("render plan prompt: %w", err)
	}
	return sb.String(), nil
}

// Plan issues exactly one LLM call. Errors are returned unclassified; the
// caller attaches the stage.
func (p *Planner) Plan(ctx context.Context, client contracts.LLMClient, in Input) (*Result, error) {
	prompt, err := p.Prompt(in)
	if err != nil {
		return nil, err
	}

	res, err := client.Generate(ctx, prompt, models.GenerateOptions{
		Temperature:     in.Req.Temperature,
		Seed:            in.Req.Seed,
		MaxOutputTokens: p.maxOutputTokens,
		JSON:            true,
	})
	if err != nil {
		return nil, err
	}
	out := &Result{}
	out.Usage.Add(res)

	plans, err := Parse(res.Text, in.Req.PostCount)
	if err != nil {
		return out, err
	}
	out.Plans = plans
	return out, nil
}

// Parse extracts and normalizes plans from a raw reply: ids become 1..n in
// array order and the list is trimmed to limit.
func Parse(raw string, limit int) ([]models.Plan, error) {
	v, ok := llmjson.Extract(raw)
	if !ok {
		return nil, llmjson.ErrUnparsable
	}

	var items []any
	switch t := v.(type) {
	case map[string]any:
		arr, ok := t["plans"].([]any)
		if !ok {
			return nil, ErrNoPlans
		}
		items = arr
	case []any:
		items = t
	default:
		return nil, ErrNoPlans
	}

	plans := make([]models.Plan, 0, len(items))
	for _, item := range items {
		pl, ok := normalize(item)
		if !ok {
			continue
		}
		plans = append(plans, pl)
		if limit > 0 && len(plans) == limit {
			break
		}
	}
	if len(plans) == 0 {
		return nil, ErrNoPlans
	}
	for i := range plans {
		plans[i].ID = i + 1
	}
	return plans, nil
}

func normalize(item any) (models.Plan, bool) {
	switch t := item.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return models.Plan{}, false
		}
		return models.Plan{Hook: strings.TrimSpace(t), Points: []string{}}, true
	case map[string]any:
		pl := models.Plan{
			Hook:   firstString(t, "hook", "title"),
			Points: stringList(t["points"]),
			CTA:    firstString(t, "cta"),
			Angle:  firstString(t, "example_angle", "exampleAngle", "angle"),
		}
		return pl, true
	default:
		return models.Plan{}, false
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// stringList accepts an array of strings or a single string.
func stringList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}
