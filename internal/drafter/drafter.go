// Package drafter writes every planned post in one batched LLM call and
// normalizes the reply into drafts.
package drafter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/postgen/postgen/internal/citations"
	"github.com/postgen/postgen/internal/llmjson"
	"github.com/postgen/postgen/pkg/contracts"
	"github.com/postgen/postgen/pkg/models"
)

var (
	// ErrNoPosts is returned when the reply has no posts array.
	ErrNoPosts = errors.New("response contains no posts")
	// ErrMissingPost is returned when a plan has no post with content.
	ErrMissingPost = errors.New("response is missing a post")
)

const promptText = `You are a LinkedIn content expert. Generate {{len .Plans}} complete LinkedIn posts from these plans.

CRITICAL REQUIREMENTS:
1. Each post MUST be distinctly different in style, angle and opening
2. Do NOT repeat phrases, structures or hooks across posts
3. Mix storytelling, data, questions and bold statements

PLANS:
{{.PlansJSON}}

FACTUAL CONTEXT (incorporate where relevant, do NOT hallucinate beyond this):
{{.Facts}}

POST CONSTRAINTS:
- Topic: {{.Topic}}
- Tone: {{.Req.Tone}}
- Audience: {{.Req.Audience}}
- Target Length: {{.Req.TargetLength}}
- Language: {{.Req.Language}}
- Reading Level: {{.Req.ReadingLevel}}
- Use Emojis: {{if .Req.AllowEmojis}}Yes, sparingly for emphasis{{else}}No emojis{{end}}
- Include Links: {{if .Req.IncludeLinks}}Yes, where relevant{{else}}No links{{end}}

ENRICHMENT (include in each post):
- Hashtags: {{if .Req.AddHashtags}}Yes, exactly {{.Req.HashtagLimit}} relevant hashtags{{else}}No hashtags{{end}}
- CTA: {{if .Req.AddCTA}}Yes, {{.Req.CTAStyle}} style call-to-action{{else}}No CTA{{end}}
- Safety Flags: check for profanity and risky claims
{{- if .Req.IncludeLinks}}

CITATIONS:
Mark sourced statements inline with [1], [2], ... and end the content with a
"References:" section listing "[n] https://..." one per line.
{{- end}}

OUTPUT FORMAT (JSON only, no markdown fences):
{
  "posts": [
    {
      "id": 1,
      "content": "The full post content including formatting and line breaks...",
      "hashtags": ["#tag1", "#tag2"],
      "cta": "What's your experience with this?",
      "flags": { "profanity": false, "riskyClaims": [] }
    }
  ]
}
`

// Input is everything the drafter needs for one request.
type Input struct {
	Req   models.GenerationRequest
	Topic string
	Plans []models.Plan
	Facts string
}

// Result holds one draft per plan, in plan order.
type Result struct {
	Drafts []models.Draft
	Usage  models.TokenUsage
}

// Drafter builds the batch prompt and normalizes the reply.
type Drafter struct {
	tmpl            *template.Template
	maxOutputTokens int
}

// New returns a Drafter. maxOutputTokens <= 0 leaves the provider default.
func New(maxOutputTokens int) *Drafter {
	return &Drafter{
		tmpl:            template.Must(template.New("draft").Parse(promptText)),
		maxOutputTokens: maxOutputTokens,
	}
}

type promptData struct {
	Input
	PlansJSON string
}

// Prompt renders the batch drafting prompt.
func (d *Drafter) Prompt(in Input) (string, error) {
	if strings.TrimSpace(in.Facts) == "" {
		in.Facts = "No external facts provided."
	}
	if in.Topic == "" {
		in.Topic = in.Req.Topic
	}
	plans, err := json.MarshalIndent(in.Plans, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode plans: %w", err)
	}
	var sb strings.Builder
	if err := d.tmpl.Execute(&sb, promptData{Input: in, PlansJSON: string(plans)}); err != nil {
		return "", fmt.Errorf("render draft prompt: %w", err)
	}
	return sb.String(), nil
}

// Draft issues exactly one LLM call for all plans. The batch succeeds or
// fails as a whole.
func (d *Drafter) Draft(ctx context.Context, client contracts.LLMClient, in Input) (*Result, error) {
	prompt, err := d.Prompt(in)
	if err != nil {
		return nil, err
	}

	res, err := client.Generate(ctx, prompt, models.GenerateOptions{
		Temperature:     in.Req.Temperature,
		Seed:            in.Req.Seed,
		MaxOutputTokens: d.maxOutputTokens,
		JSON:            true,
	})
	if err != nil {
		return nil, err
	}
	out := &Result{}
	out.Usage.Add(res)

	drafts, err := Parse(res.Text, in.Plans, in.Req)
	if err != nil {
		return out, err
	}
	out.Drafts = drafts
	return out, nil
}

type rawPost struct {
	ID       any    `json:"id"`
	Content  string `json:"content"`
	Hashtags any    `json:"hashtags"`
	CTA      any    `json:"cta"`
	Flags    any    `json:"flags"`
}

// Parse pairs reply posts with plans, by id first and then by position,
// and normalizes each into a Draft carrying the plan's id.
func Parse(raw string, plans []models.Plan, req models.GenerationRequest) ([]models.Draft, error) {
	var body struct {
		Posts []rawPost `json:"posts"`
	}
	if !llmjson.Into(raw, &body) {
		var arr []rawPost
		if !llmjson.Into(raw, &arr) {
			return nil, llmjson.ErrUnparsable
		}
		body.Posts = arr
	}
	if len(body.Posts) == 0 {
		return nil, ErrNoPosts
	}

	byID := make(map[int]int, len(body.Posts))
	for i, p := range body.Posts {
		if id, ok := numericID(p.ID); ok {
			if _, dup := byID[id]; !dup {
				byID[id] = i
			}
		}
	}

	used := make([]bool, len(body.Posts))
	assigned := make([]int, len(plans))
	for i, plan := range plans {
		assigned[i] = -1
		if j, ok := byID[plan.ID]; ok && !used[j] {
			assigned[i] = j
			used[j] = true
		}
	}
	next := 0
	for i := range plans {
		if assigned[i] >= 0 {
			continue
		}
		for next < len(body.Posts) && used[next] {
			next++
		}
		if next < len(body.Posts) {
			assigned[i] = next
			used[next] = true
		}
	}

	drafts := make([]models.Draft, 0, len(plans))
	for i, plan := range plans {
		idx := assigned[i]
		if idx < 0 || strings.TrimSpace(body.Posts[idx].Content) == "" {
			return nil, fmt.Errorf("%w for plan %d", ErrMissingPost, plan.ID)
		}
		drafts = append(drafts, normalize(body.Posts[idx], plan, req))
	}
	return drafts, nil
}

func normalize(p rawPost, plan models.Plan, req models.GenerationRequest) models.Draft {
	d := models.Draft{
		ID:      plan.ID,
		Content: strings.TrimSpace(p.Content),
		Flags:   provisionalFlags(p.Flags),
	}

	d.Hashtags = []string{}
	if req.AddHashtags {
		d.Hashtags = dedupe(hashtagList(p.Hashtags))
		if len(d.Hashtags) == 0 {
			d.Hashtags = FallbackHashtags(req.Topic, req.HashtagLimit)
		}
	}

	if req.AddCTA {
		if s, ok := p.CTA.(string); ok {
			d.CTA = strings.TrimSpace(s)
		}
		if d.CTA == "" {
			d.CTA = CTAFor(req.CTAStyle, plan.ID)
		}
	}

	if req.IncludeLinks {
		d.Citations = citations.Extract(d.Content)
	}
	return d
}

// hashtagList accepts an array of strings or a whitespace separated string.
func hashtagList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(t)
	}
	return nil
}

func numericID(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// provisionalFlags reads the model's self-reported flags. Any shape it does
// not recognize yields the clean default; guardrails recompute both anyway.
func provisionalFlags(v any) models.Flags {
	f := models.Flags{RiskyClaims: []string{}}
	m, ok := v.(map[string]any)
	if !ok {
		return f
	}
	switch p := m["profanity"].(type) {
	case bool:
		f.Profanity = p
	case string:
		f.Profanity, _ = strconv.ParseBool(strings.TrimSpace(p))
	}
	switch c := m["riskyClaims"].(type) {
	case []any:
		for _, item := range c {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				f.RiskyClaims = append(f.RiskyClaims, strings.TrimSpace(s))
			}
		}
	case string:
		if s := strings.TrimSpace(c); s != "" && !noClaims[strings.ToLower(s)] {
			f.RiskyClaims = append(f.RiskyClaims, s)
		}
	}
	return f
}

var noClaims = map[string]bool{"none": true, "no": true, "false": true, "n/a": true, "[]": true}
