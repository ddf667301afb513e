package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ── Generation Request ──────────────────────────────────────

// Length presets accepted for TargetLength.
const (
	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"
)

// FlexInt accepts a JSON number or a numeric string. A value that cannot be
// coerced is kept as Invalid instead of failing the whole body decode, so
// validation can report the offending field.
type FlexInt struct {
	Value   int
	Set     bool
	Invalid bool
}

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	*f = FlexInt{}
	v, set, ok := flexNumber(b)
	if !set {
		return nil
	}
	f.Set = true
	if !ok {
		f.Invalid = true
		return nil
	}
	// saturate so huge values clamp instead of wrapping negative
	switch {
	case v >= math.MaxInt32:
		f.Value = math.MaxInt32
	case v <= math.MinInt32:
		f.Value = math.MinInt32
	default:
		f.Value = int(v)
	}
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Invalid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(f.Value)), nil
}

// FlexFloat is the floating-point counterpart of FlexInt.
type FlexFloat struct {
	Value   float64
	Set     bool
	Invalid bool
}

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	*f = FlexFloat{}
	v, set, ok := flexNumber(b)
	if !set {
		return nil
	}
	f.Set = true
	if !ok {
		f.Invalid = true
		return nil
	}
	f.Value = v
	return nil
}

func (f FlexFloat) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Invalid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// flexNumber reads a JSON number or numeric string. set is false for null
// or an absent value; ok is false when the value is not a finite number.
func flexNumber(b []byte) (v float64, set, ok bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return 0, false, false
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return 0, true, false
		}
		raw = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		// ParseFloat reports ErrRange with ±Inf for overflow; keep the sign
		if errors.Is(err, strconv.ErrRange) && math.IsInf(v, 0) {
			return v, true, true
		}
		return 0, true, false
	}
	return v, true, true
}

// TargetLength is either a preset ("short", "medium", "long") or a word count.
type TargetLength struct {
	Preset string `json:"-"`
	Words  int    `json:"-"`
}

func (t *TargetLength) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = TargetLength{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if n, err := strconv.Atoi(s); err == nil {
			*t = TargetLength{Words: n}
			return nil
		}
		*t = TargetLength{Preset: s}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("targetLength: %w", err)
	}
	*t = TargetLength{Words: int(f)}
	return nil
}

func (t TargetLength) MarshalJSON() ([]byte, error) {
	if t.Words > 0 {
		return []byte(strconv.Itoa(t.Words)), nil
	}
	return json.Marshal(t.Preset)
}

// IsZero reports whether neither a preset nor a word count was given.
func (t TargetLength) IsZero() bool { return t.Preset == "" && t.Words <= 0 }

// String renders the length the way prompts describe it.
func (t TargetLength) String() string {
	if t.Words > 0 {
		return fmt.Sprintf("~%d words", t.Words)
	}
	switch t.Preset {
	case LengthShort:
		return "short (100-150 words)"
	case LengthLong:
		return "long (250-400 words)"
	default:
		return "medium (150-250 words)"
	}
}

// GenerateRequest is the wire shape of POST /generate. Every field except
// Topic is optional; defaults are applied during validation.
type GenerateRequest struct {
	Topic        string        `json:"topic"`
	PostCount    FlexInt       `json:"postCount"`
	Tone         *string       `json:"tone,omitempty"`
	Audience     *string       `json:"audience,omitempty"`
	Language     *string       `json:"language,omitempty"`
	ReadingLevel *string       `json:"readingLevel,omitempty"`
	TargetLength *TargetLength `json:"targetLength,omitempty"`
	Length       *TargetLength `json:"length,omitempty"`
	AllowEmojis  *bool         `json:"allowEmojis,omitempty"`
	AddHashtags  *bool         `json:"addHashtags,omitempty"`
	HashtagLimit FlexInt       `json:"hashtagLimit"`
	AddCTA       *bool         `json:"addCTA,omitempty"`
	CTAStyle     *string       `json:"ctaStyle,omitempty"`
	IncludeLinks *bool         `json:"includeLinks,omitempty"`
	Temperature  FlexFloat     `json:"temperature"`
	Seed         *int64        `json:"seed,omitempty"`
	Examples     *string       `json:"examples,omitempty"`
}

// GenerationRequest is a validated request. It is built once by validation
// and only read afterwards.
type GenerationRequest struct {
	Topic        string       `json:"topic"`
	PostCount    int          `json:"postCount"`
	Tone         string       `json:"tone"`
	Audience     string       `json:"audience"`
	Language     string       `json:"language"`
	ReadingLevel string       `json:"readingLevel"`
	TargetLength TargetLength `json:"targetLength"`
	AllowEmojis  bool         `json:"allowEmojis"`
	AddHashtags  bool         `json:"addHashtags"`
	HashtagLimit int          `json:"hashtagLimit"`
	AddCTA       bool         `json:"addCTA"`
	CTAStyle     string       `json:"ctaStyle"`
	IncludeLinks bool         `json:"includeLinks"`
	Temperature  float64      `json:"temperature"`
	Seed         *int64       `json:"seed,omitempty"`
	Examples     string       `json:"examples,omitempty"`
}

// ── Plans & Drafts ──────────────────────────────────────────

// Plan is the creative brief for one post.
type Plan struct {
	ID     int      `json:"id"`
	Hook   string   `json:"hook"`
	Points []string `json:"points"`
	CTA    string   `json:"cta"`
	Angle  string   `json:"angle"`
}

// Flags carries the safety annotations of a draft.
type Flags struct {
	Profanity        bool     `json:"profanity"`
	RiskyClaims      []string `json:"riskyClaims"`
	PassedGuardrails bool     `json:"passedGuardrails"`
}

// Citation maps an inline marker like "[1]" to a source URL.
type Citation struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Draft is a fully written post.
type Draft struct {
	ID        int        `json:"id"`
	Content   string     `json:"content"`
	Hashtags  []string   `json:"hashtags"`
	CTA       string     `json:"cta"`
	Flags     Flags      `json:"flags"`
	Citations []Citation `json:"citations,omitempty"`
}

// ── Generation Meta ─────────────────────────────────────────

// Stage names used as latency keys.
const (
	StageNormalize  = "normalize"
	StageFactFetch  = "factFetch"
	StagePlanning   = "planning"
	StageDrafting   = "draftAndEnrich"
	StageGuardrails = "guardrails"
)

// Latency is the wall-clock breakdown of one request. It serializes flat:
// {"totalMs": 1234, "planning": 800, ...}.
type Latency struct {
	TotalMs int64
	Stages  map[string]int64
}

func (l Latency) MarshalJSON() ([]byte, error) {
	out := make(map[string]int64, len(l.Stages)+1)
	for k, v := range l.Stages {
		out[k] = v
	}
	out["totalMs"] = l.TotalMs
	return json.Marshal(out)
}

func (l *Latency) UnmarshalJSON(b []byte) error {
	var in map[string]int64
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	l.TotalMs = in["totalMs"]
	delete(in, "totalMs")
	l.Stages = in
	return nil
}

// GuardrailsSummary counts drafts that passed or failed guardrails.
type GuardrailsSummary struct {
	Passed int      `json:"passed"`
	Failed int      `json:"failed"`
	Issues []string `json:"issues,omitempty"`
}

// GenerationMeta is the observability record of one request.
type GenerationMeta struct {
	RequestID     string            `json:"requestId"`
	Model         string            `json:"model"`
	Tokens        int64             `json:"tokens"`
	CostUSD       float64           `json:"costUSD"`
	Latency       Latency           `json:"latency"`
	LLMCalls      int               `json:"llmCalls"`
	TopicCategory string            `json:"topicCategory,omitempty"`
	Guardrails    GuardrailsSummary `json:"guardrails"`
}

// GenerationResult is the success body of POST /generate.
type GenerationResult struct {
	Posts []Draft        `json:"posts"`
	Meta  GenerationMeta `json:"meta"`
}

// ── LLM Boundary ────────────────────────────────────────────

// GenerateOptions are forwarded verbatim to the provider.
type GenerateOptions struct {
	Temperature     float64
	Seed            *int64
	MaxOutputTokens int
	// JSON asks the provider for a JSON response when it supports it.
	JSON bool
}

// LLMResult is the only response shape stages ever see.
type LLMResult struct {
	Text         string
	TokensUsed   int64
	InputTokens  int64
	OutputTokens int64
}

// TokenUsage accumulates tokens across calls.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	Calls        int   `json:"calls"`
}

// Add folds one call result into the running usage.
func (u *TokenUsage) Add(r *LLMResult) {
	if r == nil {
		return
	}
	u.InputTokens += r.InputTokens
	u.OutputTokens += r.OutputTokens
	u.TotalTokens += r.TokensUsed
	u.Calls++
}

// Merge folds another running usage into u.
func (u *TokenUsage) Merge(o TokenUsage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
	u.Calls += o.Calls
}

// ── Usage Ledger ────────────────────────────────────────────

// UsageRecord is one successful generation as stored in the ledger.
type UsageRecord struct {
	ID        string    `json:"id" db:"id"`
	Model     string    `json:"model" db:"model"`
	Topic     string    `json:"topic" db:"topic"`
	PostCount int       `json:"post_count" db:"post_count"`
	Tokens    int64     `json:"tokens" db:"tokens"`
	CostUSD   float64   `json:"cost_usd" db:"cost_usd"`
	LatencyMs int64     `json:"latency_ms" db:"latency_ms"`
	ClientIP  string    `json:"client_ip,omitempty" db:"client_ip"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// UsageSummary aggregates the ledger.
type UsageSummary struct {
	Requests     int64              `json:"requests"`
	TotalTokens  int64              `json:"total_tokens"`
	TotalCostUSD float64            `json:"total_cost_usd"`
	ByModel      map[string]float64 `json:"by_model"`
	Since        *time.Time         `json:"since,omitempty"`
}

// ── Health ──────────────────────────────────────────────────

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Version      string            `json:"version"`
	Timestamp    time.Time         `json:"timestamp"`
}
