package llm

import (
	"math"
	"strings"
)

// DefaultRatePerToken is the blended USD rate used for unknown models.
const DefaultRatePerToken = 0.000002

// ── Cost Tracking ───────────────────────────────────────────

// Blended USD per token (input and output averaged).
var defaultRates = map[string]float64{
	"gemini-2.5-flash-lite": 0.0000002,
	"gemini-2.5-flash":      0.000001,
	"gemini-2.5-pro":        0.000005,
	"gemini-2.0-flash":      0.0000003,
	"gpt-4o-mini":           0.0000004,
	"gpt-4o":                0.000006,
	"gpt-4.1-mini":          0.000001,
	"gpt-4.1":               0.000005,
}

// RateTable maps a model name to its USD cost per token.
type RateTable struct {
	rates    map[string]float64
	fallback float64
}

// NewRateTable returns the built-in table. overrides replace or add models;
// fallback <= 0 keeps DefaultRatePerToken.
func NewRateTable(overrides map[string]float64, fallback float64) *RateTable {
	rates := make(map[string]float64, len(defaultRates)+len(overrides))
	for m, r := range defaultRates {
		rates[m] = r
	}
	for m, r := range overrides {
		if r > 0 {
			rates[strings.ToLower(m)] = r
		}
	}
	if fallback <= 0 {
		fallback = DefaultRatePerToken
	}
	return &RateTable{rates: rates, fallback: fallback}
}

// Rate returns the per-token rate for model, or the fallback.
func (t *RateTable) Rate(model string) float64 {
	if r, ok := t.rates[strings.ToLower(model)]; ok {
		return r
	}
	return t.fallback
}

// Cost prices tokens for model, rounded to 6 decimal places.
func (t *RateTable) Cost(model string, tokens int64) float64 {
	if tokens <= 0 {
		return 0
	}
	return math.Round(float64(tokens)*t.Rate(model)*1e6) / 1e6
}
