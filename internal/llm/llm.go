// Package llm implements the provider boundary: vendor adapters that reduce
// every response to models.LLMResult, decorators for timeouts and tracing,
// a per-key client factory, token estimation and the cost rate table.
package llm

import (
	"errors"
	"strings"

	"github.com/postgen/postgen/pkg/models"
)

var (
	// ErrTimeout is returned when a call exceeds its hard deadline.
	ErrTimeout = errors.New("llm call timed out")

	// ErrNoAPIKey is returned when neither the server nor the caller supplied
	// provider credentials.
	ErrNoAPIKey = errors.New("no LLM API key configured")

	// ErrEmptyResponse is returned when the provider answered with no text.
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

// Provider names accepted by the factory.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// result builds the normalized result. When the provider did not report a
// total, tokens are estimated from the prompt and the response text.
func result(prompt, text string, in, out, total int64) *models.LLMResult {
	if total <= 0 {
		if in <= 0 {
			in = EstimateTokens(prompt)
		}
		if out <= 0 {
			out = EstimateTokens(text)
		}
		total = in + out
	}
	return &models.LLMResult{
		Text:         strings.TrimSpace(text),
		TokensUsed:   total,
		InputTokens:  in,
		OutputTokens: out,
	}
}
