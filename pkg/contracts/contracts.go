// Package contracts defines the service interfaces at the seams of the
// PostGen server.
//
// The pipeline only ever talks to these interfaces, so a vendor SDK, the
// web-scraping fact source or the usage ledger backend can be swapped in the
// wiring code (pkg/server) without touching any stage.
package contracts

import (
	"context"

	"github.com/postgen/postgen/internal/store"
	"github.com/postgen/postgen/pkg/models"
)

// UsageStore is a type alias for the internal ledger interface, exposed so
// embedding programs can provide their own backend.
type UsageStore = store.Store

// ── LLM Provider ────────────────────────────────────────────

// LLMClient is the provider boundary. Implementations unwrap their vendor
// response into models.LLMResult and nothing else leaks out.
type LLMClient interface {
	// Model returns the model identifier used for cost lookup.
	Model() string

	// Generate sends one prompt and returns the normalized result.
	Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.LLMResult, error)
}

// LLMClientFactory hands out clients. An empty apiKey selects the server's
// configured credentials; a non-empty one builds a client for that key.
type LLMClientFactory interface {
	Client(ctx context.Context, apiKey string) (LLMClient, error)
}

// ── Fact Provider ───────────────────────────────────────────

// FactProvider returns grounding text for a topic. It must not fail: any
// internal error yields an empty string.
type FactProvider interface {
	FetchFacts(ctx context.Context, topic string) string
}

// FactProviderFunc adapts a plain function to FactProvider.
type FactProviderFunc func(ctx context.Context, topic string) string

func (f FactProviderFunc) FetchFacts(ctx context.Context, topic string) string {
	return f(ctx, topic)
}

// ── Generator ───────────────────────────────────────────────

// PostGenerator runs the full pipeline for one validated request.
type PostGenerator interface {
	Run(ctx context.Context, client LLMClient, req models.GenerationRequest) (*models.GenerationResult, error)
}
