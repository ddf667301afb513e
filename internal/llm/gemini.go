package llm

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"github.com/postgen/postgen/pkg/models"
)

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient builds a client for the Gemini API. httpClient may be nil.
func NewGeminiClient(ctx context.Context, apiKey, model string, httpClient *http.Client) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Model() string { return g.model }

// Generate sends one prompt as a single user turn.
func (g *GeminiClient) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.LLMResult, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.Seed != nil {
		cfg.Seed = genai.Ptr(Seed32(*opts.Seed))
	}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}
	if opts.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		cfg,
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return nil, ErrEmptyResponse
	}

	var in, out, total int64
	if u := resp.UsageMetadata; u != nil {
		in = int64(u.PromptTokenCount)
		out = int64(u.CandidatesTokenCount)
		total = int64(u.TotalTokenCount)
	}
	return result(prompt, sb.String(), in, out, total), nil
}

// Seed32 narrows a seed to the int32 range Gemini accepts, saturating
// rather than wrapping.
func Seed32(seed int64) int32 {
	return int32(min(max(seed, math.MinInt32), math.MaxInt32))
}
