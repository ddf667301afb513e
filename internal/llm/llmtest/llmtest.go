// Package llmtest provides a scripted LLM client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/postgen/postgen/pkg/contracts"
	"github.com/postgen/postgen/pkg/models"
)

// Response is one scripted reply. A non-nil Err is returned instead of text.
// Delay blocks the call until it elapses or the context is cancelled.
type Response struct {
	Text   string
	Tokens int64
	Err    error
	Delay  time.Duration
}

// Client replays Responses in order and records every call.
type Client struct {
	ModelName string

	mu        sync.Mutex
	responses []Response
	prompts   []string
	opts      []models.GenerateOptions
}

var _ contracts.LLMClient = (*Client)(nil)

// New returns a client that answers with rs in order. Calls beyond the
// script fail.
func New(model string, rs ...Response) *Client {
	return &Client{ModelName: model, responses: rs}
}

func (c *Client) Model() string { return c.ModelName }

func (c *Client) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.LLMResult, error) {
	c.mu.Lock()
	n := len(c.prompts)
	c.prompts = append(c.prompts, prompt)
	c.opts = append(c.opts, opts)
	c.mu.Unlock()

	if n >= len(c.responses) {
		return nil, fmt.Errorf("llmtest: unexpected call %d", n+1)
	}
	r := c.responses[n]

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &models.LLMResult{Text: r.Text, TokensUsed: r.Tokens, OutputTokens: r.Tokens}, nil
}

// Calls returns how many times Generate was invoked.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

// Prompt returns the prompt of call i (0-based).
func (c *Client) Prompt(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.prompts) {
		return ""
	}
	return c.prompts[i]
}

// Options returns the options of call i (0-based).
func (c *Client) Options(i int) models.GenerateOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.opts) {
		return models.GenerateOptions{}
	}
	return c.opts[i]
}

// Factory always returns LLM, or Err when set. Keys records the API keys
// it was asked for.
type Factory struct {
	LLM *Client
	Err error

	mu   sync.Mutex
	Keys []string
}

var _ contracts.LLMClientFactory = (*Factory)(nil)

func (f *Factory) Client(_ context.Context, apiKey string) (contracts.LLMClient, error) {
	f.mu.Lock()
	f.Keys = append(f.Keys, apiKey)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.LLM, nil
}
