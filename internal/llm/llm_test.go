package llm_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/internal/llm"
	"github.com/postgen/postgen/internal/llm/llmtest"
	"github.com/postgen/postgen/pkg/models"
)

func TestRateTable_Cost(t *testing.T) {
	rt := llm.NewRateTable(map[string]float64{"custom-model": 0.00001}, 0)

	tests := []struct {
		model  string
		tokens int64
		want   float64
	}{
		{"unknown-model", 1000, 0.002},
		{"unknown-model", 1234, 0.002468},
		{"gemini-2.5-flash", 1000, 0.001},
		{"GEMINI-2.5-FLASH", 1000, 0.001},
		{"custom-model", 100, 0.001},
		{"unknown-model", 0, 0},
		{"unknown-model", 1, 0.000002},
	}
	for _, tt := range tests {
		if got := rt.Cost(tt.model, tt.tokens); got != tt.want {
			t.Errorf("Cost(%q, %d) = %v, want %v", tt.model, tt.tokens, got, tt.want)
		}
	}
}

func TestRateTable_Fallback(t *testing.T) {
	rt := llm.NewRateTable(nil, 0.00001)
	if got := rt.Rate("nope"); got != 0.00001 {
		t.Errorf("Rate(nope) = %v, want 0.00001", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := llm.EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d, want 0", got)
	}
	short := llm.EstimateTokens("hello world")
	long := llm.EstimateTokens("hello world, this sentence is quite a bit longer than the first one")
	if short <= 0 || long <= short {
		t.Errorf("EstimateTokens() short = %d, long = %d; want 0 < short < long", short, long)
	}
}

func TestWithTimeout_Expires(t *testing.T) {
	fake := llmtest.New("m", llmtest.Response{Text: "late", Delay: time.Second})
	c := llm.WithTimeout(fake, 20*time.Millisecond)

	start := time.Now()
	_, err := c.Generate(context.Background(), "p", models.GenerateOptions{})
	if !errors.Is(err, llm.ErrTimeout) {
		t.Fatalf("Generate() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Generate() returned after %v, want prompt cancellation", elapsed)
	}
}

func TestWithTimeout_CallerCancel(t *testing.T) {
	fake := llmtest.New("m", llmtest.Response{Text: "late", Delay: time.Second})
	c := llm.WithTimeout(fake, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Generate(ctx, "p", models.GenerateOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, llm.ErrTimeout) {
		t.Error("caller cancellation reported as ErrTimeout")
	}
}

func TestWithTimeout_PassesThrough(t *testing.T) {
	fake := llmtest.New("m", llmtest.Response{Text: "ok", Tokens: 7})
	c := llm.Traced(llm.WithTimeout(fake, time.Second))

	res, err := c.Generate(context.Background(), "p", models.GenerateOptions{Temperature: 0.6})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "ok" || res.TokensUsed != 7 {
		t.Errorf("Generate() = %+v", res)
	}
	if c.Model() != "m" {
		t.Errorf("Model() = %q, want m", c.Model())
	}
	if got := fake.Options(0).Temperature; got != 0.6 {
		t.Errorf("forwarded temperature = %v, want 0.6", got)
	}
}

func TestFactory_NoKey(t *testing.T) {
	f := llm.NewFactory(config.LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash"})
	if f.Configured() {
		t.Error("Configured() = true with no key")
	}
	if _, err := f.Client(context.Background(), ""); !errors.Is(err, llm.ErrNoAPIKey) {
		t.Fatalf("Client(\"\") error = %v, want ErrNoAPIKey", err)
	}
}

func TestFactory_UnknownProvider(t *testing.T) {
	f := llm.NewFactory(config.LLMConfig{Provider: "llama", APIKey: "k"})
	if _, err := f.Client(context.Background(), ""); err == nil {
		t.Fatal("Client() error = nil, want unsupported provider")
	}
}

func TestFactory_OpenAIClientsAreCachedPerKey(t *testing.T) {
	f := llm.NewFactory(config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "server"})
	ctx := context.Background()

	a, err := f.Client(ctx, "user-key")
	if err != nil {
		t.Fatalf("Client(user-key) error = %v", err)
	}
	b, _ := f.Client(ctx, "user-key")
	if a != b {
		t.Error("same key returned different clients")
	}
	s, _ := f.Client(ctx, "")
	if s == a {
		t.Error("server client and per-key client are the same instance")
	}
	if s.Model() != "gpt-4o-mini" {
		t.Errorf("Model() = %q, want gpt-4o-mini", s.Model())
	}
}

func TestSeed32(t *testing.T) {
	tests := []struct {
		in   int64
		want int32
	}{
		{42, 42},
		{-7, -7},
		{4294967338, math.MaxInt32},
		{math.MinInt64, math.MinInt32},
	}
	for _, tt := range tests {
		if got := llm.Seed32(tt.in); got != tt.want {
			t.Errorf("Seed32(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
