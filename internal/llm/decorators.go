package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/postgen/postgen/pkg/contracts"
	"github.com/postgen/postgen/pkg/models"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 45 * time.Second

var tracer = otel.Tracer("postgen/llm")

// ── Timeout ─────────────────────────────────────────────────

type timeoutClient struct {
	next    contracts.LLMClient
	timeout time.Duration
}

// WithTimeout wraps c so every call is cancelled after d and reported as
// ErrTimeout. The deadline holds even if the underlying SDK ignores ctx.
// Cancellation of the caller's context is reported as the context error.
func WithTimeout(c contracts.LLMClient, d time.Duration) contracts.LLMClient {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutClient{next: c, timeout: d}
}

func (t *timeoutClient) Model() string { return t.next.Model() }

func (t *timeoutClient) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.LLMResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		res *models.LLMResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := t.next.Generate(callCtx, prompt, opts)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
		}
		return o.res, o.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
	}
}

// ── Tracing ─────────────────────────────────────────────────

type tracedClient struct {
	next contracts.LLMClient
}

// Traced records a span and a debug log line for every call.
func Traced(c contracts.LLMClient) contracts.LLMClient {
	return &tracedClient{next: c}
}

func (t *tracedClient) Model() string { return t.next.Model() }

func (t *tracedClient) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.LLMResult, error) {
	ctx, span := tracer.Start(ctx, "llm.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", t.next.Model()),
			attribute.Int("llm.prompt_chars", len(prompt)),
			attribute.Float64("llm.temperature", opts.Temperature),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := t.next.Generate(ctx, prompt, opts)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("model", t.next.Model()).Dur("latency", elapsed).Msg("LLM call failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("llm.tokens.total", res.TokensUsed),
		attribute.Int64("llm.tokens.input", res.InputTokens),
		attribute.Int64("llm.tokens.output", res.OutputTokens),
	)
	log.Debug().
		Str("model", t.next.Model()).
		Int64("tokens", res.TokensUsed).
		Dur("latency", elapsed).
		Msg("LLM call completed")
	return res, nil
}
