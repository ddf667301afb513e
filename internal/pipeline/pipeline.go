// Package pipeline runs one generation request through its phases:
//
//	normalize → factFetch → planning → draftAndEnrich → guardrails → assemble
//
// Phases run sequentially. Planning and drafting each make exactly one LLM
// call; a failure in either aborts the run with a StageError and no posts.
// The fact provider can never fail the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/internal/drafter"
	"github.com/postgen/postgen/internal/guardrails"
	"github.com/postgen/postgen/internal/llm"
	"github.com/postgen/postgen/internal/planner"
	"github.com/postgen/postgen/pkg/contracts"
	"github.com/postgen/postgen/pkg/models"
)

var tracer = otel.Tracer("postgen/pipeline")

// Options configures a Pipeline. Zero values take sensible defaults.
type Options struct {
	Defaults        config.GenerationConfig
	Rates           *llm.RateTable
	MaxOutputTokens int
}

// Pipeline is safe for concurrent use; all per-request state lives on the
// stack of Run.
type Pipeline struct {
	facts    contracts.FactProvider
	planner  *planner.Planner
	drafter  *drafter.Drafter
	guard    *guardrails.Validator
	rates    *llm.RateTable
	defaults config.GenerationConfig
}

var _ contracts.PostGenerator = (*Pipeline)(nil)

// New creates a Pipeline. A nil facts provider behaves like one that never
// finds anything.
func New(facts contracts.FactProvider, opts Options) *Pipeline {
	if opts.Rates == nil {
		opts.Rates = llm.NewRateTable(nil, 0)
	}
	return &Pipeline{
		facts:    facts,
		planner:  planner.New(opts.MaxOutputTokens),
		drafter:  drafter.New(opts.MaxOutputTokens),
		guard:    guardrails.New(),
		rates:    opts.Rates,
		defaults: opts.Defaults,
	}
}

// Generate validates raw and runs it. Validation failures are returned as
// *ValidationError before the client is touched.
func (p *Pipeline) Generate(ctx context.Context, client contracts.LLMClient, raw *models.GenerateRequest) (*models.GenerationResult, error) {
	req, err := Validate(raw, p.defaults)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, client, req)
}

// Run executes every phase for a validated request.
func (p *Pipeline) Run(ctx context.Context, client contracts.LLMClient, req models.GenerationRequest) (*models.GenerationResult, error) {
	requestID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("postgen.request_id", requestID),
		attribute.String("postgen.model", client.Model()),
		attribute.Int("postgen.post_count", req.PostCount),
	)

	start := time.Now()
	lat := models.Latency{Stages: make(map[string]int64, 5)}
	var usage models.TokenUsage

	// ── normalize ──
	var topic, category string
	_ = p.stage(ctx, models.StageNormalize, &lat, func(context.Context) error {
		topic = NormalizeTopic(req.Topic)
		category = DetectCategory(req.Topic)
		return nil
	})

	// ── factFetch ──
	var facts string
	_ = p.stage(ctx, models.StageFactFetch, &lat, func(ctx context.Context) error {
		facts = p.fetchFacts(ctx, topic)
		return nil
	})

	// ── planning ──
	var plans []models.Plan
	err := p.stage(ctx, models.StagePlanning, &lat, func(ctx context.Context) error {
		res, err := p.planner.Plan(ctx, client, planner.Input{Req: req, Topic: topic, Category: category, Facts: facts})
		if res != nil {
			usage.Merge(res.Usage)
		}
		if err != nil {
			return &StageError{Stage: models.StagePlanning, Kind: ErrPlanning, Err: err}
		}
		plans = res.Plans
		return nil
	})
	if err != nil {
		return nil, p.fail(span, requestID, err)
	}

	// ── draftAndEnrich ──
	var drafts []models.Draft
	err = p.stage(ctx, models.StageDrafting, &lat, func(ctx context.Context) error {
		res, err := p.drafter.Draft(ctx, client, drafter.Input{Req: req, Topic: topic, Plans: plans, Facts: facts})
		if res != nil {
			usage.Merge(res.Usage)
		}
		if err != nil {
			return &StageError{Stage: models.StageDrafting, Kind: ErrDrafting, Err: err}
		}
		drafts = res.Drafts
		return nil
	})
	if err != nil {
		return nil, p.fail(span, requestID, err)
	}

	// ── guardrails ──
	var summary models.GuardrailsSummary
	_ = p.stage(ctx, models.StageGuardrails, &lat, func(context.Context) error {
		_, summary = p.guard.Apply(drafts, req.HashtagLimit)
		return nil
	})

	// ── assemble ──
	lat.TotalMs = time.Since(start).Milliseconds()
	meta := models.GenerationMeta{
		RequestID:     requestID,
		Model:         client.Model(),
		Tokens:        usage.TotalTokens,
		CostUSD:       p.rates.Cost(client.Model(), usage.TotalTokens),
		Latency:       lat,
		LLMCalls:      usage.Calls,
		TopicCategory: category,
		Guardrails:    summary,
	}

	span.SetAttributes(
		attribute.Int64("postgen.tokens", meta.Tokens),
		attribute.Float64("postgen.cost_usd", meta.CostUSD),
	)
	log.Info().
		Str("request_id", requestID).
		Str("model", meta.Model).
		Str("category", category).
		Int("posts", len(drafts)).
		Int64("tokens", meta.Tokens).
		Float64("cost_usd", meta.CostUSD).
		Int64("total_ms", lat.TotalMs).
		Int("guardrails_failed", summary.Failed).
		Msg("✅ Posts generated")

	return &models.GenerationResult{Posts: drafts, Meta: meta}, nil
}

// stage times fn under a child span and records its latency even when it
// fails.
func (p *Pipeline) stage(ctx context.Context, name string, lat *models.Latency, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	t := time.Now()
	err := fn(ctx)
	ms := time.Since(t).Milliseconds()
	lat.Stages[name] = ms

	span.SetAttributes(attribute.Int64("postgen.latency_ms", ms))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	log.Debug().Str("stage", name).Int64("ms", ms).Err(err).Msg("pipeline stage")
	return err
}

// fetchFacts never fails: provider panics are logged and treated as no facts.
func (p *Pipeline) fetchFacts(ctx context.Context, topic string) (facts string) {
	if p.facts == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("topic", topic).Str("panic", fmt.Sprint(r)).Msg("fact provider panicked, continuing without facts")
			facts = ""
		}
	}()
	return p.facts.FetchFacts(ctx, topic)
}

func (p *Pipeline) fail(span trace.Span, requestID string, err error) error {
	span.SetStatus(codes.Error, err.Error())
	log.Error().Err(err).Str("request_id", requestID).Msg("❌ Generation failed")
	return err
}
