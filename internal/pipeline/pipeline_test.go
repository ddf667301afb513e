package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/internal/llm"
	"github.com/postgen/postgen/internal/llm/llmtest"
	"github.com/postgen/postgen/internal/llmjson"
	"github.com/postgen/postgen/internal/pipeline"
	"github.com/postgen/postgen/pkg/contracts"
	"github.com/postgen/postgen/pkg/models"
)

var defaults = config.GenerationConfig{
	PostCount:    3,
	HashtagLimit: 5,
	Temperature:  0.6,
	Tone:         "Startup Founder",
	Audience:     "general professionals",
	Language:     "English",
	ReadingLevel: "Professional",
	CTAStyle:     "Question",
	TargetLength: "medium",
}

func plansJSON(n int) string {
	plans := make([]map[string]any, n)
	for i := range plans {
		// ids deliberately scrambled; the planner renumbers them
		plans[i] = map[string]any{"id": 100 - i, "hook": fmt.Sprintf("hook %d", i), "points": []string{"a", "b"}}
	}
	b, _ := json.Marshal(map[string]any{"plans": plans})
	return string(b)
}

func postsJSON(n, hashtags int) string {
	posts := make([]map[string]any, n)
	for i := range posts {
		tags := make([]string, hashtags)
		for j := range tags {
			tags[j] = fmt.Sprintf("#tag%d", j)
		}
		posts[i] = map[string]any{
			"id":       i + 1,
			"content":  fmt.Sprintf("Post body %d about cold starts.", i+1),
			"hashtags": tags,
			"cta":      "What do you think?",
			// model-supplied flags must not survive guardrails
			"flags": map[string]any{"profanity": true, "riskyClaims": []string{"made up"}},
		}
	}
	b, _ := json.Marshal(map[string]any{"posts": posts})
	return string(b)
}

func ptr[T any](v T) *T { return &v }

func rawRequest(topic string, k int) *models.GenerateRequest {
	r := &models.GenerateRequest{Topic: topic, AddHashtags: ptr(true), HashtagLimit: models.FlexInt{Value: 5, Set: true}}
	r.PostCount = models.FlexInt{Value: k, Set: true}
	return r
}

func newPipeline(facts contracts.FactProvider) *pipeline.Pipeline {
	return pipeline.New(facts, pipeline.Options{Defaults: defaults, Rates: llm.NewRateTable(nil, 0)})
}

func staticFacts(s string) contracts.FactProvider {
	return contracts.FactProviderFunc(func(context.Context, string) string { return s })
}

// ── End to end ──────────────────────────────────────────────

func TestGenerate_ColdStartScenario(t *testing.T) {
	fake := llmtest.New("gemini-2.5-flash-lite",
		llmtest.Response{Text: "```json\n" + plansJSON(3) + "\n```", Tokens: 400},
		llmtest.Response{Text: postsJSON(3, 7), Tokens: 1600},
	)
	p := newPipeline(staticFacts("Cold starts are hard."))

	res, err := p.Generate(context.Background(), fake, rawRequest("cold start strategies", 3))
	require.NoError(t, err)

	require.Len(t, res.Posts, 3)
	for i, post := range res.Posts {
		assert.Equal(t, i+1, post.ID)
		assert.Len(t, post.Hashtags, 5)
		assert.False(t, post.Flags.Profanity, "flags are recomputed")
		assert.Empty(t, post.Flags.RiskyClaims)
		// truncation alone does not fail guardrails
		assert.True(t, post.Flags.PassedGuardrails)
	}

	meta := res.Meta
	assert.Equal(t, 2, fake.Calls())
	assert.Equal(t, 2, meta.LLMCalls)
	assert.Equal(t, int64(2000), meta.Tokens)
	assert.InDelta(t, 0.0004, meta.CostUSD, 1e-9)
	assert.Equal(t, "gemini-2.5-flash-lite", meta.Model)
	assert.NotEmpty(t, meta.RequestID)
	assert.Equal(t, pipeline.CategoryGeneral, meta.TopicCategory)
	assert.Equal(t, 3, meta.Guardrails.Passed)
	for _, stage := range []string{
		models.StageNormalize, models.StageFactFetch, models.StagePlanning,
		models.StageDrafting, models.StageGuardrails,
	} {
		assert.Contains(t, meta.Latency.Stages, stage)
	}
	assert.Contains(t, fake.Prompt(0), "Cold starts are hard.")
	assert.Contains(t, fake.Prompt(1), "Cold starts are hard.")
}

func TestGenerate_PlanCountMatchesRequest(t *testing.T) {
	for k := 1; k <= 10; k++ {
		t.Run(fmt.Sprint(k), func(t *testing.T) {
			fake := llmtest.New("m",
				llmtest.Response{Text: plansJSON(k + 2), Tokens: 10},
				llmtest.Response{Text: postsJSON(k, 2), Tokens: 10},
			)
			res, err := newPipeline(nil).Generate(context.Background(), fake, rawRequest("topic", k))
			require.NoError(t, err)
			require.Len(t, res.Posts, k)
			for i, post := range res.Posts {
				assert.Equal(t, i+1, post.ID)
			}
		})
	}
}

func TestGenerate_UnparsablePlanFails(t *testing.T) {
	fake := llmtest.New("m", llmtest.Response{Text: "Sure! Here are some ideas for you.", Tokens: 50})

	res, err := newPipeline(nil).Generate(context.Background(), fake, rawRequest("topic", 3))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, pipeline.ErrPlanning)
	assert.ErrorIs(t, err, llmjson.ErrUnparsable)
	assert.Equal(t, 1, fake.Calls(), "drafting never starts")

	var se *pipeline.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.StagePlanning, se.Stage)
	assert.Equal(t, "planning failed: model returned unparsable output", se.Details())
}

func TestGenerate_EmptyTopicMakesNoCalls(t *testing.T) {
	fake := llmtest.New("m")
	for _, topic := range []string{"", "   ", "\x00\x01"} {
		_, err := newPipeline(nil).Generate(context.Background(), fake, rawRequest(topic, 3))
		var ve *pipeline.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "topic", ve.Field)
	}
	assert.Equal(t, 0, fake.Calls())
}

func TestGenerate_FactProviderPanicIsIsolated(t *testing.T) {
	fake := llmtest.New("m",
		llmtest.Response{Text: plansJSON(2), Tokens: 10},
		llmtest.Response{Text: postsJSON(2, 1), Tokens: 10},
	)
	boom := contracts.FactProviderFunc(func(context.Context, string) string {
		panic("search backend exploded")
	})

	res, err := newPipeline(boom).Generate(context.Background(), fake, rawRequest("remote work", 2))
	require.NoError(t, err)
	assert.Len(t, res.Posts, 2)

	prompt := fake.Prompt(0)
	assert.Contains(t, prompt, "No external facts provided.")
	assert.NotContains(t, prompt, "exploded")
}

func TestGenerate_DraftingFailureReturnsNoPosts(t *testing.T) {
	fake := llmtest.New("m",
		llmtest.Response{Text: plansJSON(3), Tokens: 10},
		llmtest.Response{Text: postsJSON(2, 1), Tokens: 10},
	)
	res, err := newPipeline(nil).Generate(context.Background(), fake, rawRequest("topic", 3))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, pipeline.ErrDrafting)

	var se *pipeline.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "drafting failed: model returned too few posts", se.Details())
}

func TestGenerate_TimeoutIsPlanningFailure(t *testing.T) {
	slow := llmtest.New("m", llmtest.Response{Text: plansJSON(1), Delay: time.Second})
	client := llm.WithTimeout(slow, 20*time.Millisecond)

	_, err := newPipeline(nil).Generate(context.Background(), client, rawRequest("topic", 1))
	assert.ErrorIs(t, err, pipeline.ErrPlanning)
	assert.ErrorIs(t, err, llm.ErrTimeout)

	var se *pipeline.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "planning failed: timed out", se.Details())
}

func TestGenerate_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := llmtest.New("m", llmtest.Response{Text: plansJSON(1), Delay: time.Second})

	_, err := newPipeline(nil).Generate(ctx, fake, rawRequest("topic", 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_CostNonDecreasingWithPostCount(t *testing.T) {
	run := func(k int) models.GenerationMeta {
		// scripted token counts grow with the requested output
		fake := llmtest.New("gpt-4o-mini",
			llmtest.Response{Text: plansJSON(k), Tokens: int64(200 + 50*k)},
			llmtest.Response{Text: postsJSON(k, 3), Tokens: int64(300 + 250*k)},
		)
		res, err := newPipeline(nil).Generate(context.Background(), fake, rawRequest("topic", k))
		require.NoError(t, err)
		return res.Meta
	}
	prev := run(1)
	for k := 2; k <= 10; k++ {
		cur := run(k)
		assert.GreaterOrEqual(t, cur.Tokens, prev.Tokens)
		assert.GreaterOrEqual(t, cur.CostUSD, prev.CostUSD)
		prev = cur
	}
}

func TestGenerate_SeedAndTemperatureForwarded(t *testing.T) {
	fake := llmtest.New("m",
		llmtest.Response{Text: plansJSON(1)},
		llmtest.Response{Text: postsJSON(1, 1)},
	)
	raw := rawRequest("topic", 1)
	raw.Seed = ptr(int64(7))
	raw.Temperature = models.FlexFloat{Value: 0.2, Set: true}

	_, err := newPipeline(nil).Generate(context.Background(), fake, raw)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		opts := fake.Options(i)
		assert.Equal(t, 0.2, opts.Temperature)
		require.NotNil(t, opts.Seed)
		assert.Equal(t, int64(7), *opts.Seed)
	}
}

func TestGenerate_GuardrailFailuresAreFlags(t *testing.T) {
	posts := `{"posts":[{"id":1,"content":"This is the fastest way to double your income overnight. Damn.","hashtags":["#ok"]}]}`
	fake := llmtest.New("m",
		llmtest.Response{Text: plansJSON(1)},
		llmtest.Response{Text: posts},
	)
	res, err := newPipeline(nil).Generate(context.Background(), fake, rawRequest("topic", 1))
	require.NoError(t, err)

	flags := res.Posts[0].Flags
	assert.True(t, flags.Profanity)
	assert.NotEmpty(t, flags.RiskyClaims)
	assert.False(t, flags.PassedGuardrails)
	assert.Equal(t, 1, res.Meta.Guardrails.Failed)
	assert.True(t, strings.HasPrefix(res.Meta.Guardrails.Issues[0], "Post 1: "))
}

func TestStageError_Unwrap(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := &pipeline.StageError{Stage: models.StageDrafting, Kind: pipeline.ErrDrafting, Err: cause}
	assert.ErrorIs(t, err, pipeline.ErrDrafting)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, pipeline.ErrPlanning)
	assert.Equal(t, "drafting failed: model call failed", err.Details())
}
