package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/postgen/postgen/internal/drafter"
	"github.com/postgen/postgen/internal/llm"
	"github.com/postgen/postgen/internal/llmjson"
	"github.com/postgen/postgen/internal/planner"
)

// Failure kinds. errors.Is matches a StageError against its kind and its
// cause.
var (
	ErrPlanning = errors.New("planning failed")
	ErrDrafting = errors.New("drafting failed")
)

// ValidationError reports a request field that cannot be used.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// StageError is the single error a failed run returns.
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Details is a short client-facing reason that never includes provider
// payloads, e.g. "planning failed: timed out".
func (e *StageError) Details() string {
	return fmt.Sprintf("%s: %s", e.Kind, reason(e.Err))
}

func reason(err error) string {
	switch {
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, llm.ErrNoAPIKey):
		return "no API key configured"
	case errors.Is(err, llmjson.ErrUnparsable):
		return "model returned unparsable output"
	case errors.Is(err, planner.ErrNoPlans):
		return "model returned no plans"
	case errors.Is(err, drafter.ErrNoPosts):
		return "model returned no posts"
	case errors.Is(err, drafter.ErrMissingPost):
		return "model returned too few posts"
	case errors.Is(err, llm.ErrEmptyResponse):
		return "model returned an empty response"
	default:
		return "model call failed"
	}
}
