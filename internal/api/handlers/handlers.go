// Package handlers implements the HTTP handlers for the PostGen server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/postgen/postgen/internal/api/middleware"
	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/internal/llm"
	"github.com/postgen/postgen/internal/pipeline"
	"github.com/postgen/postgen/internal/store"
	"github.com/postgen/postgen/pkg/contracts"
	"github.com/postgen/postgen/pkg/models"
)

const maxBodyBytes = 1 << 20

// LLMProvider hands out provider clients and checks caller keys.
type LLMProvider interface {
	contracts.LLMClientFactory
	ValidateKey(ctx context.Context, apiKey string) error
	// Configured reports whether the server has its own provider key.
	Configured() bool
	Model() string
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Config    *config.Config
	Generator contracts.PostGenerator
	LLM       LLMProvider
	Store     store.Store
}

// New creates a new Handlers instance with all dependencies.
func New(cfg *config.Config, gen contracts.PostGenerator, provider LLMProvider, s store.Store) *Handlers {
	return &Handlers{
		Config:    cfg,
		Generator: gen,
		LLM:       provider,
		Store:     s,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Generation ───────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// Generate runs the pipeline for one request.
// POST /generate
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw models.GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	req, err := pipeline.Validate(&raw, h.Config.Generation)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, err := h.LLM.Client(ctx, middleware.GetProviderKey(ctx))
	if err != nil {
		if errors.Is(err, llm.ErrNoAPIKey) {
			respondError(w, http.StatusUnauthorized, "No API key available. Send an X-API-Key header or configure a server key.")
			return
		}
		log.Error().Err(err).Msg("Failed to create model client")
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to generate posts",
			"details": "model client unavailable",
		})
		return
	}

	start := time.Now()
	res, err := h.Generator.Run(ctx, client, req)
	if err != nil {
		details := "internal error"
		var se *pipeline.StageError
		if errors.As(err, &se) {
			details = se.Details()
		}
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to generate posts",
			"details": details,
		})
		return
	}

	h.recordUsage(ctx, r, req, res, time.Since(start))
	respondJSON(w, http.StatusOK, res)
}

// recordUsage never fails the request; ledger errors are only logged.
func (h *Handlers) recordUsage(ctx context.Context, r *http.Request, req models.GenerationRequest, res *models.GenerationResult, took time.Duration) {
	if h.Store == nil {
		return
	}
	rec := &models.UsageRecord{
		ID:        res.Meta.RequestID,
		Model:     res.Meta.Model,
		Topic:     req.Topic,
		PostCount: len(res.Posts),
		Tokens:    res.Meta.Tokens,
		CostUSD:   res.Meta.CostUSD,
		LatencyMs: took.Milliseconds(),
		ClientIP:  middleware.ClientIP(r),
	}
	// detached from the request so a client disconnect does not drop the row
	if err := h.Store.RecordUsage(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Err(err).Str("request_id", rec.ID).Msg("Failed to record usage")
	}
}

// ValidateKey checks a caller-supplied provider key with a minimal call.
// POST /api/validate-key
func (h *Handlers) ValidateKey(w http.ResponseWriter, r *http.Request) {
	key := middleware.GetProviderKey(r.Context())
	if key == "" {
		respondError(w, http.StatusBadRequest, "API key is required")
		return
	}

	err := h.LLM.ValidateKey(r.Context(), key)
	if err == nil {
		respondJSON(w, http.StatusOK, map[string]any{"valid": true})
		return
	}

	msg := err.Error()
	if strings.Contains(msg, "API_KEY_INVALID") || strings.Contains(msg, "API key") ||
		strings.Contains(msg, "401") || strings.Contains(msg, "invalid_api_key") {
		log.Info().Str("key", middleware.MaskKey(key)).Msg("API key rejected by provider")
		respondJSON(w, http.StatusUnauthorized, map[string]any{"valid": false, "error": "Invalid API key"})
		return
	}

	log.Warn().Err(err).Str("key", middleware.MaskKey(key)).Msg("API key validation inconclusive")
	respondJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"warning": "Could not fully validate, but format is correct",
	})
}

// ══════════════════════════════════════════════════════════════
// ── Health & Usage ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// Health reports service status and its dependencies.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{}
	status := "ok"

	if h.LLM.Configured() {
		deps["llm"] = "configured"
	} else {
		// callers can still bring their own key
		deps["llm"] = "no server key"
	}

	if h.Config.Facts.Enabled {
		deps["facts"] = "enabled"
	} else {
		deps["facts"] = "disabled"
	}

	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			deps["store"] = "unavailable"
			status = "degraded"
		} else {
			deps["store"] = h.Config.Store.Driver
		}
	}

	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:       status,
		Dependencies: deps,
		Version:      h.Config.Version,
		Timestamp:    time.Now().UTC(),
	})
}

// Version reports the build version and the active model.
// GET /version
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version":  h.Config.Version,
		"service":  "postgen",
		"provider": h.Config.LLM.Provider,
		"model":    h.LLM.Model(),
	})
}

// Usage returns the ledger summary and the most recent records.
// GET /api/usage?since=24h&limit=20
func (h *Handlers) Usage(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		respondError(w, http.StatusNotFound, "usage ledger disabled")
		return
	}

	filter := store.ListFilter{Limit: 20}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, 500)
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := parseSince(v, time.Now())
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC 3339 or a duration like 24h")
			return
		}
		filter.Since = &since
	}

	summary, err := h.Store.UsageSummary(r.Context(), filter.Since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	records, err := h.Store.ListUsage(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []models.UsageRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"records": records,
	})
}

func parseSince(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
