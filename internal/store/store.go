// Package store provides the usage ledger interface and its implementations.
// The in-memory store is the default; the SQLite store persists the ledger
// across restarts.
package store

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/postgen/postgen/pkg/models"
)

// Store is the usage ledger. Handler code depends on this interface only.
type Store interface {
	UsageStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
}

// ── Usage Store ─────────────────────────────────────────────

// UsageStore records one row per successful generation.
type UsageStore interface {
	RecordUsage(ctx context.Context, rec *models.UsageRecord) error
	GetUsage(ctx context.Context, id string) (*models.UsageRecord, error)
	ListUsage(ctx context.Context, filter ListFilter) ([]models.UsageRecord, error)
	UsageSummary(ctx context.Context, since *time.Time) (*models.UsageSummary, error)

	// PruneUsage deletes records created before cutoff and returns how many
	// were removed.
	PruneUsage(ctx context.Context, cutoff time.Time) (int, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ── Filter helpers ──────────────────────────────────────────

// ListFilter provides common pagination/filter options.
type ListFilter struct {
	Limit  int
	Offset int
	Since  *time.Time
	// Before keeps only records created strictly before it.
	Before *time.Time
}

// summarize folds records into a summary. Records are expected to be
// pre-filtered by since.
func summarize(records []models.UsageRecord, since *time.Time) *models.UsageSummary {
	sum := &models.UsageSummary{
		ByModel: make(map[string]float64),
		Since:   since,
	}
	for _, r := range records {
		sum.Requests++
		sum.TotalTokens += r.Tokens
		sum.TotalCostUSD += r.CostUSD
		sum.ByModel[r.Model] += r.CostUSD
	}
	sum.TotalCostUSD = round6(sum.TotalCostUSD)
	for m, c := range sum.ByModel {
		sum.ByModel[m] = round6(c)
	}
	return sum
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// page applies newest-first ordering plus offset/limit to records.
func page(records []models.UsageRecord, f ListFilter) []models.UsageRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(records) {
			return []models.UsageRecord{}
		}
		records = records[f.Offset:]
	}
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records
}
