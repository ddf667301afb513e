// Package retention ages out the usage ledger. The janitor periodically
// finds records older than the retention window, hands them to an archiver
// and then prunes them from the store.
//
// Archive failures are fail-safe: records are NOT pruned if archiving fails.
// Without an archiver the janitor purges directly.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/postgen/postgen/internal/store"
	"github.com/postgen/postgen/pkg/models"
)

// DefaultArchiveBatchSize is the max records per archive write.
const DefaultArchiveBatchSize = 5000

// Archiver writes expired usage records to durable storage and returns a
// URI for the written batch.
type Archiver interface {
	Kind() string
	ArchiveUsage(ctx context.Context, records []models.UsageRecord) (string, error)
	HealthCheck(ctx context.Context) error
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Cutoff   time.Time
	Expired  int
	Archived int
	Purged   int
	URIs     []string
	Errors   []error
}

// Janitor periodically archives and purges expired usage records.
type Janitor struct {
	store     store.Store
	interval  time.Duration
	retention time.Duration
	archiver  Archiver
	now       func() time.Time
}

// NewJanitor creates a janitor that keeps records for retention and sweeps
// every interval. archiver may be nil.
func NewJanitor(s store.Store, interval, retention time.Duration, archiver Archiver) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{
		store:     s,
		interval:  interval,
		retention: retention,
		archiver:  archiver,
		now:       time.Now,
	}
}

// Start runs retention cycles until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	archiver := "none"
	if j.archiver != nil {
		archiver = j.archiver.Kind()
	}
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Str("archiver", archiver).
		Msg("🧹 Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.logCycle(j.RunCycle(ctx))

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.logCycle(j.RunCycle(ctx))
		}
	}
}

// RunCycle performs one sweep and reports what it did.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	cutoff := j.now().Add(-j.retention)
	stats := CycleStats{Cutoff: cutoff}

	expired, err := j.store.ListUsage(ctx, store.ListFilter{Before: &cutoff})
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Errorf("list expired usage: %w", err))
		return stats
	}
	stats.Expired = len(expired)
	if len(expired) == 0 {
		return stats
	}

	if j.archiver != nil && !j.archive(ctx, expired, &stats) {
		log.Warn().Str("archiver", j.archiver.Kind()).Msg("Archive failed, skipping purge")
		return stats
	}

	n, err := j.store.PruneUsage(ctx, cutoff)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Errorf("prune usage: %w", err))
		return stats
	}
	stats.Purged = n
	return stats
}

// archive writes expired records in batches. It reports false if any batch
// failed.
func (j *Janitor) archive(ctx context.Context, records []models.UsageRecord, stats *CycleStats) bool {
	allOK := true
	for i := 0; i < len(records); i += DefaultArchiveBatchSize {
		end := min(i+DefaultArchiveBatchSize, len(records))
		batch := records[i:end]

		uri, err := j.archiver.ArchiveUsage(ctx, batch)
		if err != nil {
			log.Warn().Err(err).
				Str("archiver", j.archiver.Kind()).
				Int("batch_size", len(batch)).
				Msg("Failed to archive usage records")
			stats.Errors = append(stats.Errors, err)
			allOK = false
			continue
		}
		stats.Archived += len(batch)
		stats.URIs = append(stats.URIs, uri)
	}
	return allOK
}

func (j *Janitor) logCycle(stats CycleStats) {
	for _, err := range stats.Errors {
		log.Warn().Err(err).Msg("Retention cycle error")
	}
	if stats.Purged > 0 || stats.Archived > 0 {
		log.Info().
			Int("archived", stats.Archived).
			Int("purged", stats.Purged).
			Time("cutoff", stats.Cutoff).
			Msg("Retention cycle complete")
	}
}
