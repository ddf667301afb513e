package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/postgen/postgen/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Usage []*models.UsageRecord `json:"usage"`
}

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	// DataDir enables snapshot persistence to DataDir/usage.json when set.
	DataDir string
}

// MemoryStore implements Store with an append-only slice. It is the default
// ledger for local dev and tests; with a DataDir it snapshots to disk so the
// ledger survives restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	usage []*models.UsageRecord

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	m := &MemoryStore{
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}

	if opts.DataDir != "" {
		m.snapshotPath = filepath.Join(opts.DataDir, "usage.json")
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", opts.DataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().
		Str("snapshot", m.snapshotPath).
		Msg("Memory store configured")

	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

// saveSnapshot writes the ledger to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{Usage: m.usage}, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads the ledger from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	m.usage = snap.Usage
	m.mu.Unlock()

	log.Info().Int("records", len(snap.Usage)).Str("path", m.snapshotPath).Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Usage Store ─────────────────────────────────────────────

func (m *MemoryStore) RecordUsage(_ context.Context, rec *models.UsageRecord) error {
	copy := *rec
	if copy.ID == "" {
		copy.ID = uuid.NewString()
	}
	if copy.CreatedAt.IsZero() {
		copy.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.usage = append(m.usage, &copy)
	m.mu.Unlock()
	rec.ID, rec.CreatedAt = copy.ID, copy.CreatedAt
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetUsage(_ context.Context, id string) (*models.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.usage {
		if r.ID == id {
			copy := *r
			return &copy, nil
		}
	}
	return nil, &ErrNotFound{Entity: "usage record", Key: id}
}

func (m *MemoryStore) ListUsage(_ context.Context, filter ListFilter) ([]models.UsageRecord, error) {
	records := m.since(filter.Since)
	if filter.Before != nil {
		kept := records[:0]
		for _, r := range records {
			if r.CreatedAt.Before(*filter.Before) {
				kept = append(kept, r)
			}
		}
		records = kept
	}
	return page(records, filter), nil
}

func (m *MemoryStore) UsageSummary(_ context.Context, since *time.Time) (*models.UsageSummary, error) {
	return summarize(m.since(since), since), nil
}

func (m *MemoryStore) PruneUsage(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	kept := m.usage[:0]
	for _, r := range m.usage {
		if !r.CreatedAt.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	removed := len(m.usage) - len(kept)
	m.usage = kept
	m.mu.Unlock()

	if removed > 0 {
		m.requestSave()
	}
	return removed, nil
}

// since returns copies of the records created at or after since.
func (m *MemoryStore) since(since *time.Time) []models.UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.UsageRecord, 0, len(m.usage))
	for _, r := range m.usage {
		if since != nil && r.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, *r)
	}
	return out
}
