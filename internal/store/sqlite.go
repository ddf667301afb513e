package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/postgen/postgen/pkg/models"
)

// SQLiteStore persists the usage ledger in a SQLite database. Timestamps
// are stored as Unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and runs
// migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("SQLite store configured")
	return s, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			topic TEXT NOT NULL,
			post_count INTEGER NOT NULL,
			tokens INTEGER NOT NULL,
			cost_usd REAL NOT NULL,
			latency_ms INTEGER NOT NULL,
			client_ip TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_records(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) RecordUsage(ctx context.Context, rec *models.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, model, topic, post_count, tokens, cost_usd, latency_ms, client_ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Model, rec.Topic, rec.PostCount, rec.Tokens, rec.CostUSD, rec.LatencyMs, rec.ClientIP, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

const usageColumns = `id, model, topic, post_count, tokens, cost_usd, latency_ms, client_ip, created_at`

func scanUsage(row interface{ Scan(...any) error }) (*models.UsageRecord, error) {
	var r models.UsageRecord
	var ip sql.NullString
	var created int64
	if err := row.Scan(&r.ID, &r.Model, &r.Topic, &r.PostCount, &r.Tokens, &r.CostUSD, &r.LatencyMs, &ip, &created); err != nil {
		return nil, err
	}
	r.ClientIP = ip.String
	r.CreatedAt = time.Unix(0, created).UTC()
	return &r, nil
}

func (s *SQLiteStore) GetUsage(ctx context.Context, id string) (*models.UsageRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE id = ?`, id)
	r, err := scanUsage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "usage record", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListUsage(ctx context.Context, filter ListFilter) ([]models.UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records`
	var (
		where []string
		args  []any
	)
	if filter.Since != nil {
		where = append(where, `created_at >= ?`)
		args = append(args, filter.Since.UnixNano())
	}
	if filter.Before != nil {
		where = append(where, `created_at < ?`)
		args = append(args, filter.Before.UnixNano())
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	out := []models.UsageRecord{}
	for rows.Next() {
		r, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UsageSummary(ctx context.Context, since *time.Time) (*models.UsageSummary, error) {
	records, err := s.ListUsage(ctx, ListFilter{Since: since})
	if err != nil {
		return nil, err
	}
	return summarize(records, since), nil
}

func (s *SQLiteStore) PruneUsage(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_records WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
