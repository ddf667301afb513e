package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/postgen/postgen/pkg/models"
)

// PostgresStore keeps the usage ledger in PostgreSQL, for deployments
// running several replicas against one ledger.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to connURL and runs migrations.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL store configured")
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS usage_records (
			id         TEXT PRIMARY KEY,
			model      TEXT NOT NULL,
			topic      TEXT NOT NULL,
			post_count INTEGER NOT NULL,
			tokens     BIGINT NOT NULL,
			cost_usd   DOUBLE PRECISION NOT NULL,
			latency_ms BIGINT NOT NULL,
			client_ip  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_records (created_at);
		CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records (model);
	`)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, rec *models.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_records (id, model, topic, post_count, tokens, cost_usd, latency_ms, client_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Model, rec.Topic, rec.PostCount, rec.Tokens, rec.CostUSD, rec.LatencyMs, rec.ClientIP, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func scanPgUsage(row pgx.Row) (*models.UsageRecord, error) {
	var r models.UsageRecord
	if err := row.Scan(&r.ID, &r.Model, &r.Topic, &r.PostCount, &r.Tokens, &r.CostUSD, &r.LatencyMs, &r.ClientIP, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, id string) (*models.UsageRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE id = $1`, id)
	r, err := scanPgUsage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "usage record", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListUsage(ctx context.Context, filter ListFilter) ([]models.UsageRecord, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	query := `SELECT ` + usageColumns + ` FROM usage_records`
	if filter.Since != nil {
		where = append(where, `created_at >= `+arg(*filter.Since))
	}
	if filter.Before != nil {
		where = append(where, `created_at < `+arg(*filter.Before))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	out := []models.UsageRecord{}
	for rows.Next() {
		r, err := scanPgUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UsageSummary(ctx context.Context, since *time.Time) (*models.UsageSummary, error) {
	records, err := s.ListUsage(ctx, ListFilter{Since: since})
	if err != nil {
		return nil, err
	}
	return summarize(records, since), nil
}

func (s *PostgresStore) PruneUsage(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM usage_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
