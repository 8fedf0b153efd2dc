// Package postgres provides the Postgres-backed position store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
	"github.com/JakeFAU/github-activity-crawler/internal/storage/connect"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable holds one row per account.
const DefaultTable = "activity_positions"

// PositionStoreConfig controls the Postgres connection pool used for positions.
type PositionStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// PositionStore keeps cursors in a table. The upsert enforces the monotonic
// timestamp server-side so concurrent writers cannot move a cursor backwards.
type PositionStore struct {
	pool  pool
	table string
}

// NewPositionStore connects, waits for the database and ensures the table exists.
func NewPositionStore(ctx context.Context, cfg PositionStoreConfig, logger *zap.Logger) (*PositionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("position.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := connect.WaitReady(ctx, "postgres", pgPool.Ping, nil, logger); err != nil {
		pgPool.Close()
		return nil, err
	}
	store, err := NewPositionStoreWithPool(pgPool, cfg.Table)
	if err != nil {
		pgPool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pgPool.Close()
		return nil, err
	}
	return store, nil
}

// NewPositionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPositionStoreWithPool(p pool, table string) (*PositionStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PositionStore{pool: p, table: table}, nil
}

// EnsureSchema creates the positions table when missing.
func (s *PositionStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	account TEXT PRIMARY KEY,
	entity_tag TEXT,
	last_event_timestamp BIGINT NOT NULL DEFAULT -1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Get returns the stored position of account.
func (s *PositionStore) Get(ctx context.Context, account string) (crawler.Position, bool, error) {
	query := fmt.Sprintf(`SELECT COALESCE(entity_tag, ''), last_event_timestamp FROM %s WHERE account = $1`, s.table)
	var pos crawler.Position
	err := s.pool.QueryRow(ctx, query, account).Scan(&pos.EntityTag, &pos.LastEventTimestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Position{}, false, nil
	}
	if err != nil {
		return crawler.Position{}, false, fmt.Errorf("select position: %w", err)
	}
	return pos, true, nil
}

// Set upserts position, keeping the stored tag when none is given and the
// greater of the two timestamps.
func (s *PositionStore) Set(ctx context.Context, account string, position crawler.Position) error {
	query := fmt.Sprintf(`INSERT INTO %[1]s (account, entity_tag, last_event_timestamp, updated_at)
VALUES ($1, NULLIF($2, ''), $3, now())
ON CONFLICT (account) DO UPDATE SET
	entity_tag = COALESCE(EXCLUDED.entity_tag, %[1]s.entity_tag),
	last_event_timestamp = GREATEST(%[1]s.last_event_timestamp, EXCLUDED.last_event_timestamp),
	updated_at = now()`, s.table)
	if _, err := s.pool.Exec(ctx, query, account, position.EntityTag, position.LastEventTimestamp); err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// Delete removes the row of account.
func (s *PositionStore) Delete(ctx context.Context, account string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE account = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, account)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrPositionNotFound
	}
	return nil
}

// Close releases the pool.
func (s *PositionStore) Close() error {
	s.pool.Close()
	return nil
}
