// Package postgres stores the dataset as a JSONB document in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultKeepSnapshots is how many replaced datasets are retained.
const DefaultKeepSnapshots = 20

const datasetName = "default"

const schema = `
CREATE TABLE IF NOT EXISTS maintrack_datasets (
    name       TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS maintrack_dataset_snapshots (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    data       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_maintrack_dataset_snapshots_name
    ON maintrack_dataset_snapshots (name, id DESC);
`

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connect parses cfg, opens the pool and verifies it with a ping.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Store implements core.DatasetStore and core.SnapshotStore.
type Store struct {
	pool *pgxpool.Pool
	keep int
}

// NewStore creates the tables if needed. keep <= 0 uses
// DefaultKeepSnapshots.
func NewStore(ctx context.Context, pool *pgxpool.Pool, keep int) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create dataset tables: %w", err)
	}
	if keep <= 0 {
		keep = DefaultKeepSnapshots
	}
	return &Store{pool: pool, keep: keep}, nil
}

func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data::text FROM maintrack_datasets WHERE name = $1`, datasetName,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	return data, nil
}

// Save replaces the dataset, keeping the previous document as a snapshot.
func (s *Store) Save(ctx context.Context, data []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO maintrack_dataset_snapshots (name, data, created_at)
		SELECT name, data, updated_at FROM maintrack_datasets WHERE name = $1`,
		datasetName)
	if err != nil {
		return fmt.Errorf("snapshot dataset: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO maintrack_datasets (name, data, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		datasetName, string(data))
	if err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM maintrack_dataset_snapshots
		WHERE name = $1 AND id NOT IN (
			SELECT id FROM maintrack_dataset_snapshots WHERE name = $1 ORDER BY id DESC LIMIT $2
		)`, datasetName, s.keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]core.SnapshotInfo, error) {
	if limit <= 0 {
		limit = s.keep
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, octet_length(data::text), created_at
		FROM maintrack_dataset_snapshots
		WHERE name = $1
		ORDER BY id DESC
		LIMIT $2`, datasetName, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.SnapshotInfo, error) {
		var (
			id   int64
			info core.SnapshotInfo
		)
		err := row.Scan(&id, &info.Size, &info.CreatedAt)
		info.ID = strconv.FormatInt(id, 10)
		return info, err
	})
}

// LoadSnapshot returns nil data when id does not name a snapshot.
func (s *Store) LoadSnapshot(ctx context.Context, id string) ([]byte, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	var data []byte
	err = s.pool.QueryRow(ctx,
		`SELECT data::text FROM maintrack_dataset_snapshots WHERE name = $1 AND id = $2`,
		datasetName, n,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return data, nil
}
