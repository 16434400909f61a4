// Package postgres provides the Postgres-backed entity store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type db interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements pipeline.Store on top of a pgx pool.
type Store struct {
	pool db
}

// New creates a Store backed by a new connection pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool db) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS proposals (
	id UUID PRIMARY KEY,
	case_number TEXT NOT NULL UNIQUE,
	address TEXT NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	modified TIMESTAMPTZ NOT NULL,
	complete BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	proposal_id UUID NOT NULL REFERENCES proposals(id),
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	field TEXT NOT NULL DEFAULT '',
	published TIMESTAMPTZ,
	content_path TEXT NOT NULL DEFAULT '',
	text_path TEXT NOT NULL DEFAULT '',
	text_encoding TEXT NOT NULL DEFAULT '',
	thumbnail_path TEXT NOT NULL DEFAULT '',
	UNIQUE (proposal_id, url)
)`,
	`CREATE TABLE IF NOT EXISTS images (
	id UUID PRIMARY KEY,
	proposal_id UUID NOT NULL REFERENCES proposals(id),
	document_id UUID NOT NULL REFERENCES documents(id),
	path TEXT NOT NULL,
	thumbnail_path TEXT NOT NULL DEFAULT '',
	UNIQUE (proposal_id, document_id, path)
)`,
	`CREATE TABLE IF NOT EXISTS attributes (
	proposal_id UUID NOT NULL REFERENCES proposals(id),
	handle TEXT NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	published TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (proposal_id, handle)
)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	started TIMESTAMPTZ NOT NULL,
	finished TIMESTAMPTZ,
	records_upserted INT NOT NULL DEFAULT 0,
	records_skipped INT NOT NULL DEFAULT 0,
	documents_queued INT NOT NULL DEFAULT 0,
	documents_failed INT NOT NULL DEFAULT 0,
	error_text TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS stage_results (
	batch_id TEXT NOT NULL,
	document_id UUID NOT NULL,
	image_id TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error_text TEXT NOT NULL DEFAULT '',
	attempt INT NOT NULL DEFAULT 0,
	recorded_at TIMESTAMPTZ NOT NULL
)`,
}

// EnsureSchema creates the tables when they do not exist yet. Real schema
// evolution is handled by operations tooling; this only covers first boot
// and local development.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
