// Package postgres exports scraped records into a Postgres JSONB table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/export"
	"github.com/JakeFAU/realtime-scraper/internal/id/uuid"
)

const defaultTable = "scraped_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for exported rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore writes one row per exported record and implements export.Sink.
type RecordStore struct {
	pool  pool
	table string
	ids   crawler.IDGenerator
	now   func() time.Time
}

// Open connects a pgx pool and returns a RecordStore on top of it.
func Open(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("export.postgres_dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool.
func NewWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: p, table: table, ids: uuid.NewPrefixed("export"), now: time.Now}, nil
}

// Close releases the pool.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureTable creates the export table when it does not exist.
func (s *RecordStore) EnsureTable(ctx context.Context, table string) error {
	if table == "" {
		table = s.table
	}
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	batch_id TEXT NOT NULL,
	exported_at TIMESTAMPTZ NOT NULL,
	record JSONB NOT NULL
)`, table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// Export inserts records in one transaction. cfg.Destination overrides the
// configured table.
func (s *RecordStore) Export(ctx context.Context, records []map[string]any, cfg export.Config) (export.Result, error) {
	table := s.table
	if cfg.Destination != "" {
		table = cfg.Destination
	}
	if !validTableName.MatchString(table) {
		return export.Result{}, fmt.Errorf("invalid table name %q", table)
	}
	batchID, err := s.ids.NewID()
	if err != nil {
		return export.Result{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return export.Result{}, fmt.Errorf("begin export: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`INSERT INTO %s (batch_id, exported_at, record) VALUES ($1, $2, $3)`, table)
	exportedAt := s.now().UTC()
	for i, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return export.Result{}, fmt.Errorf("marshal record %d: %w", i, err)
		}
		if _, err := tx.Exec(ctx, query, batchID, exportedAt, payload); err != nil {
			return export.Result{}, fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return export.Result{}, fmt.Errorf("commit export: %w", err)
	}
	return export.Result{
		Success:     true,
		Destination: "postgresql://" + table + "?batch=" + batchID,
		RecordCount: len(records),
	}, nil
}
