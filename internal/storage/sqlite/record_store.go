// Package sqlite exports scraped records into an embedded SQLite database.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	// CGO-free SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/export"
	"github.com/JakeFAU/realtime-scraper/internal/id/uuid"
)

const defaultTable = "records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Row is one exported record as stored.
type Row struct {
	ID         int64  `db:"id"`
	BatchID    string `db:"batch_id"`
	ExportedAt string `db:"exported_at"`
	Record     string `db:"record"`
}

// RecordStore implements export.Sink on a SQLite file.
type RecordStore struct {
	db    *sqlx.DB
	table string
	ids   crawler.IDGenerator
	now   func() time.Time
}

// Open opens (or creates) the database at path.
func Open(ctx context.Context, path, table string) (*RecordStore, error) {
	if path == "" {
		return nil, errors.New("export.sqlite_path is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection avoids SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 30000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return &RecordStore{db: db, table: table, ids: uuid.NewPrefixed("export"), now: time.Now}, nil
}

// Close closes the database.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Export inserts records in one transaction, creating the table on first
// use. cfg.Destination overrides the configured table.
func (s *RecordStore) Export(ctx context.Context, records []map[string]any, cfg export.Config) (export.Result, error) {
	table, err := s.tableFor(cfg.Destination)
	if err != nil {
		return export.Result{}, err
	}
	batchID, err := s.ids.NewID()
	if err != nil {
		return export.Result{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return export.Result{}, fmt.Errorf("begin export: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, createTableSQL(table)); err != nil {
		return export.Result{}, fmt.Errorf("create table %s: %w", table, err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (batch_id, exported_at, record) VALUES (:batch_id, :exported_at, :record)`, table)
	exportedAt := s.now().UTC().Format(time.RFC3339Nano)
	for i, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return export.Result{}, fmt.Errorf("marshal record %d: %w", i, err)
		}
		row := Row{BatchID: batchID, ExportedAt: exportedAt, Record: string(payload)}
		if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
			return export.Result{}, fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return export.Result{}, fmt.Errorf("commit export: %w", err)
	}
	return export.Result{
		Success:     true,
		Destination: "sqlite://" + table + "?batch=" + batchID,
		RecordCount: len(records),
	}, nil
}

// Rows returns every stored row of table in insertion order.
func (s *RecordStore) Rows(ctx context.Context, table string) ([]Row, error) {
	table, err := s.tableFor(table)
	if err != nil {
		return nil, err
	}
	var rows []Row
	query := fmt.Sprintf(`SELECT id, batch_id, exported_at, record FROM %s ORDER BY id`, table)
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}
	return rows, nil
}

func (s *RecordStore) tableFor(name string) (string, error) {
	if name == "" {
		name = s.table
	}
	if !validTableName.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT NOT NULL,
	exported_at TEXT NOT NULL,
	record TEXT NOT NULL
)`, table)
}
