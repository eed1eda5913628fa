// Package store persists completed research runs to a local SQLite database
// for the history view.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a run id has no stored record.
var ErrNotFound = errors.New("research record not found")

const schema = `
CREATE TABLE IF NOT EXISTS research_runs (
    id              TEXT PRIMARY KEY,
    query           TEXT NOT NULL,
    status          TEXT NOT NULL,
    report          TEXT NOT NULL DEFAULT '',
    citation_count  INTEGER NOT NULL DEFAULT 0,
    iterations      INTEGER NOT NULL DEFAULT 0,
    elapsed_seconds REAL NOT NULL DEFAULT 0,
    created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_research_runs_created_at ON research_runs(created_at DESC);
`

// Record is one persisted research run.
type Record struct {
	ID             string    `db:"id" json:"id"`
	Query          string    `db:"query" json:"query"`
	Status         string    `db:"status" json:"status"`
	Report         string    `db:"report" json:"report,omitempty"`
	CitationCount  int       `db:"citation_count" json:"citation_count"`
	Iterations     int       `db:"iterations" json:"iterations"`
	ElapsedSeconds float64   `db:"elapsed_seconds" json:"elapsed_seconds"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the history database at path. Use
// ":memory:" for an ephemeral store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}
	logger.Info("History store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Save inserts or replaces a run record.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO research_runs
		    (id, query, status, report, citation_count, iterations, elapsed_seconds, created_at)
		VALUES
		    (:id, :query, :status, :report, :citation_count, :iterations, :elapsed_seconds, :created_at)`,
		rec)
	if err != nil {
		return fmt.Errorf("save research run %s: %w", rec.ID, err)
	}
	return nil
}

// Get fetches one run record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM research_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get research run %s: %w", id, err)
	}
	return &rec, nil
}

// Recent returns up to n most recent runs, newest first, without report
// bodies (the report endpoint serves those).
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		n = 20
	}
	var recs []Record
	err := s.db.SelectContext(ctx, &recs, `
		SELECT id, query, status, '' AS report, citation_count, iterations, elapsed_seconds, created_at
		FROM research_runs ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list research runs: %w", err)
	}
	return recs, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
