// Package localstore is the point-of-sale agent's on-disk state: the
// durable sync queue and the local entity records the register works
// against while offline.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"retailsync/pkg/uid"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		operation TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT '',
		retryable INTEGER NOT NULL DEFAULT 1,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id)`,
	`CREATE TABLE IF NOT EXISTS records (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		sync_state TEXT NOT NULL DEFAULT 'pending',
		PRIMARY KEY (entity_type, entity_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_records_sync_state ON records(sync_state)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs queue and record statements against the database or an
// open transaction.
type Queries struct {
	q   querier
	now func() time.Time
}

// Store is the agent's local database.
type Store struct {
	*Queries
	db   *sql.DB
	path string
}

// Open opens (or creates) the local store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create local schema: %w", err)
		}
	}

	log.Printf("[LocalStore] Opened %s", path)
	return &Store{
		Queries: &Queries{q: db, now: utcNow},
		db:      db,
		path:    path,
	}, nil
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// WithTx runs fn in one local transaction, so record writes and the queue
// entry describing them land together or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ClientID returns the id this agent identifies itself with, generating
// and persisting one on first use.
func (s *Store) ClientID(ctx context.Context) (string, error) {
	var id string
	err := s.q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'client_id'`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read client id: %w", err)
	}

	id = uid.New()
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('client_id', ?) ON CONFLICT(key) DO NOTHING`, id); err != nil {
		return "", fmt.Errorf("failed to store client id: %w", err)
	}
	// Another process may have won the insert.
	if err := s.q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'client_id'`).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to read client id: %w", err)
	}
	return id, nil
}

// Path is the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
