package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect holds the per-backend differences. Queries are written with '?'
// placeholders and rebound for backends that number them.
type dialect struct {
	name      string
	numbered  bool
	forUpdate string
	schema    []string
}

func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Queries runs statements against either the pool or one transaction.
// Inside Store.WithTx only the Queries passed to the callback may be used.
type Queries struct {
	q querier
	d *dialect
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.d.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, q.d.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.d.rebind(query), args...)
}

func (q *Queries) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := q.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Store is the server's relational store for the ledger, catalog, sales
// and sync receipts.
type Store struct {
	*Queries
	db *sql.DB
	d  *dialect
}

func newStore(db *sql.DB, d *dialect) (*Store, error) {
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &Store{Queries: &Queries{q: db, d: d}, db: db, d: d}, nil
}

// WithTx runs fn in one database transaction. The transaction commits only
// when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx, d: s.d}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Dialect names the backend (sqlite, postgres, mysql).
func (s *Store) Dialect() string {
	return s.d.name
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PoolStats reports connection pool usage.
func (s *Store) PoolStats() map[string]interface{} {
	st := s.db.Stats()
	return map[string]interface{}{
		"dialect":  s.d.name,
		"open":     st.OpenConnections,
		"in_use":   st.InUse,
		"idle":     st.Idle,
		"max_open": st.MaxOpenConnections,
	}
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	log.Printf("[Store] Closing %s connection", s.d.name)
	return s.db.Close()
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// dbTime normalises timestamps before they are written so every backend
// stores the same precision.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

type scanner interface {
	Scan(dest ...any) error
}
