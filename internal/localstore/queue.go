package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"retailsync/internal/model"
	"retailsync/pkg/uid"
)

// Status is the queue state of an entry. Synced entries are deleted, so
// only pending and error exist on disk.
type Status string

const (
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

// Entry is one queued local mutation waiting for server confirmation.
type Entry struct {
	Seq           int64            `json:"seq"`
	ID            string           `json:"id"`
	Operation     model.Operation  `json:"operation"`
	EntityType    model.EntityType `json:"entity_type"`
	EntityID      string           `json:"entity_id"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        Status           `json:"status"`
	Error         string           `json:"error,omitempty"`
	Retryable     bool             `json:"retryable"`
	Attempts      int              `json:"attempts"`
	LastAttemptAt *time.Time       `json:"last_attempt_at,omitempty"`
}

// NewEntry builds an entry with payload marshalled as JSON. A nil payload
// is left empty, as deletes carry none.
func NewEntry(op model.Operation, entityType model.EntityType, entityID string, payload interface{}) (*Entry, error) {
	e := &Entry{Operation: op, EntityType: entityType, EntityID: entityID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", entityType, err)
		}
		e.Payload = raw
	}
	return e, nil
}

// Key is the entity the entry mutates.
func (e *Entry) Key() model.EntityKey {
	return model.EntityKey{Type: e.EntityType, ID: e.EntityID}
}

// Held reports whether the entry failed permanently and waits for an
// operator to retry or discard it.
func (e *Entry) Held() bool {
	return e.Status == StatusError && !e.Retryable
}

// Envelope is the wire form of the entry.
func (e *Entry) Envelope(clientID string) *model.Envelope {
	return &model.Envelope{
		EntryID:    e.ID,
		Operation:  e.Operation,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Payload:    e.Payload,
		ClientID:   clientID,
		Timestamp:  e.Timestamp,
	}
}

const entryColumns = `seq, id, operation, entity_type, entity_id, payload, timestamp, status, error, retryable, attempts, last_attempt_at`

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var (
		e           Entry
		payload     string
		retryable   int
		lastAttempt sql.NullTime
	)
	if err := row.Scan(&e.Seq, &e.ID, &e.Operation, &e.EntityType, &e.EntityID, &payload,
		&e.Timestamp, &e.Status, &e.Error, &retryable, &e.Attempts, &lastAttempt); err != nil {
		return nil, err
	}
	if payload != "" {
		e.Payload = json.RawMessage(payload)
	}
	e.Retryable = retryable != 0
	if lastAttempt.Valid {
		t := lastAttempt.Time.UTC()
		e.LastAttemptAt = &t
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

// Enqueue appends e to the queue. An empty id gets a fresh uuid and a zero
// timestamp is set to now; both are written back into e. The entity's
// local record, if any, is marked pending.
func (q *Queries) Enqueue(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = q.now()
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	e.Status = StatusPending
	e.Retryable = true

	res, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_queue (id, operation, entity_type, entity_id, payload, timestamp, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Operation, e.EntityType, e.EntityID, string(e.Payload), e.Timestamp, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s %s: %w", e.Operation, e.Key(), err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read queue position: %w", err)
	}

	if _, err := q.q.ExecContext(ctx,
		`UPDATE records SET sync_state = ? WHERE entity_type = ? AND entity_id = ?`,
		SyncPending, e.EntityType, e.EntityID,
	); err != nil {
		return fmt.Errorf("failed to mark record pending: %w", err)
	}
	return nil
}

// ListPending returns every unsynced entry in FIFO order, errored ones
// included. A positive limit bounds the result.
func (q *Queries) ListPending(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM sync_queue ORDER BY seq`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Get returns one entry.
func (q *Queries) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := scanEntry(q.q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM sync_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue entry %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return e, nil
}

// Count returns the number of unsynced entries.
func (q *Queries) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// CountErrors returns the number of entries whose last attempt failed.
func (q *Queries) CountErrors(ctx context.Context) (int64, error) {
	var n int64
	if err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status = ?`, StatusError).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue errors: %w", err)
	}
	return n, nil
}

// MarkError records a failed attempt. The entry stays queued; a retryable
// one is attempted again on the next pass, the rest wait for Retry.
func (q *Queries) MarkError(ctx context.Context, id, message string, retryable bool) error {
	flag := 0
	if retryable {
		flag = 1
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?, error = ?, retryable = ?, attempts = attempts + 1, last_attempt_at = ?
		WHERE id = ?`,
		StatusError, message, flag, q.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark entry error: %w", err)
	}
	return requireRow(res, id)
}

// Retry clears an entry's error so the next pass sends it again.
func (q *Queries) Retry(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, error = '', retryable = 1 WHERE id = ?`,
		StatusPending, id,
	)
	if err != nil {
		return fmt.Errorf("failed to retry entry: %w", err)
	}
	return requireRow(res, id)
}

// MarkSynced removes a confirmed entry. When it was the entity's last
// queued entry, the local record is marked synced.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(q *Queries) error {
		return q.removeEntry(ctx, id, SyncSynced)
	})
}

// Discard drops an entry without sending it. The local record keeps its
// pending state, so the operator can see it never reached the server.
func (s *Store) Discard(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(q *Queries) error {
		return q.removeEntry(ctx, id, "")
	})
}

func (q *Queries) removeEntry(ctx context.Context, id string, settle SyncState) error {
	var entityType, entityID string
	err := q.q.QueryRowContext(ctx,
		`SELECT entity_type, entity_id FROM sync_queue WHERE id = ?`, id).Scan(&entityType, &entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("queue entry %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get queue entry: %w", err)
	}

	if _, err := q.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}
	if settle == "" {
		return nil
	}

	var remaining int64
	if err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID).Scan(&remaining); err != nil {
		return fmt.Errorf("failed to count entity entries: %w", err)
	}
	if remaining > 0 {
		return nil
	}
	if _, err := q.q.ExecContext(ctx,
		`UPDATE records SET sync_state = ? WHERE entity_type = ? AND entity_id = ?`,
		settle, entityType, entityID); err != nil {
		return fmt.Errorf("failed to settle record: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue entry %s: %w", id, model.ErrNotFound)
	}
	return nil
}
