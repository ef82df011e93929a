package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"retailsync/internal/model"
)

// SyncState tells whether a local record has queued changes.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
)

// Record is the local copy of one entity, stored as JSON.
type Record struct {
	EntityType model.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Payload    json.RawMessage  `json:"payload"`
	UpdatedAt  time.Time        `json:"updated_at"`
	SyncState  SyncState        `json:"sync_state"`
}

// Decode unmarshals the record payload into v.
func (r *Record) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", r.EntityType, r.EntityID, err)
	}
	return nil
}

// Encode replaces the record payload with v marshalled as JSON.
func (r *Record) Encode(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", r.EntityType, r.EntityID, err)
	}
	r.Payload = raw
	return nil
}

// PutRecord inserts or replaces a record. An empty SyncState is stored as
// pending; a zero UpdatedAt is set to now.
func (q *Queries) PutRecord(ctx context.Context, r *Record) error {
	if r.SyncState == "" {
		r.SyncState = SyncPending
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = q.now()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO records (entity_type, entity_id, payload, updated_at, sync_state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			sync_state = excluded.sync_state`,
		r.EntityType, r.EntityID, string(r.Payload), r.UpdatedAt.UTC(), r.SyncState,
	)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", r.EntityType, r.EntityID, err)
	}
	return nil
}

// PutJSON marshals v and stores it as a pending record.
func (q *Queries) PutJSON(ctx context.Context, entityType model.EntityType, id string, v interface{}, updatedAt time.Time) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", entityType, id, err)
	}
	return q.PutRecord(ctx, &Record{EntityType: entityType, EntityID: id, Payload: raw, UpdatedAt: updatedAt})
}

// GetRecord returns one record.
func (q *Queries) GetRecord(ctx context.Context, entityType model.EntityType, id string) (*Record, error) {
	var (
		r       Record
		payload string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT entity_type, entity_id, payload, updated_at, sync_state
		FROM records WHERE entity_type = ? AND entity_id = ?`,
		entityType, id,
	).Scan(&r.EntityType, &r.EntityID, &payload, &r.UpdatedAt, &r.SyncState)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", entityType, id, err)
	}
	r.Payload = json.RawMessage(payload)
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// DeleteRecord removes a record. Deleting a missing record is not an error.
func (q *Queries) DeleteRecord(ctx context.Context, entityType model.EntityType, id string) error {
	if _, err := q.q.ExecContext(ctx,
		`DELETE FROM records WHERE entity_type = ? AND entity_id = ?`, entityType, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", entityType, id, err)
	}
	return nil
}

// ListRecords returns the records of one entity type, most recently
// updated first.
func (q *Queries) ListRecords(ctx context.Context, entityType model.EntityType) ([]Record, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT entity_type, entity_id, payload, updated_at, sync_state
		FROM records WHERE entity_type = ?
		ORDER BY updated_at DESC`, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", entityType, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r       Record
			payload string
		)
		if err := rows.Scan(&r.EntityType, &r.EntityID, &payload, &r.UpdatedAt, &r.SyncState); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		r.UpdatedAt = r.UpdatedAt.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}
