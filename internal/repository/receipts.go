package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"retailsync/internal/model"
)

// GetReceipt returns the receipt for an entry id, or nil when the entry was
// never applied.
func (q *Queries) GetReceipt(ctx context.Context, entryID string) (*model.SyncReceipt, error) {
	var r model.SyncReceipt
	var entityType, op, status string
	err := q.queryRow(ctx, `
		SELECT entry_id, client_id, entity_type, entity_id, operation, status, applied_at
		FROM sync_receipts WHERE entry_id = ?`, entryID).
		Scan(&r.EntryID, &r.ClientID, &entityType, &r.EntityID, &op, &status, &r.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync receipt: %w", err)
	}
	r.EntityType = model.EntityType(entityType)
	r.Operation = model.Operation(op)
	r.Status = model.ApplyStatus(status)
	return &r, nil
}

// InsertReceipt records an applied entry.
func (q *Queries) InsertReceipt(ctx context.Context, r *model.SyncReceipt) error {
	_, err := q.exec(ctx, `
		INSERT INTO sync_receipts (entry_id, client_id, entity_type, entity_id, operation, status, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.EntryID, r.ClientID, string(r.EntityType), r.EntityID, string(r.Operation), string(r.Status), dbTime(r.AppliedAt))
	if err != nil {
		return fmt.Errorf("failed to insert sync receipt: %w", err)
	}
	return nil
}

// DeleteReceiptsBefore prunes receipts older than the retention window.
func (s *Store) DeleteReceiptsBefore(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := dbTime(time.Now().Add(-retention))

	res, err := s.exec(ctx, `DELETE FROM sync_receipts WHERE applied_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sync receipts: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		log.Printf("[Store] Pruned %d sync receipts (retention: %v)", deleted, retention)
	}
	return deleted, nil
}
