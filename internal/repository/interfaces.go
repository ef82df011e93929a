package repository

import (
	"context"

	"retailsync/internal/model"
)

// AuditFilter narrows an audit listing to one entity.
type AuditFilter struct {
	EntityType string
	EntityID   string
}

// AuditLog defines storage for the sync audit trail.
type AuditLog interface {
	// Record stores one audit entry.
	Record(ctx context.Context, entry *model.AuditEntry) error

	// List returns entries newest first with the total match count.
	List(ctx context.Context, filter AuditFilter, limit, offset int) ([]model.AuditEntry, int64, error)

	// Close releases the underlying connection.
	Close() error
}

// NopAuditLog discards audit entries. It is used when no audit store is
// configured.
type NopAuditLog struct{}

func (NopAuditLog) Record(context.Context, *model.AuditEntry) error { return nil }

func (NopAuditLog) List(context.Context, AuditFilter, int, int) ([]model.AuditEntry, int64, error) {
	return []model.AuditEntry{}, 0, nil
}

func (NopAuditLog) Close() error { return nil }

var _ AuditLog = NopAuditLog{}
