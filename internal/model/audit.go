package model

import "time"

// AuditEntry records the outcome of one sync envelope on the server.
type AuditEntry struct {
	EntryID    string     `json:"entry_id" bson:"entry_id"`
	ClientID   string     `json:"client_id,omitempty" bson:"client_id,omitempty"`
	Operation  Operation  `json:"operation" bson:"operation"`
	EntityType EntityType `json:"entity_type" bson:"entity_type"`
	EntityID   string     `json:"entity_id" bson:"entity_id"`
	Status     string     `json:"status" bson:"status"` // applied, already_applied, stale or rejected
	Error      string     `json:"error,omitempty" bson:"error,omitempty"`
	DurationMs int64      `json:"duration_ms" bson:"duration_ms"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
}
