// Package reconciler drains the local sync queue against the server.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"retailsync/internal/localstore"
	"retailsync/internal/model"
)

// Transport delivers one envelope to the server.
type Transport interface {
	Send(ctx context.Context, env *model.Envelope) (*model.ApplyResult, error)
}

// Queue is the part of the local store a drain needs.
type Queue interface {
	ListPending(ctx context.Context, limit int) ([]localstore.Entry, error)
	MarkSynced(ctx context.Context, id string) error
	MarkError(ctx context.Context, id, message string, retryable bool) error
}

// Report summarises one drain pass by entry id.
type Report struct {
	Succeeded []string          `json:"succeeded"`
	Failed    []string          `json:"failed"`
	Deferred  []string          `json:"deferred"`
	Held      []string          `json:"held"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Attempted is the number of entries sent to the server.
func (r *Report) Attempted() int {
	return len(r.Succeeded) + len(r.Failed)
}

func (r *Report) fail(id string, err error) {
	r.Failed = append(r.Failed, id)
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[id] = err.Error()
}

// Config holds reconciler settings.
type Config struct {
	// ClientID is stamped on every envelope.
	ClientID string

	// BatchSize caps how many entries one pass sends. Zero sends all.
	BatchSize int

	Logger *log.Logger
}

// Reconciler runs drain passes. It is not safe for concurrent Drain calls;
// the scheduler guarantees one pass at a time.
type Reconciler struct {
	queue     Queue
	transport Transport
	clientID  string
	batchSize int
	logger    *log.Logger
}

// New creates a reconciler.
func New(queue Queue, transport Transport, cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[Reconciler] ", log.LstdFlags)
	}
	return &Reconciler{
		queue:     queue,
		transport: transport,
		clientID:  cfg.ClientID,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
}

// Drain sends pending entries in FIFO order. A failed entry is marked and
// the pass moves on. An entry is deferred while its entity, or an entity
// it references, has an earlier entry that is still unsynced, so
// dependents never overtake what they depend on. Cancelling ctx stops the
// pass between entries; whatever was synced stays synced.
func (r *Reconciler) Drain(ctx context.Context) (Report, error) {
	var report Report

	entries, err := r.queue.ListPending(ctx, 0)
	if err != nil {
		return report, fmt.Errorf("failed to list pending entries: %w", err)
	}
	if len(entries) == 0 {
		return report, nil
	}

	// Entities with an entry ahead that did not sync in this pass.
	blocked := make(map[model.EntityKey]bool)
	sent := 0

	for i := range entries {
		entry := &entries[i]
		key := entry.Key()

		if err := ctx.Err(); err != nil {
			r.logger.Printf("Drain interrupted after %d of %d entries", i, len(entries))
			return report, err
		}

		if entry.Held() {
			report.Held = append(report.Held, entry.ID)
			blocked[key] = true
			continue
		}

		env := entry.Envelope(r.clientID)
		payload, err := env.Decode()
		if err != nil {
			// Nothing the server can do with it either.
			r.markError(ctx, entry, err, false)
			report.fail(entry.ID, err)
			blocked[key] = true
			continue
		}

		if dep, ok := r.waitingOn(blocked, key, payload); ok {
			r.logger.Printf("Deferring %s %s: waiting on %s", entry.Operation, key, dep)
			report.Deferred = append(report.Deferred, entry.ID)
			blocked[key] = true
			continue
		}

		if r.batchSize > 0 && sent >= r.batchSize {
			break
		}
		sent++

		result, err := r.transport.Send(ctx, env)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Printf("Drain interrupted while sending %s", entry.ID)
				return report, ctx.Err()
			}
			retryable := Retryable(err)
			r.logger.Printf("Entry %s (%s %s) failed, retryable=%t: %v", entry.ID, entry.Operation, key, retryable, err)
			r.markError(ctx, entry, err, retryable)
			report.fail(entry.ID, err)
			blocked[key] = true
			continue
		}

		if result.Status != model.ApplyApplied {
			r.logger.Printf("Entry %s (%s %s) settled as %s", entry.ID, entry.Operation, key, result.Status)
		}
		if err := r.queue.MarkSynced(ctx, entry.ID); err != nil {
			// The server has it; a resend is answered from its receipt.
			r.logger.Printf("Failed to mark %s synced: %v", entry.ID, err)
			report.fail(entry.ID, err)
			blocked[key] = true
			continue
		}
		report.Succeeded = append(report.Succeeded, entry.ID)
	}

	r.logger.Printf("Drain finished: %d synced, %d failed, %d deferred, %d held",
		len(report.Succeeded), len(report.Failed), len(report.Deferred), len(report.Held))
	return report, nil
}

func (r *Reconciler) waitingOn(blocked map[model.EntityKey]bool, key model.EntityKey, payload model.Payload) (model.EntityKey, bool) {
	if blocked[key] {
		return key, true
	}
	for _, dep := range model.Dependencies(payload) {
		if blocked[dep] {
			return dep, true
		}
	}
	return model.EntityKey{}, false
}

func (r *Reconciler) markError(ctx context.Context, entry *localstore.Entry, cause error, retryable bool) {
	if err := r.queue.MarkError(ctx, entry.ID, cause.Error(), retryable); err != nil {
		r.logger.Printf("Failed to record error for %s: %v", entry.ID, err)
	}
}

// Retryable reports whether a failed send should be attempted again on
// the next pass. Rejections the server would repeat are held for an
// operator; anything else, network trouble included, is retried.
func Retryable(err error) bool {
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	switch {
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrInvalidOperation),
		errors.Is(err, model.ErrValidation):
		return false
	}
	return true
}

var _ Queue = (*localstore.Store)(nil)
