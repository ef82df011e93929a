package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"

	"retailsync/internal/localstore"
	"retailsync/internal/model"

	"github.com/shopspring/decimal"
)

type temporaryError struct{ msg string }

func (e *temporaryError) Error() string   { return e.msg }
func (e *temporaryError) Temporary() bool { return true }

// fakeTransport answers with the error registered for an entity, if any,
// and records what it was sent.
type fakeTransport struct {
	mu     sync.Mutex
	fail   map[model.EntityKey]error
	sent   []string
	onSend func(env *model.Envelope)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: make(map[model.EntityKey]error)}
}

func (f *fakeTransport) Send(ctx context.Context, env *model.Envelope) (*model.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(env)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.sent = append(f.sent, env.EntryID)
	if err := f.fail[env.Key()]; err != nil {
		return nil, err
	}
	return &model.ApplyResult{EntryID: env.EntryID, Status: model.ApplyApplied, EntityType: env.EntityType, EntityID: env.EntityID}, nil
}

func newTestQueue(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestReconciler(q Queue, tr Transport, batch int) *Reconciler {
	return New(q, tr, Config{
		ClientID:  "register-1",
		BatchSize: batch,
		Logger:    log.New(io.Discard, "", 0),
	})
}

func enqueue(t *testing.T, q *localstore.Store, op model.Operation, typ model.EntityType, id string, payload interface{}) string {
	t.Helper()
	e, err := localstore.NewEntry(op, typ, id, payload)
	if err != nil {
		t.Fatalf("new entry: %v", err)
	}
	if err := q.Enqueue(context.Background(), e); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return e.ID
}

func product(id string) *model.Product {
	return &model.Product{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(2)}
}

func pending(t *testing.T, q *localstore.Store) []localstore.Entry {
	t.Helper()
	entries, err := q.ListPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	return entries
}

func TestDrainContinuesPastFailure(t *testing.T) {
	q := newTestQueue(t)
	tr := newFakeTransport()
	ctx := context.Background()

	var ids []string
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("p-%d", i)
		ids = append(ids, enqueue(t, q, model.OpCreate, model.EntityProduct, id, product(id)))
	}
	tr.fail[model.EntityKey{Type: model.EntityProduct, ID: "p-3"}] = &temporaryError{"server busy"}

	report, err := newTestReconciler(q, tr, 0).Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(report.Succeeded) != 4 || len(report.Failed) != 1 || report.Failed[0] != ids[2] {
		t.Fatalf("report = %+v", report)
	}
	if report.Errors[ids[2]] != "server busy" {
		t.Errorf("error = %q", report.Errors[ids[2]])
	}

	left := pending(t, q)
	if len(left) != 1 || left[0].ID != ids[2] {
		t.Fatalf("pending = %+v", left)
	}
	if left[0].Status != localstore.StatusError || !left[0].Retryable || left[0].Attempts != 1 {
		t.Errorf("failed entry = %+v", left[0])
	}

	delete(tr.fail, model.EntityKey{Type: model.EntityProduct, ID: "p-3"})
	report, err = newTestReconciler(q, tr, 0).Drain(ctx)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != ids[2] {
		t.Errorf("second report = %+v", report)
	}
	if left := pending(t, q); len(left) != 0 {
		t.Errorf("queue not empty: %+v", left)
	}
}

func TestDrainDefersDependents(t *testing.T) {
	q := newTestQueue(t)
	tr := newFakeTransport()

	customer := enqueue(t, q, model.OpCreate, model.EntityCustomer, "c-1", &model.Customer{ID: "c-1", Name: "Ada"})
	sale := enqueue(t, q, model.OpCreate, model.EntitySale, "sale-1", &model.SaleRequest{
		ID:            "sale-1",
		CustomerID:    "c-1",
		Items:         []model.SaleLine{{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.NewFromInt(2)}},
		PaymentMethod: model.PaymentCash,
	})
	unrelated := enqueue(t, q, model.OpCreate, model.EntityProduct, "p-2", product("p-2"))
	tr.fail[model.EntityKey{Type: model.EntityCustomer, ID: "c-1"}] = errors.New("connection reset")

	report, err := newTestReconciler(q, tr, 0).Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0] != customer {
		t.Errorf("failed = %v", report.Failed)
	}
	if len(report.Deferred) != 1 || report.Deferred[0] != sale {
		t.Errorf("deferred = %v", report.Deferred)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != unrelated {
		t.Errorf("succeeded = %v", report.Succeeded)
	}
	for _, id := range tr.sent {
		if id == sale {
			t.Error("sale was sent before its customer synced")
		}
	}

	// A deferred entry is untouched, not marked as failed.
	for _, e := range pending(t, q) {
		if e.ID == sale && e.Status != localstore.StatusPending {
			t.Errorf("deferred entry status = %q", e.Status)
		}
	}
}

func TestDrainKeepsPerEntityOrder(t *testing.T) {
	q := newTestQueue(t)
	tr := newFakeTransport()

	create := enqueue(t, q, model.OpCreate, model.EntityProduct, "p-1", product("p-1"))
	update := enqueue(t, q, model.OpUpdate, model.EntityProduct, "p-1", product("p-1"))
	key := model.EntityKey{Type: model.EntityProduct, ID: "p-1"}
	tr.onSend = func(env *model.Envelope) {
		if env.EntryID == create {
			tr.fail[key] = &temporaryError{"timeout"}
		}
	}

	report, err := newTestReconciler(q, tr, 0).Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(report.Deferred) != 1 || report.Deferred[0] != update {
		t.Errorf("report = %+v", report)
	}
	if len(tr.sent) != 1 {
		t.Errorf("sent = %v, want only the create", tr.sent)
	}
}

func TestDrainSkipsHeldEntries(t *testing.T) {
	q := newTestQueue(t)
	tr := newFakeTransport()
	ctx := context.Background()

	held := enqueue(t, q, model.OpCreate, model.EntityProduct, "p-1", product("p-1"))
	later := enqueue(t, q, model.OpUpdate, model.EntityProduct, "p-1", product("p-1"))
	other := enqueue(t, q, model.OpCreate, model.EntityProduct, "p-2", product("p-2"))
	if err := q.MarkError(ctx, held, "supplier s-9 not found", false); err != nil {
		t.Fatalf("mark error: %v", err)
	}

	report, err := newTestReconciler(q, tr, 0).Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(report.Held) != 1 || report.Held[0] != held {
		t.Errorf("held = %v", report.Held)
	}
	if len(report.Deferred) != 1 || report.Deferred[0] != later {
		t.Errorf("deferred = %v", report.Deferred)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != other {
		t.Errorf("succeeded = %v", report.Succeeded)
	}
	if report.Attempted() != 1 {
		t.Errorf("attempted = %d", report.Attempted())
	}

	if err := q.Retry(ctx, held); err != nil {
		t.Fatalf("retry: %v", err)
	}
	report, err = newTestReconciler(q, tr, 0).Drain(ctx)
	if err != nil {
		t.Fatalf("drain after retry: %v", err)
	}
	if len(report.Succeeded) != 2 || report.Succeeded[0] != held || report.Succeeded[1] != later {
		t.Errorf("after retry = %+v", report)
	}
}

func TestDrainMarksPermanentFailures(t *testing.T) {
	q := newTestQueue(t)
	tr := newFakeTransport()
	ctx := context.Background()

	id := enqueue(t, q, model.OpUpdate, model.EntityProduct, "p-1", product("p-1"))
	tr.fail[model.EntityKey{Type: model.EntityProduct, ID: "p-1"}] = fmt.Errorf("update p-1: %w", model.ErrNotFound)

	if _, err := newTestReconciler(q, tr, 0).Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	e, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !e.Held() {
		t.Errorf("entry not held after permanent failure: %+v", e)
	}
}

func TestDrainStopsOnCancel(t *testing.T) {
	q := newTestQueue(t)
	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := enqueue(t, q, model.OpCreate, model.EntityProduct, "p-1", product("p-1"))
	enqueue(t, q, model.OpCreate, model.EntityProduct, "p-2", product("p-2"))
	enqueue(t, q, model.OpCreate, model.EntityProduct, "p-3", product("p-3"))

	// Connectivity drops right after the first entry is confirmed.
	tr.onSend = func(env *model.Envelope) {
		if env.EntryID != first {
			cancel()
		}
	}

	report, err := newTestReconciler(q, tr, 0).Drain(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != first {
		t.Errorf("report = %+v", report)
	}
	left := pending(t, q)
	if len(left) != 2 {
		t.Fatalf("pending = %d, want 2", len(left))
	}
	for _, e := range left {
		if e.Status != localstore.StatusPending || e.Attempts != 0 {
			t.Errorf("interrupted entry was marked: %+v", e)
		}
	}
}

func TestDrainHonoursBatchSize(t *testing.T) {
	q := newTestQueue(t)
	tr := newFakeTransport()
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("p-%d", i)
		enqueue(t, q, model.OpCreate, model.EntityProduct, id, product(id))
	}

	report, err := newTestReconciler(q, tr, 2).Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(report.Succeeded) != 2 {
		t.Errorf("succeeded = %d, want 2", len(report.Succeeded))
	}
	if left := pending(t, q); len(left) != 1 {
		t.Errorf("pending = %d, want 1", len(left))
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"temporary", &temporaryError{"busy"}, true},
		{"wrapped temporary", fmt.Errorf("send: %w", &temporaryError{"busy"}), true},
		{"not found", fmt.Errorf("x: %w", model.ErrNotFound), false},
		{"conflict", model.ErrConflict, false},
		{"invalid operation", &model.InsufficientStockError{ItemID: "i", Current: 1, Requested: 2}, false},
		{"validation", &model.ValidationError{Fields: []model.FieldError{{Field: "name", Message: "required"}}}, false},
		{"unknown", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
