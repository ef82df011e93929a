package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"retailsync/internal/cache"
	"retailsync/internal/model"
	"retailsync/internal/repository"
)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	store, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestLedger(t *testing.T) (*LedgerService, *repository.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewLedgerService(store, newTestStats(t, store)), store
}

func newTestStats(t *testing.T, store *repository.Store) *StatsService {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	return NewStatsService(store, c, time.Minute)
}

func createItem(t *testing.T, ledger *LedgerService, id string, qty int) *model.StockItem {
	t.Helper()
	item, err := ledger.CreateStockItem(context.Background(), &model.StockItem{
		ID:       id,
		OwnerID:  "owner-1",
		Name:     "Widget " + id,
		SKU:      "SKU-" + id,
		Quantity: qty,
	})
	if err != nil {
		t.Fatalf("create item %s: %v", id, err)
	}
	return item
}

func apply(t *testing.T, ledger *LedgerService, req *model.TransactionRequest) *model.TransactionResult {
	t.Helper()
	result, err := ledger.ApplyTransaction(context.Background(), req)
	if err != nil {
		t.Fatalf("apply %s %d: %v", req.Type, req.Quantity, err)
	}
	return result
}

func intPtr(n int) *int { return &n }

func TestLedgerSequenceUpdatesQuantityAndStatus(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	item := createItem(t, ledger, "item-1", 20)
	if item.Quantity != 20 || item.Status != model.StatusInStock {
		t.Fatalf("after create: qty=%d status=%q", item.Quantity, item.Status)
	}

	steps := []struct {
		req    model.TransactionRequest
		qty    int
		status model.StockStatus
	}{
		{model.TransactionRequest{Type: model.TransactionOut, Quantity: 5}, 15, model.StatusInStock},
		{model.TransactionRequest{Type: model.TransactionOut, Quantity: 10}, 5, model.StatusLowStock},
		{model.TransactionRequest{Type: model.TransactionAdjustment, NewQuantity: intPtr(0)}, 0, model.StatusOutOfStock},
	}
	for _, step := range steps {
		req := step.req
		req.StockItemID = item.ID
		result := apply(t, ledger, &req)
		if result.Item.Quantity != step.qty {
			t.Errorf("%s: quantity = %d, want %d", req.Type, result.Item.Quantity, step.qty)
		}
		if result.Item.Status != step.status {
			t.Errorf("%s: status = %q, want %q", req.Type, result.Item.Status, step.status)
		}
	}

	stored, err := ledger.GetStockItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if stored.Quantity != 0 || stored.Status != model.StatusOutOfStock {
		t.Errorf("stored qty=%d status=%q, want 0 %q", stored.Quantity, stored.Status, model.StatusOutOfStock)
	}

	txns, err := ledger.ListTransactions(ctx, item.ID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	// The initial quantity is the first ledger row.
	if len(txns) != 4 {
		t.Fatalf("got %d transactions, want 4", len(txns))
	}
	wantPrev := []int{0, 20, 15, 5}
	wantNew := []int{20, 15, 5, 0}
	for i, txn := range txns {
		if txn.PreviousQuantity != wantPrev[i] || txn.NewQuantity != wantNew[i] {
			t.Errorf("txn %d: %d -> %d, want %d -> %d", i, txn.PreviousQuantity, txn.NewQuantity, wantPrev[i], wantNew[i])
		}
	}
	if got := model.FoldTransactions(txns); got != stored.Quantity {
		t.Errorf("fold = %d, cached = %d", got, stored.Quantity)
	}
}

func TestLedgerRejectsStockOutBelowZero(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	item := createItem(t, ledger, "item-1", 5)

	_, err := ledger.ApplyTransaction(ctx, &model.TransactionRequest{
		StockItemID: item.ID,
		Type:        model.TransactionOut,
		Quantity:    100,
	})
	if !errors.Is(err, model.ErrInvalidOperation) {
		t.Fatalf("err = %v, want ErrInvalidOperation", err)
	}
	var insufficient *model.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %T, want *InsufficientStockError", err)
	}
	if insufficient.WouldBe() != -95 {
		t.Errorf("WouldBe = %d, want -95", insufficient.WouldBe())
	}

	stored, err := ledger.GetStockItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if stored.Quantity != 5 {
		t.Errorf("quantity = %d, want 5", stored.Quantity)
	}
	txns, _ := ledger.ListTransactions(ctx, item.ID)
	if len(txns) != 1 {
		t.Errorf("got %d transactions, want only the initial one", len(txns))
	}
}

func TestLedgerValidation(t *testing.T) {
	ledger, _ := newTestLedger(t)
	item := createItem(t, ledger, "item-1", 5)

	tests := []struct {
		name string
		req  model.TransactionRequest
	}{
		{"zero quantity", model.TransactionRequest{StockItemID: item.ID, Type: model.TransactionIn}},
		{"negative quantity", model.TransactionRequest{StockItemID: item.ID, Type: model.TransactionOut, Quantity: -1}},
		{"unknown type", model.TransactionRequest{StockItemID: item.ID, Type: "transfer", Quantity: 1}},
		{"adjustment without target", model.TransactionRequest{StockItemID: item.ID, Type: model.TransactionAdjustment}},
		{"negative adjustment", model.TransactionRequest{StockItemID: item.ID, Type: model.TransactionAdjustment, NewQuantity: intPtr(-3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := ledger.ApplyTransaction(context.Background(), &req)
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestLedgerUnknownItem(t *testing.T) {
	ledger, _ := newTestLedger(t)
	_, err := ledger.ApplyTransaction(context.Background(), &model.TransactionRequest{
		StockItemID: "missing",
		Type:        model.TransactionIn,
		Quantity:    1,
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLedgerReplayedTransaction(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	item := createItem(t, ledger, "item-1", 10)

	req := model.TransactionRequest{ID: "txn-1", StockItemID: item.ID, Type: model.TransactionOut, Quantity: 3}
	first := req
	if r := apply(t, ledger, &first); r.Replayed {
		t.Fatal("first apply reported Replayed")
	}
	second := req
	r := apply(t, ledger, &second)
	if !r.Replayed {
		t.Error("second apply not reported as Replayed")
	}
	if r.Item.Quantity != 7 {
		t.Errorf("quantity = %d, want 7", r.Item.Quantity)
	}

	other := model.TransactionRequest{ID: "txn-1", StockItemID: "item-2", Type: model.TransactionIn, Quantity: 1}
	createItem(t, ledger, "item-2", 0)
	if _, err := ledger.ApplyTransaction(ctx, &other); !errors.Is(err, model.ErrConflict) {
		t.Errorf("reused id on other item: err = %v, want ErrConflict", err)
	}
}

func TestLedgerVerifyAndRebuild(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	item := createItem(t, ledger, "item-1", 12)
	apply(t, ledger, &model.TransactionRequest{StockItemID: item.ID, Type: model.TransactionIn, Quantity: 8})

	check, err := ledger.VerifyLedger(ctx, item.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !check.Consistent || check.FoldedQuantity != 20 || check.TransactionCount != 2 {
		t.Fatalf("verify = %+v", check)
	}

	// Corrupt the cached quantity behind the ledger's back.
	ok, err := store.SetStockQuantity(ctx, item.ID, 20, 99, time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("corrupt quantity: ok=%v err=%v", ok, err)
	}
	check, err = ledger.VerifyLedger(ctx, item.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if check.Consistent || check.CachedQuantity != 99 {
		t.Fatalf("verify after corruption = %+v", check)
	}

	check, err = ledger.Rebuild(ctx, item.ID)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !check.Consistent || check.CachedQuantity != 20 {
		t.Errorf("rebuild = %+v", check)
	}
	stored, _ := ledger.GetStockItem(ctx, item.ID)
	if stored.Quantity != 20 || stored.Status != model.StatusInStock {
		t.Errorf("stored qty=%d status=%q", stored.Quantity, stored.Status)
	}
}

func TestLedgerCreateConflicts(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	createItem(t, ledger, "item-1", 0)

	_, err := ledger.CreateStockItem(ctx, &model.StockItem{ID: "item-1", OwnerID: "owner-1", Name: "Dup", SKU: "OTHER"})
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("duplicate id: err = %v, want ErrConflict", err)
	}
	_, err = ledger.CreateStockItem(ctx, &model.StockItem{ID: "item-2", OwnerID: "owner-1", Name: "Dup", SKU: "SKU-item-1"})
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("duplicate sku: err = %v, want ErrConflict", err)
	}
	// The same SKU under another owner is fine.
	if _, err := ledger.CreateStockItem(ctx, &model.StockItem{ID: "item-3", OwnerID: "owner-2", Name: "Other", SKU: "SKU-item-1"}); err != nil {
		t.Errorf("sku under another owner: %v", err)
	}
}

func TestLedgerUpdateIsLastWriteWins(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	item := createItem(t, ledger, "item-1", 7)

	newer := *item
	newer.Name = "Renamed"
	newer.Quantity = 500
	newer.UpdatedAt = item.UpdatedAt.Add(time.Minute)
	stored, status, err := ledger.UpdateStockItem(ctx, &newer)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if status != model.ApplyApplied || stored.Name != "Renamed" {
		t.Errorf("update: status=%q name=%q", status, stored.Name)
	}
	if stored.Quantity != 7 {
		t.Errorf("update changed quantity to %d", stored.Quantity)
	}

	older := *item
	older.Name = "Old name"
	older.UpdatedAt = item.UpdatedAt.Add(-time.Hour)
	stored, status, err = ledger.UpdateStockItem(ctx, &older)
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if status != model.ApplyStale || stored.Name != "Renamed" {
		t.Errorf("stale update: status=%q name=%q", status, stored.Name)
	}
}

func TestLedgerDeleteRefusedWithHistory(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	withHistory := createItem(t, ledger, "item-1", 3)
	empty := createItem(t, ledger, "item-2", 0)

	if err := ledger.DeleteStockItem(ctx, withHistory.ID); !errors.Is(err, model.ErrConflict) {
		t.Errorf("delete with history: err = %v, want ErrConflict", err)
	}
	if err := ledger.DeleteStockItem(ctx, empty.ID); err != nil {
		t.Errorf("delete empty item: %v", err)
	}
	if _, err := ledger.GetStockItem(ctx, empty.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("get deleted: err = %v, want ErrNotFound", err)
	}
	if err := ledger.DeleteStockItem(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("delete missing: err = %v, want ErrNotFound", err)
	}
}

func TestWithRetryStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := withRetry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errContention
		}
		return boom
	})
	if !errors.Is(err, boom) || calls != 2 {
		t.Errorf("err=%v calls=%d", err, calls)
	}

	calls = 0
	err = withRetry(context.Background(), func() error {
		calls++
		return errContention
	})
	if !errors.Is(err, errContention) || calls != maxContentionRetries {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}
