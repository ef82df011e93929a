package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"retailsync/internal/model"
	"retailsync/internal/repository"

	"github.com/shopspring/decimal"
)

type recordingAudit struct {
	repository.NopAuditLog
	entries []model.AuditEntry
}

func (a *recordingAudit) Record(_ context.Context, e *model.AuditEntry) error {
	a.entries = append(a.entries, *e)
	return nil
}

type syncFixture struct {
	store   *repository.Store
	ledger  *LedgerService
	catalog *CatalogService
	sync    *SyncService
	audit   *recordingAudit
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	store := newTestStore(t)
	stats := newTestStats(t, store)
	ledger := NewLedgerService(store, stats)
	catalog := NewCatalogService(store, stats)
	sales := NewSaleService(store, stats, model.StockPolicyAllowNegative)
	audit := &recordingAudit{}
	return &syncFixture{
		store:   store,
		ledger:  ledger,
		catalog: catalog,
		sync:    NewSyncService(store, ledger, sales, catalog, stats, audit),
		audit:   audit,
	}
}

func envelope(t *testing.T, entryID string, op model.Operation, typ model.EntityType, id string, payload any, ts time.Time) *model.Envelope {
	t.Helper()
	env := &model.Envelope{
		EntryID:    entryID,
		Operation:  op,
		EntityType: typ,
		EntityID:   id,
		ClientID:   "register-1",
		Timestamp:  ts,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		env.Payload = data
	}
	return env
}

func (f *syncFixture) apply(t *testing.T, env *model.Envelope) *model.ApplyResult {
	t.Helper()
	result, err := f.sync.Apply(context.Background(), env)
	if err != nil {
		t.Fatalf("apply %s: %v", env.EntryID, err)
	}
	return result
}

func TestSyncRedeliveredEntryAppliesOnce(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	createItem(t, f.ledger, "item-1", 10)

	env := envelope(t, "entry-1", model.OpCreate, model.EntityStockTransaction, "txn-1",
		model.TransactionRequest{StockItemID: "item-1", Type: model.TransactionOut, Quantity: 4}, time.Now())

	if r := f.apply(t, env); r.Status != model.ApplyApplied {
		t.Fatalf("first delivery: status = %q", r.Status)
	}
	r := f.apply(t, env)
	if r.Status != model.ApplyAlreadyApplied {
		t.Errorf("second delivery: status = %q, want %q", r.Status, model.ApplyAlreadyApplied)
	}

	item, err := f.ledger.GetStockItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Quantity != 6 {
		t.Errorf("quantity = %d, want 6", item.Quantity)
	}

	receipt, err := f.store.GetReceipt(ctx, "entry-1")
	if err != nil || receipt == nil {
		t.Fatalf("receipt: %v %v", receipt, err)
	}
	if receipt.ClientID != "register-1" || receipt.Status != model.ApplyApplied {
		t.Errorf("receipt = %+v", receipt)
	}
	if len(f.audit.entries) != 2 || f.audit.entries[1].Status != string(model.ApplyAlreadyApplied) {
		t.Errorf("audit entries = %+v", f.audit.entries)
	}
}

func TestSyncSaleRedeliveryUnderNewEntryID(t *testing.T) {
	f := newSyncFixture(t)
	f.product(t, "p-1", 5)

	sale := model.SaleRequest{
		Items:         []model.SaleLine{{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.NewFromInt(3)}},
		PaymentMethod: model.PaymentCash,
	}
	f.apply(t, envelope(t, "entry-1", model.OpCreate, model.EntitySale, "sale-1", sale, time.Now()))
	// The same sale queued twice under different entries is still one sale.
	r := f.apply(t, envelope(t, "entry-2", model.OpCreate, model.EntitySale, "sale-1", sale, time.Now()))
	if r.Status != model.ApplyAlreadyApplied {
		t.Errorf("status = %q, want %q", r.Status, model.ApplyAlreadyApplied)
	}
	if got := f.quantity(t, "p-1"); got != 3 {
		t.Errorf("quantity = %d, want 3", got)
	}
}

func (f *syncFixture) product(t *testing.T, id string, qty int) {
	t.Helper()
	p := model.Product{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(3), Quantity: qty}
	f.apply(t, envelope(t, "seed-"+id, model.OpCreate, model.EntityProduct, id, p, time.Now().Add(-time.Hour)))
}

func (f *syncFixture) quantity(t *testing.T, id string) int {
	t.Helper()
	p, err := f.catalog.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return p.Quantity
}

func TestSyncProductLastWriteWins(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	create := model.Product{Name: "Coffee", Price: decimal.RequireFromString("3.00"), UpdatedAt: base}
	update := model.Product{Name: "Coffee", Price: decimal.RequireFromString("3.50"), UpdatedAt: base.Add(time.Minute)}
	older := model.Product{Name: "Coffee", Price: decimal.RequireFromString("2.00"), UpdatedAt: base.Add(-time.Minute)}

	if r := f.apply(t, envelope(t, "e-1", model.OpCreate, model.EntityProduct, "p-1", create, base)); r.Status != model.ApplyApplied {
		t.Fatalf("create: %q", r.Status)
	}
	if r := f.apply(t, envelope(t, "e-2", model.OpUpdate, model.EntityProduct, "p-1", update, base.Add(time.Minute))); r.Status != model.ApplyApplied {
		t.Fatalf("update: %q", r.Status)
	}
	if r := f.apply(t, envelope(t, "e-3", model.OpUpdate, model.EntityProduct, "p-1", older, base.Add(-time.Minute))); r.Status != model.ApplyStale {
		t.Errorf("older update: status = %q, want %q", r.Status, model.ApplyStale)
	}
	// A create that arrives after a newer write was already superseded.
	if r := f.apply(t, envelope(t, "e-4", model.OpCreate, model.EntityProduct, "p-1", older, base.Add(-time.Minute))); r.Status != model.ApplyAlreadyApplied {
		t.Errorf("late create: status = %q, want %q", r.Status, model.ApplyAlreadyApplied)
	}

	p, err := f.catalog.GetProduct(ctx, "p-1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !p.Price.Equal(decimal.RequireFromString("3.50")) {
		t.Errorf("price = %s, want 3.50", p.Price)
	}
}

func TestSyncUpdateOfMissingEntity(t *testing.T) {
	f := newSyncFixture(t)
	p := model.Product{Name: "Ghost", Price: decimal.NewFromInt(1)}
	_, err := f.sync.Apply(context.Background(), envelope(t, "e-1", model.OpUpdate, model.EntityProduct, "p-missing", p, time.Now()))
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if receipt, _ := f.store.GetReceipt(context.Background(), "e-1"); receipt != nil {
		t.Error("rejected entry left a receipt")
	}
}

func TestSyncDelete(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.product(t, "p-1", 0)

	if r := f.apply(t, envelope(t, "e-1", model.OpDelete, model.EntityProduct, "p-1", nil, time.Now())); r.Status != model.ApplyApplied {
		t.Errorf("delete: %q", r.Status)
	}
	if _, err := f.catalog.GetProduct(ctx, "p-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("get deleted product: %v", err)
	}
	if r := f.apply(t, envelope(t, "e-2", model.OpDelete, model.EntityProduct, "p-1", nil, time.Now())); r.Status != model.ApplyAlreadyApplied {
		t.Errorf("delete of missing: status = %q, want %q", r.Status, model.ApplyAlreadyApplied)
	}
}

func TestSyncRejectsMalformedEnvelopes(t *testing.T) {
	f := newSyncFixture(t)
	now := time.Now()
	tests := []struct {
		name string
		env  *model.Envelope
	}{
		{"missing entry id", envelope(t, "", model.OpDelete, model.EntityProduct, "p-1", nil, now)},
		{"unknown entity", envelope(t, "e-1", model.OpDelete, "widget", "w-1", nil, now)},
		{"update of append-only ledger", envelope(t, "e-2", model.OpUpdate, model.EntityStockTransaction, "t-1",
			model.TransactionRequest{StockItemID: "i-1", Type: model.TransactionIn, Quantity: 1}, now)},
		{"missing payload", envelope(t, "e-3", model.OpCreate, model.EntityProduct, "p-1", nil, now)},
		{"invalid payload", envelope(t, "e-4", model.OpCreate, model.EntityProduct, "p-1", model.Product{Price: decimal.NewFromInt(1)}, now)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.sync.Apply(context.Background(), tt.env); !errors.Is(err, model.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestSyncStockItemCreateKeepsLedgerConsistent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	item := model.StockItem{OwnerID: "o-1", Name: "Bolt", SKU: "B-1", Quantity: 25}
	if r := f.apply(t, envelope(t, "e-1", model.OpCreate, model.EntityStockItem, "item-9", item, time.Now())); r.Status != model.ApplyApplied {
		t.Fatalf("create: %q", r.Status)
	}
	check, err := f.ledger.VerifyLedger(ctx, "item-9")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !check.Consistent || check.CachedQuantity != 25 {
		t.Errorf("check = %+v", check)
	}
}

func TestSyncProductEditKeepsOtherRegistersSales(t *testing.T) {
	f := newSyncFixture(t)
	f.product(t, "p-1", 10)

	sell := func(entryID, saleID string, qty int) {
		t.Helper()
		sale := model.SaleRequest{
			Items:         []model.SaleLine{{ProductID: "p-1", Quantity: qty, UnitPrice: decimal.NewFromInt(3)}},
			PaymentMethod: model.PaymentCard,
		}
		f.apply(t, envelope(t, entryID, model.OpCreate, model.EntitySale, saleID, sale, time.Now()))
	}
	sell("b-1", "sale-b", 3)
	sell("a-1", "sale-a", 2)

	// Register A only saw its own sale and sends its local quantity along
	// with a price change.
	edit := model.Product{Name: "Product p-1", Price: decimal.RequireFromString("3.25"), Quantity: 8, UpdatedAt: time.Now()}
	if r := f.apply(t, envelope(t, "a-2", model.OpUpdate, model.EntityProduct, "p-1", edit, time.Now())); r.Status != model.ApplyApplied {
		t.Fatalf("update: %q", r.Status)
	}

	p, err := f.catalog.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Quantity != 5 {
		t.Errorf("quantity after 5 of 10 sold = %d, want 5", p.Quantity)
	}
	if !p.Price.Equal(decimal.RequireFromString("3.25")) {
		t.Errorf("price = %s, want 3.25", p.Price)
	}
}

func TestSyncProductAdjustmentIsADelta(t *testing.T) {
	f := newSyncFixture(t)
	f.product(t, "p-1", 4)

	restock := model.Product{Name: "Product p-1", Price: decimal.NewFromInt(3), Adjustment: 6, UpdatedAt: time.Now()}
	env := envelope(t, "e-1", model.OpUpdate, model.EntityProduct, "p-1", restock, time.Now())
	f.apply(t, env)
	if r := f.apply(t, env); r.Status != model.ApplyAlreadyApplied {
		t.Errorf("redelivery: %q", r.Status)
	}
	if got := f.quantity(t, "p-1"); got != 10 {
		t.Fatalf("quantity = %d, want 10", got)
	}

	// A write-off whose descriptive fields lost to the newer edit still counts.
	old := model.Product{Name: "Old name", Price: decimal.NewFromInt(1), Adjustment: -2, UpdatedAt: time.Now().Add(-2 * time.Hour)}
	if r := f.apply(t, envelope(t, "e-2", model.OpUpdate, model.EntityProduct, "p-1", old, time.Now())); r.Status != model.ApplyApplied {
		t.Errorf("stale write-off: %q", r.Status)
	}
	p, err := f.catalog.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Quantity != 8 || p.Name != "Product p-1" {
		t.Errorf("product = %+v, want quantity 8 and the newer name", p)
	}
}
