package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"retailsync/internal/cache"
	"retailsync/internal/handler"
	"retailsync/internal/middleware"
	"retailsync/internal/model"
	"retailsync/internal/repository"
	"retailsync/internal/service"
)

const testAPIKey = "test-key"

type testServer struct {
	*httptest.Server
	store  *repository.Store
	ledger *service.LedgerService
}

func newTestServer(t *testing.T, policy model.StockPolicy) *testServer {
	t.Helper()
	store, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })

	stats := service.NewStatsService(store, c, time.Minute)
	ledger := service.NewLedgerService(store, stats)
	sales := service.NewSaleService(store, stats, policy)
	catalog := service.NewCatalogService(store, stats)
	audit := repository.NopAuditLog{}
	syncSvc := service.NewSyncService(store, ledger, sales, catalog, stats, audit)
	cleanup := service.NewCleanupScheduler(store, service.CleanupConfig{})

	r := New(Config{
		Handler:        handler.New("retailsync", "test", store),
		SyncHandler:    handler.NewSyncHandler(syncSvc),
		StockHandler:   handler.NewStockHandler(ledger),
		SalesHandler:   handler.NewSalesHandler(sales),
		CatalogHandler: handler.NewCatalogHandler(catalog, stats),
		AdminHandler:   handler.NewAdminHandler(store, stats, cleanup, audit, "memory", string(sales.Policy())),
		AuthMiddleware: middleware.NewAuthMiddleware(middleware.AuthConfig{APIKeys: []string{testAPIKey}}),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, ledger: ledger}
}

type envelopeBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelopeBody) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("X-Client-ID", "register-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out envelopeBody
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode, out
}

func decodeData(t *testing.T, body envelopeBody, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(body.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", body.Data, err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t, "")
	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	resp, err = http.Get(srv.URL + "/api/v1/stock-items")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated list status = %d", resp.StatusCode)
	}
}

func TestStockLedgerOverHTTP(t *testing.T) {
	srv := newTestServer(t, "")

	status, body := srv.do(t, http.MethodPost, "/api/v1/stock-items", model.StockItem{
		ID: "item-1", OwnerID: "o-1", Name: "Bolt", SKU: "B-1", Quantity: 20,
	})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %+v", status, body.Error)
	}

	status, body = srv.do(t, http.MethodPost, "/api/v1/stock-items/item-1/transactions", model.TransactionRequest{
		ID: "txn-1", Type: model.TransactionOut, Quantity: 5,
	})
	if status != http.StatusCreated {
		t.Fatalf("stock out: %d %+v", status, body.Error)
	}
	var result model.TransactionResult
	decodeData(t, body, &result)
	if result.Item.Quantity != 15 || result.Transaction.PreviousQuantity != 20 {
		t.Errorf("result = %+v", result)
	}

	// Replaying the same transaction id answers 200 without applying it.
	status, body = srv.do(t, http.MethodPost, "/api/v1/stock-items/item-1/transactions", model.TransactionRequest{
		ID: "txn-1", Type: model.TransactionOut, Quantity: 5,
	})
	if status != http.StatusOK {
		t.Errorf("replay: %d", status)
	}

	status, body = srv.do(t, http.MethodPost, "/api/v1/stock-items/item-1/transactions", model.TransactionRequest{
		Type: model.TransactionOut, Quantity: 100,
	})
	if status != http.StatusUnprocessableEntity || body.Error.Code != "INVALID_OPERATION" {
		t.Errorf("oversell: %d %+v", status, body.Error)
	}

	status, body = srv.do(t, http.MethodGet, "/api/v1/stock-items/item-1/verify", nil)
	if status != http.StatusOK {
		t.Fatalf("verify: %d", status)
	}
	var check model.LedgerCheck
	decodeData(t, body, &check)
	if !check.Consistent || check.CachedQuantity != 15 {
		t.Errorf("check = %+v", check)
	}

	status, body = srv.do(t, http.MethodDelete, "/api/v1/stock-items/item-1", nil)
	if status != http.StatusConflict {
		t.Errorf("delete with history: %d %+v", status, body.Error)
	}

	status, _ = srv.do(t, http.MethodGet, "/api/v1/stock-items/missing", nil)
	if status != http.StatusNotFound {
		t.Errorf("get missing: %d", status)
	}
}

func TestSyncEndpoint(t *testing.T) {
	srv := newTestServer(t, "")
	payload, _ := json.Marshal(model.Product{Name: "Tea", Quantity: 10})
	env := model.Envelope{
		EntryID:    "entry-1",
		Operation:  model.OpCreate,
		EntityType: model.EntityProduct,
		EntityID:   "p-1",
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}

	for i, want := range []model.ApplyStatus{model.ApplyApplied, model.ApplyAlreadyApplied} {
		status, body := srv.do(t, http.MethodPost, "/api/v1/sync", env)
		if status != http.StatusOK {
			t.Fatalf("delivery %d: %d %+v", i, status, body.Error)
		}
		var result model.ApplyResult
		decodeData(t, body, &result)
		if result.Status != want {
			t.Errorf("delivery %d: status = %q, want %q", i, result.Status, want)
		}
	}

	receipt, err := srv.store.GetReceipt(t.Context(), "entry-1")
	if err != nil || receipt == nil {
		t.Fatalf("receipt: %v %v", receipt, err)
	}
	if receipt.ClientID != "register-1" {
		t.Errorf("receipt client id = %q, want the X-Client-ID header", receipt.ClientID)
	}

	env.EntryID = "entry-2"
	env.Operation = model.OpUpdate
	env.EntityID = "p-missing"
	status, body := srv.do(t, http.MethodPost, "/api/v1/sync", env)
	if status != http.StatusNotFound {
		t.Errorf("update of missing: %d %+v", status, body.Error)
	}

	status, body = srv.do(t, http.MethodPost, "/api/v1/sync", map[string]string{"entry_id": "x"})
	if status != http.StatusBadRequest {
		t.Errorf("malformed envelope: %d %+v", status, body.Error)
	}
}

func TestSummaryReflectsWrites(t *testing.T) {
	srv := newTestServer(t, "")
	srv.do(t, http.MethodPut, "/api/v1/products/p-1", model.Product{Name: "Tea", Quantity: 4})

	status, body := srv.do(t, http.MethodGet, "/api/v1/stats/summary", nil)
	if status != http.StatusOK {
		t.Fatalf("summary: %d", status)
	}
	var sum model.Summary
	decodeData(t, body, &sum)
	if sum.Products != 1 {
		t.Errorf("products = %d", sum.Products)
	}

	srv.do(t, http.MethodPut, "/api/v1/products/p-2", model.Product{Name: "Coffee", Quantity: 4})
	_, body = srv.do(t, http.MethodGet, "/api/v1/stats/summary", nil)
	decodeData(t, body, &sum)
	if sum.Products != 2 {
		t.Errorf("products after second write = %d (stale cache)", sum.Products)
	}
}

func TestSalesAndCatalogOverHTTP(t *testing.T) {
	srv := newTestServer(t, model.StockPolicyEnforce)

	status, body := srv.do(t, http.MethodPut, "/api/v1/products/p-1", map[string]interface{}{
		"name": "Tea", "price": "2.50", "quantity": 3,
	})
	if status != http.StatusOK {
		t.Fatalf("put product: %d %+v", status, body.Error)
	}

	status, body = srv.do(t, http.MethodPost, "/api/v1/sales", map[string]interface{}{
		"id":             "sale-1",
		"payment_method": "cash",
		"items":          []map[string]interface{}{{"product_id": "p-1", "quantity": 2, "unit_price": "2.50"}},
	})
	if status != http.StatusCreated {
		t.Fatalf("record sale: %d %+v", status, body.Error)
	}
	var receipt model.SaleReceipt
	decodeData(t, body, &receipt)
	if receipt.SaleID != "sale-1" || receipt.Total.StringFixed(2) != "5.00" {
		t.Errorf("receipt = %+v", receipt)
	}

	status, body = srv.do(t, http.MethodGet, "/api/v1/products/p-1", nil)
	if status != http.StatusOK {
		t.Fatalf("get product: %d", status)
	}
	var p model.Product
	decodeData(t, body, &p)
	if p.Quantity != 1 {
		t.Errorf("product quantity = %d, want 1", p.Quantity)
	}

	// Two more units would take the product below zero under enforce.
	status, body = srv.do(t, http.MethodPost, "/api/v1/sales", map[string]interface{}{
		"payment_method": "card",
		"items":          []map[string]interface{}{{"product_id": "p-1", "quantity": 2, "unit_price": "2.50"}},
	})
	if status != http.StatusUnprocessableEntity {
		t.Errorf("oversell under enforce: %d %+v", status, body.Error)
	}

	status, body = srv.do(t, http.MethodPost, "/api/v1/sales", map[string]interface{}{
		"payment_method": "cash",
		"items":          []map[string]interface{}{{"product_id": "p-404", "quantity": 1, "unit_price": "1.00"}},
	})
	if status != http.StatusNotFound {
		t.Errorf("unknown product: %d %+v", status, body.Error)
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	srv := newTestServer(t, "")
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/sync", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body envelopeBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest || body.Success || body.Error.Code != "BAD_REQUEST" {
		t.Errorf("got %d %+v", resp.StatusCode, body)
	}
}
