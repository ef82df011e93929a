package handler

import (
	"net/http"

	"retailsync/internal/model"
	"retailsync/internal/service"
	"retailsync/pkg/response"

	"github.com/go-chi/chi/v5"
)

// StockHandler serves stock items and their ledger.
type StockHandler struct {
	ledger *service.LedgerService
}

// NewStockHandler creates a new stock handler.
func NewStockHandler(ledger *service.LedgerService) *StockHandler {
	return &StockHandler{ledger: ledger}
}

// Create handles POST /api/v1/stock-items
func (h *StockHandler) Create(w http.ResponseWriter, r *http.Request) {
	var item model.StockItem
	if !decodeJSON(w, r, &item) {
		return
	}
	created, err := h.ledger.CreateStockItem(r.Context(), &item)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, created)
}

// List handles GET /api/v1/stock-items?owner_id=
func (h *StockHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.ledger.ListStockItems(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, items)
}

// Get handles GET /api/v1/stock-items/{id}
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.ledger.GetStockItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, item)
}

// Update handles PUT /api/v1/stock-items/{id}. Quantity in the body is
// ignored; use the transactions endpoint.
func (h *StockHandler) Update(w http.ResponseWriter, r *http.Request) {
	var item model.StockItem
	if !decodeJSON(w, r, &item) {
		return
	}
	item.ID = chi.URLParam(r, "id")
	stored, status, err := h.ledger.UpdateStockItem(r.Context(), &item)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]interface{}{"status": status, "item": stored})
}

// Delete handles DELETE /api/v1/stock-items/{id}
func (h *StockHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeleteStockItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// ApplyTransaction handles POST /api/v1/stock-items/{id}/transactions
func (h *StockHandler) ApplyTransaction(w http.ResponseWriter, r *http.Request) {
	var req model.TransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.StockItemID = chi.URLParam(r, "id")

	result, err := h.ledger.ApplyTransaction(r.Context(), &req)
	if err != nil {
		response.Error(w, err)
		return
	}
	if result.Replayed {
		response.OK(w, result)
		return
	}
	response.Created(w, result)
}

// ListTransactions handles GET /api/v1/stock-items/{id}/transactions
func (h *StockHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.ledger.ListTransactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, txns)
}

// Verify handles GET /api/v1/stock-items/{id}/verify
func (h *StockHandler) Verify(w http.ResponseWriter, r *http.Request) {
	check, err := h.ledger.VerifyLedger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, check)
}

// Rebuild handles POST /api/v1/stock-items/{id}/rebuild
func (h *StockHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	check, err := h.ledger.Rebuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, check)
}
