package handler

import (
	"net/http"

	"retailsync/internal/model"
	"retailsync/internal/service"
	"retailsync/pkg/response"

	"github.com/go-chi/chi/v5"
)

// SalesHandler records and reads POS sales.
type SalesHandler struct {
	sales *service.SaleService
}

// NewSalesHandler creates a new sales handler.
func NewSalesHandler(sales *service.SaleService) *SalesHandler {
	return &SalesHandler{sales: sales}
}

// Record handles POST /api/v1/sales
func (h *SalesHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req model.SaleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	receipt, err := h.sales.RecordSale(r.Context(), &req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, receipt)
}

// Get handles GET /api/v1/sales/{id}
func (h *SalesHandler) Get(w http.ResponseWriter, r *http.Request) {
	sale, err := h.sales.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, sale)
}
