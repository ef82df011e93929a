package handler

import (
	"net/http"

	"retailsync/internal/model"
	"retailsync/internal/service"
	"retailsync/pkg/response"

	"github.com/go-chi/chi/v5"
)

// CatalogHandler serves products, suppliers and customers.
type CatalogHandler struct {
	catalog *service.CatalogService
	stats   *service.StatsService
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(catalog *service.CatalogService, stats *service.StatsService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, stats: stats}
}

type putResult struct {
	Status model.ApplyStatus `json:"status"`
	ID     string            `json:"id"`
}

// PutProduct handles PUT /api/v1/products/{id}
func (h *CatalogHandler) PutProduct(w http.ResponseWriter, r *http.Request) {
	var p model.Product
	if !decodeJSON(w, r, &p) {
		return
	}
	p.ID = chi.URLParam(r, "id")
	status, err := h.catalog.PutProduct(r.Context(), &p)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, putResult{Status: status, ID: p.ID})
}

// GetProduct handles GET /api/v1/products/{id}
func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, p)
}

// ListProducts handles GET /api/v1/products
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, products)
}

// DeleteProduct handles DELETE /api/v1/products/{id}
func (h *CatalogHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// PutSupplier handles PUT /api/v1/suppliers/{id}
func (h *CatalogHandler) PutSupplier(w http.ResponseWriter, r *http.Request) {
	var s model.Supplier
	if !decodeJSON(w, r, &s) {
		return
	}
	s.ID = chi.URLParam(r, "id")
	status, err := h.catalog.PutSupplier(r.Context(), &s)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, putResult{Status: status, ID: s.ID})
}

// GetSupplier handles GET /api/v1/suppliers/{id}
func (h *CatalogHandler) GetSupplier(w http.ResponseWriter, r *http.Request) {
	s, err := h.catalog.GetSupplier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, s)
}

// ListSuppliers handles GET /api/v1/suppliers
func (h *CatalogHandler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.catalog.ListSuppliers(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, suppliers)
}

// DeleteSupplier handles DELETE /api/v1/suppliers/{id}
func (h *CatalogHandler) DeleteSupplier(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteSupplier(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// PutCustomer handles PUT /api/v1/customers/{id}
func (h *CatalogHandler) PutCustomer(w http.ResponseWriter, r *http.Request) {
	var c model.Customer
	if !decodeJSON(w, r, &c) {
		return
	}
	c.ID = chi.URLParam(r, "id")
	status, err := h.catalog.PutCustomer(r.Context(), &c)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, putResult{Status: status, ID: c.ID})
}

// GetCustomer handles GET /api/v1/customers/{id}
func (h *CatalogHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.catalog.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, c)
}

// ListCustomers handles GET /api/v1/customers
func (h *CatalogHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.catalog.ListCustomers(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, customers)
}

// DeleteCustomer handles DELETE /api/v1/customers/{id}
func (h *CatalogHandler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteCustomer(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// Summary handles GET /api/v1/stats/summary
func (h *CatalogHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.stats.Summary(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, sum)
}
