package router

import (
	"net/http"

	"retailsync/internal/handler"
	"retailsync/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler        *handler.Handler
	SyncHandler    *handler.SyncHandler
	StockHandler   *handler.StockHandler
	SalesHandler   *handler.SalesHandler
	CatalogHandler *handler.CatalogHandler
	AdminHandler   *handler.AdminHandler
	AuthMiddleware func(http.Handler) http.Handler
	RateLimiter    *middleware.RateLimiter
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key", "X-Client-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
		r.Get("/api/v1/health", cfg.Handler.Health)
		r.Get("/api/v1/ready", cfg.Handler.Ready)
	}

	// AUTHENTICATED routes
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.SyncHandler != nil {
				r.Post("/sync", cfg.SyncHandler.Apply)
			}

			if cfg.StockHandler != nil {
				r.Route("/stock-items", func(r chi.Router) {
					r.Get("/", cfg.StockHandler.List)
					r.Post("/", cfg.StockHandler.Create)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", cfg.StockHandler.Get)
						r.Put("/", cfg.StockHandler.Update)
						r.Delete("/", cfg.StockHandler.Delete)
						r.Get("/transactions", cfg.StockHandler.ListTransactions)
						r.Post("/transactions", cfg.StockHandler.ApplyTransaction)
						r.Get("/verify", cfg.StockHandler.Verify)
						r.Post("/rebuild", cfg.StockHandler.Rebuild)
					})
				})
			}

			if cfg.SalesHandler != nil {
				r.Post("/sales", cfg.SalesHandler.Record)
				r.Get("/sales/{id}", cfg.SalesHandler.Get)
			}

			if cfg.CatalogHandler != nil {
				r.Route("/products", func(r chi.Router) {
					r.Get("/", cfg.CatalogHandler.ListProducts)
					r.Get("/{id}", cfg.CatalogHandler.GetProduct)
					r.Put("/{id}", cfg.CatalogHandler.PutProduct)
					r.Delete("/{id}", cfg.CatalogHandler.DeleteProduct)
				})
				r.Route("/suppliers", func(r chi.Router) {
					r.Get("/", cfg.CatalogHandler.ListSuppliers)
					r.Get("/{id}", cfg.CatalogHandler.GetSupplier)
					r.Put("/{id}", cfg.CatalogHandler.PutSupplier)
					r.Delete("/{id}", cfg.CatalogHandler.DeleteSupplier)
				})
				r.Route("/customers", func(r chi.Router) {
					r.Get("/", cfg.CatalogHandler.ListCustomers)
					r.Get("/{id}", cfg.CatalogHandler.GetCustomer)
					r.Put("/{id}", cfg.CatalogHandler.PutCustomer)
					r.Delete("/{id}", cfg.CatalogHandler.DeleteCustomer)
				})
				r.Get("/stats/summary", cfg.CatalogHandler.Summary)
			}

			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Get("/audit", cfg.AdminHandler.ListAudit)
					r.Post("/receipts/prune", cfg.AdminHandler.PruneReceipts)
				})
			}
		})
	})

	return r
}
