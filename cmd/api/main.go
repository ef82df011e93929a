package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"retailsync/internal/cache"
	"retailsync/internal/config"
	"retailsync/internal/handler"
	"retailsync/internal/logging"
	"retailsync/internal/middleware"
	"retailsync/internal/model"
	"retailsync/internal/repository"
	"retailsync/internal/router"
	"retailsync/internal/service"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()
	log.Printf("Starting %s %s...", cfg.App.Name, cfg.App.Version)
	log.Printf("Environment: %s", cfg.App.Environment)

	// Initialize store based on config
	store, err := openStore(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.Database.Type, err)
	}
	defer store.Close()
	log.Printf("%s store initialized", store.Dialect())

	// Initialize cache
	var (
		c         cache.Cache
		optionals = map[string]handler.Pinger{}
	)
	switch cfg.Cache.Type {
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddress(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		if err != nil {
			log.Printf("Warning: Redis connection failed, falling back to memory cache: %v", err)
			c = cache.NewMemoryCache()
		} else {
			c = rc
			optionals["redis"] = rc
			log.Println("Redis cache initialized")
		}
	default:
		c = cache.NewMemoryCache()
	}
	defer c.Close()

	// Initialize audit trail (optional)
	var audit repository.AuditLog = repository.NopAuditLog{}
	if cfg.Audit.MongoURI != "" {
		mongoAudit, err := repository.NewMongoAuditLog(cfg.Audit.MongoURI, cfg.Audit.MongoDatabase, cfg.Audit.MongoCollection)
		if err != nil {
			log.Printf("Warning: MongoDB audit log unavailable: %v", err)
		} else {
			audit = mongoAudit
			optionals["audit"] = mongoAudit
			log.Println("MongoDB audit log initialized")
		}
	}
	defer audit.Close()

	// Initialize services
	policy := model.StockPolicy(cfg.Sync.SaleStockPolicy)
	statsService := service.NewStatsService(store, c, cfg.Cache.TTL)
	ledgerService := service.NewLedgerService(store, statsService)
	saleService := service.NewSaleService(store, statsService, policy)
	catalogService := service.NewCatalogService(store, statsService)
	syncService := service.NewSyncService(store, ledgerService, saleService, catalogService, statsService, audit)

	cleanup := service.NewCleanupScheduler(store, service.CleanupConfig{
		Retention: cfg.Sync.ReceiptRetention,
		Interval:  cfg.Sync.CleanupInterval,
	})
	cleanup.Start()

	// Initialize handlers
	healthHandler := handler.New(cfg.App.Name, cfg.App.Version, store)
	for name, p := range optionals {
		healthHandler.WithOptional(name, p)
	}
	adminHandler := handler.NewAdminHandler(store, statsService, cleanup, audit, cfg.Cache.Type, string(policy))

	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		APIKeys: cfg.App.APIKeys,
	})
	if len(cfg.App.APIKeys) == 0 {
		if cfg.App.IsProduction() {
			log.Fatal("API_KEYS must be set in production")
		}
		log.Println("Warning: API_KEYS is empty, authentication is disabled")
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	// Create router
	r := router.New(router.Config{
		Handler:        healthHandler,
		SyncHandler:    handler.NewSyncHandler(syncService),
		StockHandler:   handler.NewStockHandler(ledgerService),
		SalesHandler:   handler.NewSalesHandler(saleService),
		CatalogHandler: handler.NewCatalogHandler(catalogService, statsService),
		AdminHandler:   adminHandler,
		AuthMiddleware: authMiddleware,
		RateLimiter:    limiter,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	cleanup.Stop()

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}

func openStore(db *config.DatabaseConfig) (*repository.Store, error) {
	switch db.Type {
	case "postgres":
		return repository.OpenPostgres(db.PostgresDSN())
	case "mysql":
		return repository.OpenMySQL(repository.MySQLDSN(db.User, db.Password, db.Host, db.Port, db.Name))
	default:
		return repository.OpenSQLite(db.Path)
	}
}
