package handler

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"retailsync/internal/repository"
	"retailsync/internal/service"
	"retailsync/pkg/apierror"
	"retailsync/pkg/response"
)

// AdminHandler handles operator endpoints.
type AdminHandler struct {
	store     *repository.Store
	stats     *service.StatsService
	cleanup   *service.CleanupScheduler
	audit     repository.AuditLog
	cacheType string
	policy    string
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	store *repository.Store,
	stats *service.StatsService,
	cleanup *service.CleanupScheduler,
	audit repository.AuditLog,
	cacheType, policy string,
) *AdminHandler {
	return &AdminHandler{
		store:     store,
		stats:     stats,
		cleanup:   cleanup,
		audit:     audit,
		cacheType: cacheType,
		policy:    policy,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["cache_type"] = h.cacheType
	stats["sale_stock_policy"] = h.policy

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	dbStats := h.store.PoolStats()
	if err := h.store.Ping(ctx); err != nil {
		dbStats["status"] = "error"
		dbStats["error"] = err.Error()
	} else {
		dbStats["status"] = "connected"
	}
	stats["database"] = dbStats

	if summary, err := h.stats.Summary(ctx); err == nil {
		stats["summary"] = summary
	} else {
		stats["summary"] = map[string]interface{}{"status": "error", "error": err.Error()}
	}

	if h.cleanup != nil {
		stats["receipt_cleanup"] = h.cleanup.LastRun()
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// PruneReceipts handles POST /api/v1/admin/receipts/prune
func (h *AdminHandler) PruneReceipts(w http.ResponseWriter, r *http.Request) {
	if h.cleanup == nil {
		response.Error(w, apierror.ServiceUnavailable("cleanup is not configured"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	deleted, err := h.cleanup.RunNow(ctx)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]int64{"deleted": deleted})
}

// ListAudit handles GET /api/v1/admin/audit?entity_type=&entity_id=&page=&limit=
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	filter := repository.AuditFilter{
		EntityType: r.URL.Query().Get("entity_type"),
		EntityID:   r.URL.Query().Get("entity_id"),
	}

	entries, total, err := h.audit.List(r.Context(), filter, limit, (page-1)*limit)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, entries, page, limit, total)
}

func pagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return page, limit
}
