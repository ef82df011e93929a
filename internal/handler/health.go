package handler

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"retailsync/pkg/response"
)

// Pinger is anything whose connectivity can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

const checkTimeout = 2 * time.Second

type dependency struct {
	name     string
	pinger   Pinger
	required bool
}

// Handler serves the health, readiness and status endpoints.
type Handler struct {
	service   string
	version   string
	deps      []dependency
	startTime time.Time
}

// New creates a handler. db, when not nil, is a required dependency:
// readiness fails while it is unreachable.
func New(service, version string, db Pinger) *Handler {
	h := &Handler{service: service, version: version, startTime: time.Now()}
	if db != nil {
		h.deps = append(h.deps, dependency{name: "database", pinger: db, required: true})
	}
	return h
}

// WithOptional adds a dependency that is reported but never fails
// readiness, such as the shared cache or the audit store: the sync path
// keeps working without them.
func (h *Handler) WithOptional(name string, p Pinger) *Handler {
	h.deps = append(h.deps, dependency{name: name, pinger: p})
	return h
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health. Agents use it as their connectivity
// probe, so it never touches a dependency.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// Check is the outcome of pinging one dependency.
type Check struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Required  bool   `json:"required"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// runChecks pings every dependency concurrently.
func (h *Handler) runChecks(ctx context.Context) []Check {
	checks := make([]Check, len(h.deps))
	var wg sync.WaitGroup
	for i, d := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := d.pinger.Ping(cctx)
			c := Check{Name: d.name, Status: "ok", Required: d.required, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				c.Status = "error"
				c.Error = err.Error()
			}
			checks[i] = c
		}()
	}
	wg.Wait()
	return checks
}

// ReadyResponse is the readiness body.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Ready handles GET /api/v1/ready. Only required dependencies decide the
// answer.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := h.runChecks(r.Context())
	ready := true
	for _, c := range checks {
		if c.Required && c.Status != "ok" {
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, ReadyResponse{Ready: ready, Timestamp: time.Now().UTC(), Checks: checks})
}

// StatusResponse is the monitoring summary served at /api/status.
type StatusResponse struct {
	Service       string  `json:"service"`
	Version       string  `json:"version"`
	Status        string  `json:"status"`
	Timestamp     string  `json:"timestamp"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	MemoryMB      float64 `json:"memory_mb"`
	Goroutines    int     `json:"goroutines"`
	Checks        []Check `json:"checks"`
}

// Status handles GET /api/status. Any failing dependency reports the
// service as degraded; a failing required one as down.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	checks := h.runChecks(r.Context())
	status := "ok"
	for _, c := range checks {
		if c.Status == "ok" {
			continue
		}
		if c.Required {
			status = "down"
			break
		}
		status = "degraded"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	w.Header().Set("Cache-Control", "no-store")
	response.OK(w, StatusResponse{
		Service:       h.service,
		Version:       h.version,
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		MemoryMB:      float64(mem.Alloc/1024) / 1024,
		Goroutines:    runtime.NumGoroutine(),
		Checks:        checks,
	})
}
