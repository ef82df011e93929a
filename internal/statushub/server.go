package statushub

import (
	"context"
	"net/http"

	"retailsync/internal/localstore"
	"retailsync/internal/middleware"
	"retailsync/internal/scheduler"
	"retailsync/pkg/response"

	"github.com/go-chi/chi/v5"
)

// Syncer is the scheduler surface the status server drives.
type Syncer interface {
	Status() scheduler.Status
	Trigger(reason string) bool
	RefreshPending(ctx context.Context)
}

// QueueLister lists queued entries.
type QueueLister interface {
	ListPending(ctx context.Context, limit int) ([]localstore.Entry, error)
}

// NewRouter builds the agent's local status API:
//
//	GET  /status     current snapshot
//	GET  /status/ws  live snapshots over WebSocket
//	GET  /queue      queued entries
//	POST /sync       manual trigger
func NewRouter(syncer Syncer, hub *Hub, queue QueueLister) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recovery)

	// The upgrade needs the raw connection, so it skips the logging wrapper.
	if hub != nil {
		r.Handle("/status/ws", hub)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.Logging)

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			syncer.RefreshPending(r.Context())
			response.OK(w, syncer.Status())
		})
		if queue != nil {
			r.Get("/queue", func(w http.ResponseWriter, r *http.Request) {
				entries, err := queue.ListPending(r.Context(), 0)
				if err != nil {
					response.Error(w, err)
					return
				}
				response.OK(w, entries)
			})
		}
		r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
			started := syncer.Trigger(scheduler.ReasonManual)
			status := http.StatusAccepted
			if !started {
				status = http.StatusOK
			}
			response.JSON(w, status, map[string]interface{}{
				"started": started,
				"status":  syncer.Status(),
			})
		})
	})

	return r
}
