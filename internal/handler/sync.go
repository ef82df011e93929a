package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"retailsync/internal/middleware"
	"retailsync/internal/model"
	"retailsync/internal/service"
	"retailsync/pkg/apierror"
	"retailsync/pkg/response"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		response.Error(w, apierror.BadRequest("failed to read request body"))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// SyncHandler accepts envelopes from point-of-sale agents.
type SyncHandler struct {
	sync *service.SyncService
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(sync *service.SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Apply handles POST /api/v1/sync. The response status tells the agent
// whether to retry: 2xx settles the entry, 4xx is permanent, 5xx is not.
func (h *SyncHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var env model.Envelope
	if !decodeJSON(w, r, &env) {
		return
	}
	if env.ClientID == "" {
		env.ClientID = middleware.GetClientID(r.Context())
	}

	result, err := h.sync.Apply(r.Context(), &env)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, result)
}
