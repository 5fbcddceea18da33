package handler

import (
	"net/http"

	"github.com/yndnr/meshstore/internal/infra/buildinfo"
	"github.com/yndnr/meshstore/internal/telemetry/logger"
)

func (h *Handler) health() (HealthResponse, bool) {
	resp := HealthResponse{
		Status:     "ready",
		Version:    buildinfo.Version,
		Datastores: make(map[string]string, len(h.datastores)),
	}
	ready := true
	for _, ds := range h.datastores {
		state := "bootstrapped"
		if len(ds.ShardNames()) == 0 {
			state = "starting"
			ready = false
		}
		resp.Datastores[ds.Type()] = state
	}
	if !ready {
		resp.Status = "starting"
	}
	return resp, ready
}

// handleHealth reports liveness. It answers 200 as long as the process
// serves requests.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, _ := h.health()
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleReady answers 503 until every datastore has bootstrapped.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	resp, ready := h.health()
	if !ready {
		w.Header().Set("Retry-After", "1")
		h.write(w, r, http.StatusServiceUnavailable,
			newResponse(logger.RequestIDFromContext(r.Context()), CodeNotReady, "datastores starting", resp))
		return
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleRestorePending lists the datastores that have not yet claimed
// their part of the restore artifact.
func (h *Handler) handleRestorePending(w http.ResponseWriter, r *http.Request) {
	if h.restore == nil {
		h.writeJSON(w, r, http.StatusOK, RestoreResponse{Pending: []string{}})
		return
	}
	pending := h.restore.Pending()
	if pending == nil {
		pending = []string{}
	}
	h.writeJSON(w, r, http.StatusOK, RestoreResponse{
		Path:    h.restore.Path(),
		Pending: pending,
		Backup:  h.restore.Info(),
	})
}
