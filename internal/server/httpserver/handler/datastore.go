package handler

import (
	"errors"
	"net/http"

	"github.com/yndnr/meshstore/internal/datastore"
	"github.com/yndnr/meshstore/internal/datatree"
)

func (h *Handler) handleListDatastores(w http.ResponseWriter, r *http.Request) {
	out := make([]DatastoreResponse, 0, len(h.datastores))
	for _, ds := range h.datastores {
		resp := DatastoreResponse{
			Type:     ds.Type(),
			Restored: ds.Restored(),
			Shards:   []ShardResponse{},
		}
		for _, st := range ds.Statuses() {
			resp.Shards = append(resp.Shards, shardResponse(st))
		}
		out = append(out, resp)
	}
	h.writeJSON(w, r, http.StatusOK, out)
}

// handleReadTree returns the subtree at a path from the local replica.
func (h *Handler) handleReadTree(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.byType[r.PathValue("type")]
	if !ok {
		h.writeError(w, r, http.StatusNotFound, CodeNotFound, "unknown datastore")
		return
	}

	raw := "/" + r.PathValue("path")
	node, found, err := ds.Read(datatree.ParsePath(raw))
	switch {
	case errors.Is(err, datastore.ErrNotBootstrapped):
		h.writeError(w, r, http.StatusServiceUnavailable, CodeNotReady, "datastore starting")
		return
	case err != nil:
		h.logger.Error("tree read failed", "datastore", ds.Type(), "path", raw, "error", err)
		h.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	case !found:
		h.writeError(w, r, http.StatusNotFound, CodeNotFound, "no node at "+raw)
		return
	}
	h.writeJSON(w, r, http.StatusOK, NodeResponse{Path: raw, Node: node})
}
