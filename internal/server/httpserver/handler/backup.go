package handler

import (
	"net/http"

	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

func (h *Handler) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeError(w, r, http.StatusNotFound, CodeBackupDisabled, "backups not configured")
		return
	}
	infos, err := h.backups.List()
	if err != nil {
		h.logger.Error("list backups failed", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	if infos == nil {
		infos = []*snapshot.Info{}
	}
	h.writeJSON(w, r, http.StatusOK, infos)
}

func (h *Handler) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeError(w, r, http.StatusNotFound, CodeBackupDisabled, "backups not configured")
		return
	}
	info, err := h.backups.Backup(r.Context())
	if err != nil {
		h.logger.Error("backup failed", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, CodeInternal, "backup failed: "+err.Error())
		return
	}
	h.writeJSON(w, r, http.StatusCreated, info)
}
