package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yndnr/meshstore/internal/datatree"
	"github.com/yndnr/meshstore/internal/shard"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
	"github.com/yndnr/meshstore/internal/telemetry/logger"
)

// Datastore is the view of a datastore domain the handlers need.
// *datastore.Manager implements it.
type Datastore interface {
	Type() string
	Restored() bool
	ShardNames() []string
	Statuses() []shard.Status
	Read(path datatree.Path) (*datatree.Node, bool, error)
}

// RestoreStatus reports restore progress. *restore.Coordinator
// implements it.
type RestoreStatus interface {
	Path() string
	Pending() []string
	Info() *snapshot.Info
}

// Backups creates and lists backup bundles.
type Backups interface {
	Backup(ctx context.Context) (*snapshot.Info, error)
	List() ([]*snapshot.Info, error)
}

// Config wires the handler to the running server.
type Config struct {
	Datastores []Datastore
	Restore    RestoreStatus

	// Backups may be nil when no backup directory is configured.
	Backups Backups

	Logger *slog.Logger
}

// Handler serves the admin API.
type Handler struct {
	datastores []Datastore
	byType     map[string]Datastore
	restore    RestoreStatus
	backups    Backups
	logger     *slog.Logger
	mux        *http.ServeMux
}

// New creates a handler.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		datastores: cfg.Datastores,
		byType:     make(map[string]Datastore, len(cfg.Datastores)),
		restore:    cfg.Restore,
		backups:    cfg.Backups,
		logger:     cfg.Logger,
		mux:        http.NewServeMux(),
	}
	for _, ds := range cfg.Datastores {
		h.byType[ds.Type()] = ds
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /readyz", h.handleReady)
	h.mux.HandleFunc("GET /restore/pending", h.handleRestorePending)

	h.mux.HandleFunc("GET /admin/v1/datastores", h.handleListDatastores)
	h.mux.HandleFunc("GET /admin/v1/datastores/{type}/tree/{path...}", h.handleReadTree)

	h.mux.HandleFunc("GET /admin/v1/backups", h.handleListBackups)
	h.mux.HandleFunc("POST /admin/v1/backups", h.handleCreateBackup)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	h.write(w, r, status, newResponse(logger.RequestIDFromContext(r.Context()), CodeOK, "Success", data))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("X-Error-Code", code)
	h.write(w, r, status, newResponse(logger.RequestIDFromContext(r.Context()), code, message, nil))
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.FromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}
