// Package restore hands a backup bundle out to the datastore managers that
// bootstrap at startup.
//
// The Coordinator reads <dir>/<file> on first use. Each datastore domain
// claims its DatastoreSnapshot exactly once through GetAndRemove; when the
// last one has been claimed the artifact is deleted so a later restart does
// not restore it again. A bundle that fails to load is never deleted and the
// failure is returned to every caller.
package restore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

// DefaultFileName is the artifact name looked up in the restore directory.
const DefaultFileName = "backup"

// DeletePolicy decides when the artifact is removed.
type DeletePolicy string

const (
	// DeleteOnDrain removes the artifact once every datastore has claimed
	// its snapshot.
	DeleteOnDrain DeletePolicy = "on-drain"

	// DeleteOnLoad removes the artifact as soon as it has been decoded.
	// The bundle then only lives in memory until each datastore claims it.
	DeleteOnLoad DeletePolicy = "on-load"
)

// ErrDirRequired is returned by New when no restore directory is set.
var ErrDirRequired = errors.New("restore: dir is required")

// Config configures a Coordinator.
type Config struct {
	Dir          string
	FileName     string
	Encryption   snapshot.EncryptionConfig
	DeletePolicy DeletePolicy
	Logger       *slog.Logger
}

type loadState int

const (
	stateUninitialized loadState = iota
	stateEmpty
	stateLoaded
	stateFailed
)

// Coordinator owns the restore artifact for one process.
type Coordinator struct {
	cfg     Config
	path    string
	logger  *slog.Logger
	metrics *metrics

	mu      sync.Mutex
	state   loadState
	pending map[string]*snapshot.DatastoreSnapshot
	info    *snapshot.Info
	loadErr error
	removed bool
}

// New returns a coordinator. Nothing is read until the first call to Load
// or GetAndRemove.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Dir == "" {
		return nil, ErrDirRequired
	}
	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}
	switch cfg.DeletePolicy {
	case "":
		cfg.DeletePolicy = DeleteOnDrain
	case DeleteOnDrain, DeleteOnLoad:
	default:
		return nil, fmt.Errorf("restore: unknown delete policy %q", cfg.DeletePolicy)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		cfg:     cfg,
		path:    filepath.Join(cfg.Dir, cfg.FileName),
		logger:  logger.With("component", "restore"),
		metrics: newMetrics(),
	}, nil
}

// Path returns the artifact path.
func (c *Coordinator) Path() string { return c.path }

// Load reads the artifact if that has not happened yet. It is idempotent;
// a failed load keeps failing with the same error.
func (c *Coordinator) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

// GetAndRemove returns the snapshot for domainType and forgets it. It
// returns (nil, nil) when the bundle has no such datastore or it was
// already claimed. When the last pending snapshot is claimed the artifact
// is deleted; failure to delete is logged, not returned.
func (c *Coordinator) GetAndRemove(domainType string) (*snapshot.DatastoreSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(); err != nil {
		return nil, err
	}

	ds, ok := c.pending[domainType]
	if !ok {
		c.metrics.absent.Inc()
		c.logger.Debug("no restore snapshot for datastore", "datastore", domainType)
		return nil, nil
	}
	delete(c.pending, domainType)
	c.metrics.restored.WithLabelValues(domainType).Inc()
	c.metrics.pending.Set(float64(len(c.pending)))
	c.logger.Info("restore snapshot claimed",
		"datastore", domainType,
		"shards", len(ds.Shards),
		"remaining", len(c.pending))

	if len(c.pending) == 0 {
		c.removeArtifactLocked()
	}
	return ds, nil
}

// Pending lists the datastore types not yet claimed, sorted. It does not
// trigger a load.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.pending))
	for t := range c.pending {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Info returns the loaded artifact header, or nil when nothing was loaded.
func (c *Coordinator) Info() *snapshot.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

func (c *Coordinator) loadLocked() error {
	switch c.state {
	case stateEmpty, stateLoaded:
		return nil
	case stateFailed:
		return c.loadErr
	}

	bundle, info, err := snapshot.ReadFile(c.path, c.cfg.Encryption)
	if err != nil {
		if snapshot.IsNotExist(err) {
			c.state = stateEmpty
			c.logger.Info("no restore artifact", "path", c.path)
			return nil
		}
		c.state = stateFailed
		c.loadErr = fmt.Errorf("restore: load %s: %w", c.path, err)
		c.logger.Error("restore artifact unusable, leaving it in place",
			"path", c.path, "error", err)
		return c.loadErr
	}

	c.info = info
	c.pending = make(map[string]*snapshot.DatastoreSnapshot, len(bundle.Datastores))
	for i := range bundle.Datastores {
		ds := &bundle.Datastores[i]
		c.pending[ds.Type] = ds
	}
	c.metrics.pending.Set(float64(len(c.pending)))

	if len(c.pending) == 0 {
		c.state = stateEmpty
		c.logger.Info("restore artifact holds no datastores", "path", c.path)
		c.removeArtifactLocked()
		return nil
	}

	c.state = stateLoaded
	c.logger.Info("restore artifact loaded",
		"path", c.path,
		"backup_id", info.BackupID,
		"created_at", info.CreatedAt,
		"datastores", info.Datastores)

	if c.cfg.DeletePolicy == DeleteOnLoad {
		c.removeArtifactLocked()
	}
	return nil
}

func (c *Coordinator) removeArtifactLocked() {
	if c.removed {
		return
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.metrics.deletes.WithLabelValues("failure").Inc()
		c.logger.Warn("failed to delete restore artifact", "path", c.path, "error", err)
		return
	}
	c.removed = true
	c.metrics.deletes.WithLabelValues("success").Inc()
	c.logger.Info("restore artifact deleted", "path", c.path)
}

// RegisterMetrics registers the coordinator's collectors with reg.
func (c *Coordinator) RegisterMetrics(reg prometheus.Registerer) error {
	for _, col := range c.metrics.collectors() {
		if err := reg.Register(col); err != nil {
			return fmt.Errorf("restore: register metrics: %w", err)
		}
	}
	return nil
}
