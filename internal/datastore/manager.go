package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/meshstore/internal/datatree"
	"github.com/yndnr/meshstore/internal/shard"
	"github.com/yndnr/meshstore/internal/storage"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

var (
	ErrTypeRequired    = errors.New("datastore: type is required")
	ErrNotBootstrapped = errors.New("datastore: not bootstrapped")
	ErrBootstrapped    = errors.New("datastore: already bootstrapped")
	ErrNoShards        = errors.New("datastore: no shards")
	ErrUnknownShard    = errors.New("datastore: unknown shard")
)

// Restorer hands out the restore entry of a datastore domain at most once.
// *restore.Coordinator implements it.
type Restorer interface {
	GetAndRemove(domainType string) (*snapshot.DatastoreSnapshot, error)
}

// Config configures the shard manager of one datastore domain.
type Config struct {
	// Type is the domain, e.g. "config" or "operational".
	Type   string
	NodeID string

	// Dir is the domain's data root. Each shard gets Dir/<shard>.
	Dir string

	// Shards are the configured shard names. Shards named by a restored
	// manager snapshot are added to them.
	Shards []string

	Storage   shard.Storage
	Badger    *storage.BadgerConfig
	Transport shard.Transport

	// BindAddr is the raft address of the first shard. Later shards use
	// consecutive ports. Ignored by the in-memory transport.
	BindAddr string

	Timing             shard.Timing
	SnapshotRetain     int
	PreserveMembership bool
	VirtualNodes       int

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Manager owns the shards of one datastore domain and routes tree
// operations to them by top-level path element.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	shards   []*shard.Shard
	byName   map[string]*shard.Shard
	ring     *ring
	restored bool
}

// New creates a manager. No shard runs until Bootstrap.
func New(cfg Config) (*Manager, error) {
	if cfg.Type == "" {
		return nil, ErrTypeRequired
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registerer != nil {
		cfg.Registerer = prometheus.WrapRegistererWith(prometheus.Labels{"datastore": cfg.Type}, cfg.Registerer)
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With("datastore", cfg.Type),
	}, nil
}

// Type returns the datastore domain.
func (m *Manager) Type() string { return m.cfg.Type }

// Bootstrap claims the domain's restore entry, if any, and opens every
// shard. Restored shards open first, in snapshot order, seeded from their
// log snapshots. Shards named only by the manager snapshot or the
// configuration start empty.
//
// A claimed entry is never handed out again, so a failure here leaves the
// domain without its restore data until the operator intervenes.
func (m *Manager) Bootstrap(ctx context.Context, restorer Restorer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byName != nil {
		return ErrBootstrapped
	}

	var ds *snapshot.DatastoreSnapshot
	if restorer != nil {
		var err error
		if ds, err = restorer.GetAndRemove(m.cfg.Type); err != nil {
			return fmt.Errorf("datastore: %s: claim restore: %w", m.cfg.Type, err)
		}
	}

	names, err := shardNames(ds, m.cfg.Shards)
	if err != nil {
		return fmt.Errorf("datastore: %s: %w", m.cfg.Type, err)
	}
	if len(names) == 0 {
		return fmt.Errorf("datastore: %s: %w", m.cfg.Type, ErrNoShards)
	}

	opened := make([]*shard.Shard, 0, len(names))
	closeAll := func() {
		for i := len(opened) - 1; i >= 0; i-- {
			_ = opened[i].Close()
		}
	}

	for i, name := range names {
		scfg, err := m.shardConfig(name, i)
		if err != nil {
			closeAll()
			return err
		}
		if ds != nil {
			if ss := ds.Shard(name); ss != nil {
				scfg.Restore = ss.Log
			}
		}
		s, err := shard.Open(scfg)
		if err != nil {
			closeAll()
			return fmt.Errorf("datastore: %s: open shard %s: %w", m.cfg.Type, name, err)
		}
		opened = append(opened, s)
	}

	for _, s := range opened {
		if err := s.WaitCaughtUp(ctx); err != nil {
			closeAll()
			return fmt.Errorf("datastore: %s: shard %s: catch up: %w", m.cfg.Type, s.Name(), err)
		}
	}

	m.shards = opened
	m.byName = make(map[string]*shard.Shard, len(opened))
	for _, s := range opened {
		m.byName[s.Name()] = s
	}
	m.ring = newRing(names, m.cfg.VirtualNodes)
	m.restored = ds != nil

	m.logger.Info("datastore bootstrapped",
		"shards", names,
		"restored", m.restored)
	return nil
}

// shardNames merges the restored shards, the manager snapshot's names and
// the configured names, keeping first-seen order.
func shardNames(ds *snapshot.DatastoreSnapshot, configured []string) ([]string, error) {
	var all []string
	if ds != nil {
		all = append(all, ds.ShardNames()...)
		if ds.ManagerSnapshot != nil {
			ms, err := snapshot.DecodeShardManagerSnapshot(ds.ManagerSnapshot)
			if err != nil {
				return nil, fmt.Errorf("decode manager snapshot: %w", err)
			}
			all = append(all, ms.ShardNames...)
		}
	}
	all = append(all, configured...)
	return snapshot.NewShardManagerSnapshot(all).ShardNames, nil
}

func (m *Manager) shardConfig(name string, i int) (shard.Config, error) {
	cfg := shard.Config{
		Name:               name,
		NodeID:             m.cfg.NodeID,
		Dir:                filepath.Join(m.cfg.Dir, name),
		Storage:            m.cfg.Storage,
		Badger:             m.cfg.Badger,
		Transport:          m.cfg.Transport,
		Timing:             m.cfg.Timing,
		SnapshotRetain:     m.cfg.SnapshotRetain,
		PreserveMembership: m.cfg.PreserveMembership,
		Logger:             m.logger,
		Registerer:         m.cfg.Registerer,
	}
	if m.cfg.Transport != shard.TransportInmem && m.cfg.BindAddr != "" {
		addr, err := offsetAddr(m.cfg.BindAddr, i)
		if err != nil {
			return shard.Config{}, fmt.Errorf("datastore: %s: %w", m.cfg.Type, err)
		}
		cfg.BindAddr = addr
	}
	return cfg, nil
}

func offsetAddr(base string, offset int) (string, error) {
	host, portStr, err := net.SplitHostPort(base)
	if err != nil {
		return "", fmt.Errorf("bind addr %q: %w", base, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("bind addr %q: bad port: %w", base, err)
	}
	if port+offset > 65535 {
		return "", fmt.Errorf("bind addr %q: port out of range for shard %d", base, offset)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+offset)), nil
}

// Restored reports whether Bootstrap consumed a restore entry.
func (m *Manager) Restored() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restored
}

// ShardNames returns the shard names in open order.
func (m *Manager) ShardNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.shards))
	for i, s := range m.shards {
		names[i] = s.Name()
	}
	return names
}

// Statuses reports every shard's raft position in open order.
func (m *Manager) Statuses() []shard.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]shard.Status, len(m.shards))
	for i, s := range m.shards {
		out[i] = s.Status()
	}
	return out
}

// Shard returns the named shard.
func (m *Manager) Shard(name string) (*shard.Shard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.byName == nil {
		return nil, ErrNotBootstrapped
	}
	s, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownShard, name)
	}
	return s, nil
}

// Route returns the shard owning path. Everything under one top-level
// element lives in one shard; the root routes by its empty key.
//
// A top-level element that already exists stays on the shard holding it,
// so restored data keeps its placement when the configured shard set
// changes. New elements are placed by the ring.
func (m *Manager) Route(path datatree.Path) (*shard.Shard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.byName == nil {
		return nil, ErrNotBootstrapped
	}
	key := ""
	if len(path) > 0 {
		key = path[0]
		top := datatree.Path{key}
		for _, s := range m.shards {
			if s.Has(top) {
				return s, nil
			}
		}
	}
	return m.byName[m.ring.owner(key)], nil
}

// Write routes cmd to its shard and commits it.
func (m *Manager) Write(ctx context.Context, cmd datatree.Command) error {
	s, err := m.Route(datatree.ParsePath(cmd.Path))
	if err != nil {
		return err
	}
	return s.Write(ctx, cmd)
}

// Read returns the node at path from the owning shard.
func (m *Manager) Read(path datatree.Path) (*datatree.Node, bool, error) {
	s, err := m.Route(path)
	if err != nil {
		return nil, false, err
	}
	n, ok := s.Read(path)
	return n, ok, nil
}

// WaitLeaders blocks until this node leads every shard.
func (m *Manager) WaitLeaders(ctx context.Context) error {
	m.mu.RLock()
	shards := append([]*shard.Shard(nil), m.shards...)
	m.mu.RUnlock()
	for _, s := range shards {
		if err := s.WaitLeader(ctx); err != nil {
			return fmt.Errorf("datastore: %s: shard %s: %w", m.cfg.Type, s.Name(), err)
		}
	}
	return nil
}

// Snapshot captures every shard plus a manager snapshot naming them.
func (m *Manager) Snapshot(ctx context.Context) (*snapshot.DatastoreSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.byName == nil {
		return nil, ErrNotBootstrapped
	}

	names := make([]string, len(m.shards))
	out := &snapshot.DatastoreSnapshot{Type: m.cfg.Type, Shards: make([]snapshot.ShardSnapshot, 0, len(m.shards))}
	for i, s := range m.shards {
		ss, err := s.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("datastore: %s: snapshot shard %s: %w", m.cfg.Type, s.Name(), err)
		}
		out.Shards = append(out.Shards, *ss)
		names[i] = s.Name()
	}

	mgr, err := snapshot.EncodeShardManagerSnapshot(snapshot.NewShardManagerSnapshot(names))
	if err != nil {
		return nil, fmt.Errorf("datastore: %s: %w", m.cfg.Type, err)
	}
	out.ManagerSnapshot = mgr
	return out, nil
}

// Close closes every shard in reverse open order.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for i := len(m.shards) - 1; i >= 0; i-- {
		if err := m.shards[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.shards, m.byName, m.ring = nil, nil, nil
	return errors.Join(errs...)
}
