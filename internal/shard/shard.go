package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/meshstore/internal/datatree"
	"github.com/yndnr/meshstore/internal/storage"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

var (
	ErrNameRequired   = errors.New("shard: name is required")
	ErrNodeIDRequired = errors.New("shard: node id is required")
	ErrDirRequired    = errors.New("shard: dir is required")
	ErrClosed         = errors.New("shard: closed")
	ErrNotLeader      = errors.New("shard: not the leader")

	// ErrExistingState is returned when a restore targets stores that
	// already hold raft state. Restores only seed fresh shards.
	ErrExistingState = errors.New("shard: refusing to restore over existing raft state")

	// ErrNotMember is returned when a preserved membership does not
	// include the local node.
	ErrNotMember = errors.New("shard: local node not in restored membership")

	// ErrStateWithoutLog is returned for a log snapshot with no entries
	// but a non-empty tree.
	ErrStateWithoutLog = errors.New("shard: tree state without log entries")
)

// defaultApplyTimeout bounds a write whose context has no deadline.
const defaultApplyTimeout = 10 * time.Second

// Config configures one shard replica.
type Config struct {
	// Name identifies the shard within its datastore.
	Name string

	// NodeID is the raft server ID of this replica.
	NodeID string

	// Dir holds the raft stores. Unused with StorageInmem.
	Dir string

	// Storage selects the log and stable store. Defaults to StorageBolt.
	Storage Storage

	// Badger overrides the badger settings when Storage is StorageBadger.
	Badger *storage.BadgerConfig

	// Transport defaults to TransportTCP.
	Transport Transport

	// BindAddr is the raft address. With TransportInmem an empty address
	// picks a unique one.
	BindAddr string

	Timing         Timing
	SnapshotRetain int

	// Restore seeds a fresh shard from a captured log snapshot.
	Restore *snapshot.ReplicatedLogSnapshot

	// PreserveMembership restores the captured raft membership instead of
	// recovering into a single-node cluster.
	PreserveMembership bool

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

func (c *Config) setDefaults() {
	if c.Storage == "" {
		c.Storage = StorageBolt
	}
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	if c.SnapshotRetain <= 0 {
		c.SnapshotRetain = 3
	}
	if c.Timing == (Timing{}) {
		c.Timing = DefaultTiming()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) validate() error {
	switch {
	case c.Name == "":
		return ErrNameRequired
	case c.NodeID == "":
		return ErrNodeIDRequired
	case c.Dir == "" && c.Storage != StorageInmem:
		return ErrDirRequired
	}
	return nil
}

// Shard is a raft-replicated data tree.
type Shard struct {
	name   string
	raft   *raft.Raft
	fsm    *FSM
	stores *raftStores
	logger *slog.Logger

	// openIndex is the last log index known when the shard opened.
	openIndex uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// Open starts a shard replica.
//
// With cfg.Restore set the stores must be empty: they are seeded from the
// snapshot before raft starts. Without it, empty stores bootstrap a
// single-node cluster and existing stores resume where they left off.
func Open(cfg Config) (_ *Shard, err error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger.With("shard", cfg.Name)

	st, err := openStores(&cfg, logger, cfg.Registerer)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			st.close(logger)
		}
	}()

	fsm := NewFSM(logger)
	rc := raftConfig(&cfg, logger)

	existing, err := raft.HasExistingState(st.logs, st.stable, st.snaps)
	if err != nil {
		return nil, fmt.Errorf("shard: check state: %w", err)
	}

	switch {
	case cfg.Restore != nil:
		if existing {
			return nil, fmt.Errorf("%w: %s", ErrExistingState, cfg.Name)
		}
		if err := restoreLog(rc, &cfg, st, fsm, logger); err != nil {
			return nil, err
		}
	case !existing:
		if err := raft.BootstrapCluster(rc, st.logs, st.stable, st.snaps, st.transport,
			localConfiguration(&cfg, st.transport.LocalAddr())); err != nil {
			return nil, fmt.Errorf("shard: bootstrap %s: %w", cfg.Name, err)
		}
		logger.Info("raft cluster bootstrapped", "node_id", cfg.NodeID)
	}

	openIndex, err := st.logs.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("shard: last index: %w", err)
	}
	if metas, err := st.snaps.List(); err == nil && len(metas) > 0 {
		openIndex = max(openIndex, metas[0].Index)
	}

	r, err := raft.NewRaft(rc, fsm, st.logs, st.stable, st.snaps, st.transport)
	if err != nil {
		return nil, fmt.Errorf("shard: create raft: %w", err)
	}

	logger.Info("shard opened",
		"node_id", cfg.NodeID,
		"addr", st.transport.LocalAddr(),
		"storage", cfg.Storage,
		"restored", cfg.Restore != nil)

	return &Shard{
		name:      cfg.Name,
		raft:      r,
		fsm:       fsm,
		stores:    st,
		logger:    logger,
		openIndex: openIndex,
		closed:    make(chan struct{}),
	}, nil
}

// Name returns the shard name.
func (s *Shard) Name() string { return s.name }

// Addr returns the raft transport address.
func (s *Shard) Addr() string { return string(s.stores.transport.LocalAddr()) }

// IsLeader reports whether this replica leads the shard.
func (s *Shard) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// Write commits a tree command and waits for it to apply locally.
func (s *Shard) Write(ctx context.Context, cmd datatree.Command) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	data, err := datatree.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	timeout := defaultApplyTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	f := s.raft.Apply(data, timeout)
	if err := f.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) {
			return fmt.Errorf("%w: %s", ErrNotLeader, s.name)
		}
		return fmt.Errorf("shard: apply: %w", err)
	}
	if resp := f.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

// Read returns a copy of the node at path from the local replica.
func (s *Shard) Read(path datatree.Path) (*datatree.Node, bool) {
	return s.fsm.Tree().Read(path)
}

// Has reports whether the local replica holds a node at path.
func (s *Shard) Has(path datatree.Path) bool {
	return s.fsm.Tree().Has(path)
}

// Snapshot captures the shard's replicated log.
func (s *Shard) Snapshot(ctx context.Context) (*snapshot.ShardSnapshot, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	f := s.raft.GetConfiguration()
	if err := f.Error(); err != nil {
		return nil, fmt.Errorf("shard: get configuration: %w", err)
	}
	conf := f.Configuration()

	log, err := Capture(CaptureSource{
		FSM:        s.fsm,
		Logs:       s.stores.logs,
		Stable:     s.stores.stable,
		Snapshots:  s.stores.snaps,
		Membership: &conf,
	})
	if err != nil {
		return nil, err
	}
	return &snapshot.ShardSnapshot{Name: s.name, Log: log}, nil
}

// WaitLeader blocks until this replica is the leader.
func (s *Shard) WaitLeader(ctx context.Context) error {
	return s.poll(ctx, s.IsLeader)
}

// WaitCaughtUp blocks until everything in the log when the shard opened,
// including a restored tail, has been applied.
func (s *Shard) WaitCaughtUp(ctx context.Context) error {
	return s.poll(ctx, func() bool {
		return s.raft.AppliedIndex() >= s.openIndex
	})
}

func (s *Shard) poll(ctx context.Context, done func() bool) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return ErrClosed
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Shard) checkOpen(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	return ctx.Err()
}

// Status is a point-in-time view of a shard replica.
type Status struct {
	Name         string
	State        string
	Leader       bool
	Term         uint64
	LastIndex    uint64
	AppliedIndex uint64
}

// Status reports the replica's raft position.
func (s *Shard) Status() Status {
	state := s.raft.State()
	term, _ := strconv.ParseUint(s.raft.Stats()["term"], 10, 64)
	return Status{
		Name:         s.name,
		State:        state.String(),
		Leader:       state == raft.Leader,
		Term:         term,
		LastIndex:    s.raft.LastIndex(),
		AppliedIndex: s.raft.AppliedIndex(),
	}
}

// Close shuts raft down and closes the stores.
func (s *Shard) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.logger.Info("shutting down shard")
		if err = s.raft.Shutdown().Error(); err != nil {
			s.logger.Error("raft shutdown failed", "error", err)
		}
		s.stores.close(s.logger)
	})
	return err
}
