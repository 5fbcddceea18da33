package shard

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/meshstore/internal/storage"
)

// Storage selects the raft log and stable store backend.
type Storage string

const (
	StorageBolt   Storage = "bolt"
	StorageBadger Storage = "badger"
	StorageInmem  Storage = "inmem"
)

// Transport selects the raft transport.
type Transport string

const (
	TransportTCP   Transport = "tcp"
	TransportInmem Transport = "inmem"
)

// Timing holds raft timeouts.
type Timing struct {
	HeartbeatTimeout   time.Duration
	ElectionTimeout    time.Duration
	CommitTimeout      time.Duration
	LeaderLeaseTimeout time.Duration
	SnapshotInterval   time.Duration
	SnapshotThreshold  uint64
}

// DefaultTiming returns timeouts tuned for low latency on a LAN.
func DefaultTiming() Timing {
	return Timing{
		HeartbeatTimeout:   1000 * time.Millisecond,
		ElectionTimeout:    1000 * time.Millisecond,
		CommitTimeout:      50 * time.Millisecond,
		LeaderLeaseTimeout: 500 * time.Millisecond,
		SnapshotInterval:   2 * time.Minute,
		SnapshotThreshold:  8192,
	}
}

func (t Timing) apply(c *raft.Config) {
	if t.HeartbeatTimeout > 0 {
		c.HeartbeatTimeout = t.HeartbeatTimeout
	}
	if t.ElectionTimeout > 0 {
		c.ElectionTimeout = t.ElectionTimeout
	}
	if t.CommitTimeout > 0 {
		c.CommitTimeout = t.CommitTimeout
	}
	if t.LeaderLeaseTimeout > 0 {
		c.LeaderLeaseTimeout = t.LeaderLeaseTimeout
	}
	if t.SnapshotInterval > 0 {
		c.SnapshotInterval = t.SnapshotInterval
	}
	if t.SnapshotThreshold > 0 {
		c.SnapshotThreshold = t.SnapshotThreshold
	}
}

// raftStores bundles the stores and transport a shard's raft runs on.
type raftStores struct {
	logs      raft.LogStore
	stable    raft.StableStore
	snaps     raft.SnapshotStore
	transport raft.Transport
	closers   []io.Closer
}

func (s *raftStores) close(logger *slog.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			logger.Error("close raft store failed", "error", err)
		}
	}
	s.closers = nil
}

// openStores creates the log, stable and snapshot stores and the transport
// described by cfg.
func openStores(cfg *Config, logger *slog.Logger, reg prometheus.Registerer) (_ *raftStores, err error) {
	st := &raftStores{}
	defer func() {
		if err != nil {
			st.close(logger)
		}
	}()

	if cfg.Storage != StorageInmem {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("shard: create data dir: %w", err)
		}
	}

	switch cfg.Storage {
	case StorageBolt:
		logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.Dir, "raft-log.db"))
		if err != nil {
			return nil, fmt.Errorf("shard: create log store: %w", err)
		}
		st.closers = append(st.closers, logStore)
		stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.Dir, "raft-stable.db"))
		if err != nil {
			return nil, fmt.Errorf("shard: create stable store: %w", err)
		}
		st.closers = append(st.closers, stableStore)
		st.logs, st.stable = logStore, stableStore

	case StorageBadger:
		bcfg := storage.DefaultBadgerConfig(filepath.Join(cfg.Dir, "raft-badger"))
		if cfg.Badger != nil {
			bcfg = *cfg.Badger
			bcfg.Dir = filepath.Join(cfg.Dir, "raft-badger")
		}
		bs, err := storage.NewBadgerStore(bcfg, logger.With("store", "badger"))
		if err != nil {
			return nil, fmt.Errorf("shard: create badger store: %w", err)
		}
		st.closers = append(st.closers, bs)
		if reg != nil {
			if err := bs.RegisterMetrics(reg, prometheus.Labels{"shard": cfg.Name}); err != nil {
				return nil, err
			}
		}
		st.logs, st.stable = bs, bs

	case StorageInmem:
		mem := raft.NewInmemStore()
		st.logs, st.stable = mem, mem

	default:
		return nil, fmt.Errorf("shard: unknown storage %q", cfg.Storage)
	}

	if cfg.Storage == StorageInmem {
		st.snaps = raft.NewInmemSnapshotStore()
	} else {
		snaps, err := raft.NewFileSnapshotStoreWithLogger(cfg.Dir, cfg.SnapshotRetain, newHCLogger(logger, "snapshot"))
		if err != nil {
			return nil, fmt.Errorf("shard: create snapshot store: %w", err)
		}
		st.snaps = snaps
	}

	switch cfg.Transport {
	case TransportInmem:
		_, trans := raft.NewInmemTransport(raft.ServerAddress(cfg.BindAddr))
		st.transport = trans
		st.closers = append(st.closers, trans)
	case TransportTCP:
		advertise, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
		if err != nil {
			return nil, fmt.Errorf("shard: resolve bind addr: %w", err)
		}
		trans, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, advertise, 3, 10*time.Second, newHCLogger(logger, "transport"))
		if err != nil {
			return nil, fmt.Errorf("shard: create transport: %w", err)
		}
		st.transport = trans
		st.closers = append(st.closers, trans)
	default:
		return nil, fmt.Errorf("shard: unknown transport %q", cfg.Transport)
	}

	return st, nil
}

// raftConfig builds the hashicorp/raft configuration for a shard.
func raftConfig(cfg *Config, logger *slog.Logger) *raft.Config {
	c := raft.DefaultConfig()
	c.LocalID = raft.ServerID(cfg.NodeID)
	c.Logger = newHCLogger(logger, "raft")
	cfg.Timing.apply(c)
	return c
}

// localConfiguration is a membership of this node alone.
func localConfiguration(cfg *Config, addr raft.ServerAddress) raft.Configuration {
	return raft.Configuration{
		Servers: []raft.Server{{
			Suffrage: raft.Voter,
			ID:       raft.ServerID(cfg.NodeID),
			Address:  addr,
		}},
	}
}
