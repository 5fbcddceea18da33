package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/hashicorp/raft"
	"github.com/prometheus/client_golang/prometheus"
)

// Common errors
var (
	// ErrKeyNotFound is returned by Get and GetUint64 for a missing key.
	// raft compares the message, so it must stay "not found".
	ErrKeyNotFound = errors.New("not found")
	ErrClosed      = errors.New("storage: store closed")
)

var (
	logPrefix    = []byte("l/")
	stablePrefix = []byte("s/")
)

// BadgerStore implements raft.LogStore and raft.StableStore on Badger v3.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger
	closed atomic.Bool

	gcRuns      atomic.Uint64
	metricsSize *prometheus.GaugeVec
	metricsGC   prometheus.CounterFunc
	metricsLogs prometheus.Counter

	stopCh chan struct{}
	doneCh chan struct{}
}

var (
	_ raft.LogStore    = (*BadgerStore)(nil)
	_ raft.StableStore = (*BadgerStore)(nil)
)

// NewBadgerStore opens a store. The returned store runs a GC goroutine
// until Close.
func NewBadgerStore(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("storage: badger dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts.Logger = &badgerLogger{logger: logger}
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumMemtables > 0 {
		opts.NumMemtables = cfg.NumMemtables
	}
	if cfg.NumLevelZeroTables > 0 {
		opts.NumLevelZeroTables = cfg.NumLevelZeroTables
	}
	if cfg.NumLevelZeroTablesStall > 0 {
		opts.NumLevelZeroTablesStall = cfg.NumLevelZeroTablesStall
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.DetectConflicts = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	s.metricsLogs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meshstore",
		Subsystem: "badger",
		Name:      "log_entries_stored_total",
		Help:      "Raft log entries written to Badger.",
	})
	s.metricsSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meshstore",
		Subsystem: "badger",
		Name:      "size_bytes",
		Help:      "Badger on-disk size by component (lsm, vlog).",
	}, []string{"component"})
	s.metricsGC = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "meshstore",
		Subsystem: "badger",
		Name:      "gc_rewrites_total",
		Help:      "Value log files rewritten by GC.",
	}, func() float64 { return float64(s.gcRuns.Load()) })

	go s.gcLoop()

	logger.Info("badger store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"sync_writes", cfg.SyncWrites)
	return s, nil
}

func logKey(index uint64) []byte {
	k := make([]byte, len(logPrefix)+8)
	copy(k, logPrefix)
	binary.BigEndian.PutUint64(k[len(logPrefix):], index)
	return k
}

func stableKey(key []byte) []byte {
	k := make([]byte, 0, len(stablePrefix)+len(key))
	return append(append(k, stablePrefix...), key...)
}

// FirstIndex returns the first stored log index, or 0.
func (s *BadgerStore) FirstIndex() (uint64, error) {
	return s.edgeIndex(false)
}

// LastIndex returns the last stored log index, or 0.
func (s *BadgerStore) LastIndex() (uint64, error) {
	return s.edgeIndex(true)
}

func (s *BadgerStore) edgeIndex(last bool) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var index uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = logPrefix
		opts.Reverse = last
		it := txn.NewIterator(opts)
		defer it.Close()

		if last {
			it.Seek(logKey(math.MaxUint64))
		} else {
			it.Rewind()
		}
		if it.ValidForPrefix(logPrefix) {
			index = binary.BigEndian.Uint64(it.Item().Key()[len(logPrefix):])
		}
		return nil
	})
	return index, err
}

// GetLog loads the entry at index into out.
func (s *BadgerStore) GetLog(index uint64, out *raft.Log) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(logKey(index))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return raft.ErrLogNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return decodeLog(v, out)
		})
	})
}

// StoreLog stores one entry.
func (s *BadgerStore) StoreLog(l *raft.Log) error {
	return s.StoreLogs([]*raft.Log{l})
}

// StoreLogs stores entries in one batch.
func (s *BadgerStore) StoreLogs(logs []*raft.Log) error {
	if s.closed.Load() {
		return ErrClosed
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, l := range logs {
		if err := wb.Set(logKey(l.Index), encodeLog(l)); err != nil {
			return fmt.Errorf("storage: store log %d: %w", l.Index, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("storage: flush logs: %w", err)
	}
	s.metricsLogs.Add(float64(len(logs)))
	return nil
}

// DeleteRange removes entries in [min, max].
func (s *BadgerStore) DeleteRange(min, max uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = logPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(logKey(min)); it.ValidForPrefix(logPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if binary.BigEndian.Uint64(key[len(logPrefix):]) > max {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("storage: delete range: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("storage: delete range: %w", err)
	}
	s.logger.Debug("log range deleted", "min", min, "max", max, "deleted", len(keys))
	return nil
}

// Set stores a stable-store value.
func (s *BadgerStore) Set(key, val []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stableKey(key), append([]byte(nil), val...))
	})
}

// Get returns a stable-store value or ErrKeyNotFound.
func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stableKey(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// SetUint64 stores a big-endian uint64.
func (s *BadgerStore) SetUint64(key []byte, val uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], val)
	return s.Set(key, b[:])
}

// GetUint64 returns a value stored by SetUint64.
func (s *BadgerStore) GetUint64(key []byte) (uint64, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("storage: value for %q is %d bytes, want 8", key, len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

// GC runs value log GC until nothing is left to rewrite and returns the
// number of rewrites.
func (s *BadgerStore) GC() (int, error) {
	if s.cfg.InMemory {
		return 0, nil
	}
	rewrites := 0
	for {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
				break
			}
			return rewrites, fmt.Errorf("storage: gc: %w", err)
		}
		rewrites++
	}
	s.gcRuns.Add(uint64(rewrites))
	return rewrites, nil
}

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("storage: close badger: %w", err)
	}
	s.logger.Info("badger store closed", "dir", s.cfg.Dir)
	return nil
}

// RegisterMetrics registers the store's collectors. labels are attached
// as constant labels, e.g. the shard name, so several stores can share one
// registry.
func (s *BadgerStore) RegisterMetrics(reg prometheus.Registerer, labels prometheus.Labels) error {
	wrapped := prometheus.WrapRegistererWith(labels, reg)
	for _, c := range []prometheus.Collector{s.metricsLogs, s.metricsSize, s.metricsGC} {
		if err := wrapped.Register(c); err != nil {
			return fmt.Errorf("storage: register metrics: %w", err)
		}
	}
	s.updateSize()
	return nil
}

func (s *BadgerStore) updateSize() {
	lsm, vlog := s.db.Size()
	s.metricsSize.WithLabelValues("lsm").Set(float64(lsm))
	s.metricsSize.WithLabelValues("vlog").Set(float64(vlog))
}

// gcLoop runs GC and refreshes size gauges on cfg.GCInterval.
func (s *BadgerStore) gcLoop() {
	defer close(s.doneCh)

	interval := s.cfg.GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.GC(); err != nil {
				s.logger.Error("badger gc failed", "error", err)
			} else if n > 0 {
				s.logger.Info("badger gc completed", "rewrites", n)
			}
			s.updateSize()
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
