package shard

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/yndnr/meshstore/internal/datatree"
)

// FSM applies committed tree commands to a shard's data tree.
//
// Besides the tree it tracks the index and term of the last command it
// applied. Those marks travel inside FSM snapshots because raft does not
// pass snapshot metadata to Restore.
type FSM struct {
	mu           sync.RWMutex
	tree         *datatree.Tree
	appliedIndex uint64
	appliedTerm  uint64

	logger *slog.Logger
}

// NewFSM creates an FSM over an empty tree.
func NewFSM(logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{
		tree:   datatree.New(),
		logger: logger,
	}
}

// Apply applies a committed command.
//
// An undecodable command means the log is corrupt or was written by an
// incompatible version, and Apply panics. A command that decodes but fails
// against the tree (e.g. a name mismatch) fails the same way on every
// replica, so the error is returned as the apply response instead.
func (f *FSM) Apply(l *raft.Log) interface{} {
	cmd, err := datatree.DecodeCommand(l.Data)
	if err != nil {
		f.logger.Error("FATAL: failed to decode tree command - log corrupted",
			"error", err,
			"log_index", l.Index,
			"log_term", l.Term)
		panic(fmt.Sprintf("FSM.Apply: decode failed at index=%d: %v", l.Index, err))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.appliedIndex, f.appliedTerm = l.Index, l.Term
	if err := f.tree.Apply(cmd); err != nil {
		f.logger.Debug("tree command rejected",
			"op", cmd.Op,
			"path", cmd.Path,
			"log_index", l.Index,
			"error", err)
		return err
	}
	return nil
}

// Tree returns the live tree. Reads through it are safe at any time.
func (f *FSM) Tree() *datatree.Tree {
	return f.tree
}

// Applied returns the index and term of the last applied command.
func (f *FSM) Applied() (index, term uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.appliedIndex, f.appliedTerm
}

// capture returns the tree contents and applied marks as one cut.
func (f *FSM) capture() fsmState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	root, meta := f.tree.State()
	return fsmState{
		AppliedIndex: f.appliedIndex,
		AppliedTerm:  f.appliedTerm,
		Root:         root,
		Metadata:     meta,
	}
}

// load replaces the whole state.
func (f *FSM) load(st fsmState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tree.Load(st.Root, st.Metadata)
	f.appliedIndex, f.appliedTerm = st.AppliedIndex, st.AppliedTerm
}

// Snapshot captures the FSM for raft log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{state: f.capture()}, nil
}

// Restore replaces the FSM state from a snapshot written by Persist.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	st, err := readFSMState(r)
	if err != nil {
		return err
	}
	f.load(st)

	f.logger.Info("fsm state restored from snapshot",
		"applied_index", st.AppliedIndex,
		"applied_term", st.AppliedTerm,
		"nodes", st.Root.Len())
	return nil
}

// fsmState is the snapshot payload: gzip-compressed JSON.
type fsmState struct {
	AppliedIndex uint64            `json:"applied_index"`
	AppliedTerm  uint64            `json:"applied_term"`
	Root         *datatree.Node    `json:"root"`
	Metadata     map[string]uint64 `json:"metadata,omitempty"`
}

func readFSMState(r io.Reader) (fsmState, error) {
	var st fsmState
	gz, err := gzip.NewReader(r)
	if err != nil {
		return st, fmt.Errorf("shard: create gzip reader: %w", err)
	}
	defer gz.Close()

	if err := json.NewDecoder(gz).Decode(&st); err != nil {
		return st, fmt.Errorf("shard: decode fsm snapshot: %w", err)
	}
	return st, nil
}

func writeFSMState(w io.Writer, st fsmState) error {
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(st); err != nil {
		gz.Close()
		return fmt.Errorf("shard: encode fsm snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("shard: close gzip writer: %w", err)
	}
	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	state fsmState
}

// Persist writes the snapshot to the sink, cancelling it on failure.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := writeFSMState(sink, s.state); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release is a no-op; the state is an immutable copy.
func (s *fsmSnapshot) Release() {}
