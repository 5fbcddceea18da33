package shard

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/hashicorp/raft"

	"github.com/yndnr/meshstore/internal/datatree"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

// Raft stable store keys. hashicorp/raft does not export them.
var (
	keyCurrentTerm  = []byte("CurrentTerm")
	keyLastVoteTerm = []byte("LastVoteTerm")
	keyLastVoteCand = []byte("LastVoteCand")
)

// restoreLog seeds empty raft stores from a captured log snapshot.
//
// The applied state becomes a raft snapshot at the applied position, the
// unapplied entries are stored after it and the election metadata goes to
// the stable store. raft.RecoverCluster then replays the tail and rewrites
// the membership, so the node starts as a cluster of its own unless the
// captured membership is preserved.
func restoreLog(rc *raft.Config, cfg *Config, st *raftStores, fsm *FSM, logger *slog.Logger) error {
	log := cfg.Restore
	if err := log.Validate(); err != nil {
		return fmt.Errorf("shard: restore %s: %w", cfg.Name, err)
	}
	ts, ok := log.TreeState()
	if !ok {
		return fmt.Errorf("shard: restore %s: %w: %s", cfg.Name, snapshot.ErrUnknownStateKind, log.State.Kind())
	}
	for _, e := range log.UnappliedEntries {
		if e.Kind != snapshot.EntryCommand {
			continue
		}
		if _, err := datatree.DecodeCommand(e.Data); err != nil {
			return fmt.Errorf("shard: restore %s: entry %d: %w", cfg.Name, e.Index, err)
		}
	}

	conf, err := restoreConfiguration(cfg, log.ServerConfig, st.transport.LocalAddr())
	if err != nil {
		return err
	}

	state := fsmState{
		AppliedIndex: uint64(log.LastAppliedIndex),
		AppliedTerm:  uint64(log.LastAppliedTerm),
		Root:         ts.Root.Clone(),
		Metadata:     maps.Clone(ts.Metadata),
	}
	if state.Root == nil {
		state.Root = datatree.NewContainer("")
	}

	if log.LastIndex == 0 {
		// Nothing was ever committed, so there is nothing to recover. An
		// empty log cannot carry a tree without a snapshot to hold it.
		if len(state.Root.Children) > 0 {
			return fmt.Errorf("shard: restore %s: %w", cfg.Name, ErrStateWithoutLog)
		}
		if err := raft.BootstrapCluster(rc, st.logs, st.stable, st.snaps, st.transport, conf); err != nil {
			return fmt.Errorf("shard: bootstrap %s: %w", cfg.Name, err)
		}
		fsm.load(state)
		return writeElection(st.stable, log)
	}

	if log.LastAppliedIndex > 0 {
		if log.LastAppliedTerm == 0 {
			return fmt.Errorf("shard: restore %s: applied index %d has term 0", cfg.Name, log.LastAppliedIndex)
		}
		if err := seedSnapshot(st, conf, state); err != nil {
			return fmt.Errorf("shard: restore %s: %w", cfg.Name, err)
		}
	} else {
		fsm.load(state)
	}

	if n := len(log.UnappliedEntries); n > 0 {
		entries := make([]*raft.Log, n)
		for i, e := range log.UnappliedEntries {
			entries[i] = toRaftLog(e)
		}
		if err := st.logs.StoreLogs(entries); err != nil {
			return fmt.Errorf("shard: restore %s: store logs: %w", cfg.Name, err)
		}
	}
	if err := writeElection(st.stable, log); err != nil {
		return fmt.Errorf("shard: restore %s: %w", cfg.Name, err)
	}

	if len(log.UnappliedEntries) == 0 {
		// The seeded snapshot already carries conf. RecoverCluster must not
		// run over an empty log store: it compacts range 0..0 and leaves the
		// inmem store's high index wrapped.
		logRestored(logger, log, conf, "snapshot")
		return nil
	}
	if err := raft.RecoverCluster(rc, fsm, st.logs, st.stable, st.snaps, st.transport, conf); err != nil {
		return fmt.Errorf("shard: recover %s: %w", cfg.Name, err)
	}

	logRestored(logger, log, conf, "recover")
	return nil
}

func logRestored(logger *slog.Logger, log *snapshot.ReplicatedLogSnapshot, conf raft.Configuration, mode string) {
	logger.Info("shard restored from log snapshot",
		"mode", mode,
		"last_index", log.LastIndex,
		"last_term", log.LastTerm,
		"applied_index", log.LastAppliedIndex,
		"unapplied", len(log.UnappliedEntries),
		"election_term", log.ElectionTerm,
		"servers", len(conf.Servers))
}

// seedSnapshot writes state as the newest raft snapshot.
func seedSnapshot(st *raftStores, conf raft.Configuration, state fsmState) error {
	sink, err := st.snaps.Create(raft.SnapshotVersionMax, state.AppliedIndex, state.AppliedTerm, conf, 1, st.transport)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := writeFSMState(sink, state); err != nil {
		sink.Cancel()
		return err
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return nil
}

// writeElection raises the persisted term to cover both the election term
// and the log, and records the vote.
func writeElection(stable raft.StableStore, log *snapshot.ReplicatedLogSnapshot) error {
	current, err := getUint64(stable, keyCurrentTerm)
	if err != nil {
		return err
	}
	term := max(current, uint64(log.ElectionTerm), uint64(log.LastTerm))
	if term != current {
		if err := stable.SetUint64(keyCurrentTerm, term); err != nil {
			return fmt.Errorf("set current term: %w", err)
		}
	}
	if log.ElectionVotedFor == "" {
		return nil
	}
	if err := stable.SetUint64(keyLastVoteTerm, uint64(log.ElectionTerm)); err != nil {
		return fmt.Errorf("set vote term: %w", err)
	}
	if err := stable.Set(keyLastVoteCand, []byte(log.ElectionVotedFor)); err != nil {
		return fmt.Errorf("set vote candidate: %w", err)
	}
	return nil
}

// restoreConfiguration returns the membership a restored shard recovers
// into: the local node alone, or the captured membership with the local
// address refreshed.
func restoreConfiguration(cfg *Config, captured *snapshot.ServerConfig, local raft.ServerAddress) (raft.Configuration, error) {
	if !cfg.PreserveMembership || captured == nil || len(captured.Servers) == 0 {
		return localConfiguration(cfg, local), nil
	}

	var conf raft.Configuration
	found := false
	for _, s := range captured.Servers {
		srv := raft.Server{
			Suffrage: raft.Nonvoter,
			ID:       raft.ServerID(s.ID),
			Address:  raft.ServerAddress(s.Address),
		}
		if s.Voting {
			srv.Suffrage = raft.Voter
		}
		if s.ID == cfg.NodeID {
			srv.Address = local
			found = true
		}
		conf.Servers = append(conf.Servers, srv)
	}
	if !found {
		return raft.Configuration{}, fmt.Errorf("shard: restore %s: %w: %q", cfg.Name, ErrNotMember, cfg.NodeID)
	}
	return conf, nil
}

func toRaftLog(e snapshot.LogEntry) *raft.Log {
	l := &raft.Log{Index: uint64(e.Index), Term: uint64(e.Term)}
	switch e.Kind {
	case snapshot.EntryCommand:
		l.Type = raft.LogCommand
		l.Data = e.Data
	case snapshot.EntryBarrier:
		l.Type = raft.LogBarrier
	default:
		// Configuration entries are replaced by the recovered membership.
		l.Type = raft.LogNoop
	}
	return l
}

func fromRaftType(t raft.LogType) snapshot.EntryKind {
	switch t {
	case raft.LogCommand:
		return snapshot.EntryCommand
	case raft.LogBarrier:
		return snapshot.EntryBarrier
	case raft.LogConfiguration, raft.LogAddPeerDeprecated, raft.LogRemovePeerDeprecated:
		return snapshot.EntryConfiguration
	default:
		return snapshot.EntryNoop
	}
}

// getUint64 reads a stable key, treating a missing key as zero. Stores
// report a missing key with the error text "not found".
func getUint64(stable raft.StableStore, key []byte) (uint64, error) {
	v, err := stable.GetUint64(key)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

func getString(stable raft.StableStore, key []byte) (string, error) {
	v, err := stable.Get(key)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(v), nil
}

func isNotFound(err error) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if err.Error() == "not found" {
			return true
		}
	}
	return false
}
