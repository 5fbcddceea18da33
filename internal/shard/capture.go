package shard

import (
	"errors"
	"fmt"

	"github.com/hashicorp/raft"

	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

// captureAttempts bounds retries when compaction races a capture.
const captureAttempts = 3

// CaptureSource is the raft-side state of a shard replica.
type CaptureSource struct {
	FSM       *FSM
	Logs      raft.LogStore
	Stable    raft.StableStore
	Snapshots raft.SnapshotStore

	// Membership is the latest raft configuration. Nil leaves the
	// captured ServerConfig unset.
	Membership *raft.Configuration
}

// Capture takes a consistent cut of a shard's replicated log.
//
// The order matters: snapshot metadata is read before the FSM so the
// applied position never falls behind a snapshot whose entries may already
// be compacted, and the FSM is read before the log so every entry past the
// applied position is still in the log store.
func Capture(src CaptureSource) (*snapshot.ReplicatedLogSnapshot, error) {
	var err error
	for range captureAttempts {
		var out *snapshot.ReplicatedLogSnapshot
		out, err = captureOnce(src)
		if !errors.Is(err, raft.ErrLogNotFound) {
			return out, err
		}
	}
	return nil, err
}

func captureOnce(src CaptureSource) (*snapshot.ReplicatedLogSnapshot, error) {
	metas, err := src.Snapshots.List()
	if err != nil {
		return nil, fmt.Errorf("shard: list snapshots: %w", err)
	}

	state := src.FSM.capture()
	appliedIndex, appliedTerm := state.AppliedIndex, state.AppliedTerm
	if len(metas) > 0 && metas[0].Index > appliedIndex {
		// Non-command entries advance raft without touching the FSM marks.
		appliedIndex, appliedTerm = metas[0].Index, metas[0].Term
	}

	lastLog, err := src.Logs.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("shard: last index: %w", err)
	}
	lastIndex, lastTerm := appliedIndex, appliedTerm

	var tail []snapshot.LogEntry
	for i := appliedIndex + 1; i <= lastLog; i++ {
		var l raft.Log
		if err := src.Logs.GetLog(i, &l); err != nil {
			return nil, fmt.Errorf("shard: get log %d: %w", i, err)
		}
		e := snapshot.LogEntry{
			Index: int64(l.Index),
			Term:  int64(l.Term),
			Kind:  fromRaftType(l.Type),
		}
		if e.Kind == snapshot.EntryCommand {
			e.Data = l.Data
		}
		tail = append(tail, e)
		lastIndex, lastTerm = l.Index, l.Term
	}

	currentTerm, err := getUint64(src.Stable, keyCurrentTerm)
	if err != nil {
		return nil, fmt.Errorf("shard: %w", err)
	}
	voteTerm, err := getUint64(src.Stable, keyLastVoteTerm)
	if err != nil {
		return nil, fmt.Errorf("shard: %w", err)
	}
	var votedFor string
	if voteTerm == currentTerm {
		if votedFor, err = getString(src.Stable, keyLastVoteCand); err != nil {
			return nil, fmt.Errorf("shard: %w", err)
		}
	}

	var servers *snapshot.ServerConfig
	if src.Membership != nil {
		servers = &snapshot.ServerConfig{}
		for _, s := range src.Membership.Servers {
			servers.Servers = append(servers.Servers, snapshot.ServerInfo{
				ID:      string(s.ID),
				Address: string(s.Address),
				Voting:  s.Suffrage == raft.Voter,
			})
		}
	}

	return snapshot.NewReplicatedLogSnapshot(
		snapshot.NewTreeState(state.Root, state.Metadata),
		tail,
		int64(lastIndex), int64(lastTerm),
		int64(appliedIndex), int64(appliedTerm),
		int64(currentTerm), votedFor, servers)
}
