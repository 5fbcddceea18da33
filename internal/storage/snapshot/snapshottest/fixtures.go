// Package snapshottest builds snapshot fixtures shared by tests.
package snapshottest

import (
	"github.com/yndnr/meshstore/internal/datatree"
	"github.com/yndnr/meshstore/internal/datatree/treetest"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

// Datastore types used by the fixtures.
const (
	ConfigType      = "config"
	OperationalType = "operational"
)

// Log returns a fully applied log snapshot at index 2, term 1 holding root,
// with a vote for member-1 in term 1.
func Log(root *datatree.Node) *snapshot.ReplicatedLogSnapshot {
	s, err := snapshot.NewReplicatedLogSnapshot(
		snapshot.NewTreeState(root, map[string]uint64{datatree.MetaNextTransactionID: 2}),
		nil, 2, 1, 2, 1, 1, "member-1", nil)
	if err != nil {
		panic(err)
	}
	return s
}

// ConfigDatastore returns the config snapshot: a manager snapshot naming
// config-one and config-two, config-one holding two cars and config-two an
// empty people container.
func ConfigDatastore() snapshot.DatastoreSnapshot {
	mgr, err := snapshot.EncodeShardManagerSnapshot(
		snapshot.NewShardManagerSnapshot([]string{"config-one", "config-two"}))
	if err != nil {
		panic(err)
	}
	cars := treetest.CarsNode(treetest.CarEntry("optima", 20000), treetest.CarEntry("sportage", 30000))
	return snapshot.DatastoreSnapshot{
		Type:            ConfigType,
		ManagerSnapshot: mgr,
		Shards: []snapshot.ShardSnapshot{
			{Name: "config-one", Log: Log(treetest.RootWith(treetest.CarsPath, cars))},
			{Name: "config-two", Log: Log(treetest.RootWith(treetest.PeoplePath, treetest.PeopleEmptyContainer()))},
		},
	}
}

// ConfigShard returns the log of the named shard in ConfigDatastore, or
// nil when there is no such shard.
func ConfigShard(name string) *snapshot.ReplicatedLogSnapshot {
	ds := ConfigDatastore()
	if s := ds.Shard(name); s != nil {
		return s.Log
	}
	return nil
}

// OperationalDatastore returns the operational snapshot: no manager
// snapshot and one shard holding the empty test container.
func OperationalDatastore() snapshot.DatastoreSnapshot {
	return snapshot.DatastoreSnapshot{
		Type: OperationalType,
		Shards: []snapshot.ShardSnapshot{
			{Name: "oper-one", Log: Log(treetest.RootWith(treetest.TestPath, treetest.TestContainer()))},
		},
	}
}

// Bundle returns a bundle holding the config and operational datastores.
func Bundle() *snapshot.Bundle {
	return &snapshot.Bundle{Datastores: []snapshot.DatastoreSnapshot{ConfigDatastore(), OperationalDatastore()}}
}

// WithTail returns a log snapshot applied up to index 2, term 1 followed by
// one unapplied command per cmd from index 3 in term 2.
func WithTail(root *datatree.Node, cmds ...[]byte) *snapshot.ReplicatedLogSnapshot {
	entries := make([]snapshot.LogEntry, len(cmds))
	for i, c := range cmds {
		entries[i] = snapshot.LogEntry{Index: int64(3 + i), Term: 2, Kind: snapshot.EntryCommand, Data: c}
	}
	last := int64(2 + len(cmds))
	lastTerm := int64(1)
	if len(cmds) > 0 {
		lastTerm = 2
	}
	s, err := snapshot.NewReplicatedLogSnapshot(
		snapshot.NewTreeState(root, nil),
		entries, last, lastTerm, 2, 1, lastTerm, "", nil)
	if err != nil {
		panic(err)
	}
	return s
}
