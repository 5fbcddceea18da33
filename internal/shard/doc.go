// Package shard runs one raft-replicated data tree.
//
// A Shard pairs a hashicorp/raft instance with an FSM over a
// datatree.Tree. Raft state lives in BoltDB, Badger or memory, selected by
// Config.Storage.
//
// Snapshot captures the replicated log as a snapshot.ReplicatedLogSnapshot:
// the tree at the applied position, the unapplied tail, the election term
// and vote, and the membership. Open with Config.Restore does the reverse
// on empty stores, seeding a raft snapshot, the tail and the stable store
// before handing over to raft.RecoverCluster.
//
// @design DS-0401
package shard
