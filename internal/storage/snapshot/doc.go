// Package snapshot defines the persisted snapshot model of meshstore and
// its on-disk container.
//
// A backup bundle holds one DatastoreSnapshot per datastore domain
// ("config", "operational", ...). Each carries the shard-manager snapshot as
// an opaque blob and one ShardSnapshot per shard, which pairs the shard
// name with its ReplicatedLogSnapshot: raft log position, election state,
// the unapplied log tail and the captured tree state.
//
// Container layout:
//
//	[magic:8 "MESHBKUP"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[PayloadLen:4][Payload:PayloadLen]   (protowire bundle, or encrypted bytes)
//	[checksum:32 SHA-256 of all bytes above]
//
// The payload uses protobuf wire encoding with fixed field numbers, written
// in ascending field order so identical bundles encode to identical bytes.
// Decoding failures surface as *CorruptSnapshotError; content that decodes
// but breaks the log invariants surfaces as *InconsistentSnapshotError.
//
// @design DS-0602
package snapshot
