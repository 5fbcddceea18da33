package snapshot

import (
	"encoding/json"
	"fmt"
)

// shardManagerSnapshotVersion is bumped whenever the JSON shape changes.
const shardManagerSnapshotVersion = 1

// ShardManagerSnapshot records which shards a datastore manager ran. It
// travels inside DatastoreSnapshot.ManagerSnapshot as an opaque blob with
// its own versioned encoding.
type ShardManagerSnapshot struct {
	ShardNames []string
}

// NewShardManagerSnapshot returns a snapshot holding names once each, in
// first-seen order.
func NewShardManagerSnapshot(names []string) *ShardManagerSnapshot {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return &ShardManagerSnapshot{ShardNames: out}
}

type shardManagerSnapshotJSON struct {
	Version    int      `json:"version"`
	ShardNames []string `json:"shard_names"`
}

// EncodeShardManagerSnapshot serializes s.
func EncodeShardManagerSnapshot(s *ShardManagerSnapshot) ([]byte, error) {
	names := s.ShardNames
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(shardManagerSnapshotJSON{
		Version:    shardManagerSnapshotVersion,
		ShardNames: names,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode manager snapshot: %w", err)
	}
	return data, nil
}

// DecodeShardManagerSnapshot parses a blob written by
// EncodeShardManagerSnapshot. Duplicate names are collapsed.
func DecodeShardManagerSnapshot(data []byte) (*ShardManagerSnapshot, error) {
	var raw shardManagerSnapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, corrupt("decode manager snapshot", err)
	}
	if raw.Version != shardManagerSnapshotVersion {
		return nil, corruptf("manager snapshot version %d not supported", raw.Version)
	}
	return NewShardManagerSnapshot(raw.ShardNames), nil
}
