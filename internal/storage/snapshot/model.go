package snapshot

import (
	"bytes"
	"errors"
	"fmt"
)

// EntryKind classifies a replicated log entry.
type EntryKind uint8

const (
	EntryCommand EntryKind = iota
	EntryNoop
	EntryBarrier
	EntryConfiguration
)

func (k EntryKind) String() string {
	switch k {
	case EntryCommand:
		return "command"
	case EntryNoop:
		return "noop"
	case EntryBarrier:
		return "barrier"
	case EntryConfiguration:
		return "configuration"
	default:
		return fmt.Sprintf("EntryKind(%d)", uint8(k))
	}
}

// LogEntry is one replicated log entry.
type LogEntry struct {
	Index int64
	Term  int64
	Kind  EntryKind
	Data  []byte
}

func (e LogEntry) equal(o LogEntry) bool {
	return e.Index == o.Index && e.Term == o.Term && e.Kind == o.Kind && bytes.Equal(e.Data, o.Data)
}

// ServerInfo is one member of a shard's raft configuration.
type ServerInfo struct {
	ID      string
	Address string
	Voting  bool
}

// ServerConfig is the raft membership captured with a log snapshot.
type ServerConfig struct {
	Servers []ServerInfo
}

func (c *ServerConfig) validate() error {
	seen := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		if s.ID == "" {
			return inconsistent("server config: empty server id")
		}
		if _, dup := seen[s.ID]; dup {
			return inconsistent("server config: duplicate server id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func (c *ServerConfig) equal(o *ServerConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	if len(c.Servers) != len(o.Servers) {
		return false
	}
	for i := range c.Servers {
		if c.Servers[i] != o.Servers[i] {
			return false
		}
	}
	return true
}

// ReplicatedLogSnapshot is the persisted consensus state of one shard: log
// position, applied position, election metadata, the entries past the
// applied position and the state machine contents at the applied position.
type ReplicatedLogSnapshot struct {
	LastIndex        int64
	LastTerm         int64
	LastAppliedIndex int64
	LastAppliedTerm  int64
	UnappliedEntries []LogEntry
	ElectionTerm     int64
	ElectionVotedFor string
	State            State
	ServerConfig     *ServerConfig
}

// NewReplicatedLogSnapshot builds a validated snapshot. The unapplied
// entries are copied.
func NewReplicatedLogSnapshot(state State, unapplied []LogEntry,
	lastIndex, lastTerm, lastAppliedIndex, lastAppliedTerm, electionTerm int64,
	electionVotedFor string, servers *ServerConfig,
) (*ReplicatedLogSnapshot, error) {
	s := &ReplicatedLogSnapshot{
		LastIndex:        lastIndex,
		LastTerm:         lastTerm,
		LastAppliedIndex: lastAppliedIndex,
		LastAppliedTerm:  lastAppliedTerm,
		UnappliedEntries: append([]LogEntry(nil), unapplied...),
		ElectionTerm:     electionTerm,
		ElectionVotedFor: electionVotedFor,
		State:            state,
		ServerConfig:     servers,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the log invariants. ElectionTerm is not related to
// LastTerm: a node may have voted in a later term than any entry it holds.
func (s *ReplicatedLogSnapshot) Validate() error {
	if s == nil {
		return inconsistent("missing log snapshot")
	}
	switch {
	case s.LastIndex < 0, s.LastTerm < 0, s.LastAppliedIndex < 0, s.LastAppliedTerm < 0, s.ElectionTerm < 0:
		return inconsistent("negative index or term")
	case s.LastAppliedIndex > s.LastIndex:
		return inconsistent("last applied index %d beyond last index %d", s.LastAppliedIndex, s.LastIndex)
	case s.LastAppliedTerm > s.LastTerm:
		return inconsistent("last applied term %d beyond last term %d", s.LastAppliedTerm, s.LastTerm)
	case s.State == nil:
		return inconsistent("missing state")
	}

	want := s.LastIndex - s.LastAppliedIndex
	if int64(len(s.UnappliedEntries)) != want {
		return inconsistent("have %d unapplied entries, want %d (applied %d, last %d)",
			len(s.UnappliedEntries), want, s.LastAppliedIndex, s.LastIndex)
	}
	prevTerm := s.LastAppliedTerm
	for i, e := range s.UnappliedEntries {
		if e.Index != s.LastAppliedIndex+1+int64(i) {
			return inconsistent("unapplied entry %d has index %d, want %d", i, e.Index, s.LastAppliedIndex+1+int64(i))
		}
		if e.Term < prevTerm || e.Term > s.LastTerm {
			return inconsistent("unapplied entry %d has term %d outside [%d, %d]", e.Index, e.Term, prevTerm, s.LastTerm)
		}
		prevTerm = e.Term
	}
	if n := len(s.UnappliedEntries); n > 0 && s.UnappliedEntries[n-1].Term != s.LastTerm {
		return inconsistent("last unapplied entry term %d, want last term %d", s.UnappliedEntries[n-1].Term, s.LastTerm)
	}

	if s.ServerConfig != nil {
		if err := s.ServerConfig.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Equal compares every field. States compare by content.
func (s *ReplicatedLogSnapshot) Equal(o *ReplicatedLogSnapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.LastIndex != o.LastIndex || s.LastTerm != o.LastTerm ||
		s.LastAppliedIndex != o.LastAppliedIndex || s.LastAppliedTerm != o.LastAppliedTerm ||
		s.ElectionTerm != o.ElectionTerm || s.ElectionVotedFor != o.ElectionVotedFor {
		return false
	}
	if len(s.UnappliedEntries) != len(o.UnappliedEntries) {
		return false
	}
	for i := range s.UnappliedEntries {
		if !s.UnappliedEntries[i].equal(o.UnappliedEntries[i]) {
			return false
		}
	}
	return statesEqual(s.State, o.State) && s.ServerConfig.equal(o.ServerConfig)
}

// TreeState returns the tree state, if that is what the snapshot holds.
func (s *ReplicatedLogSnapshot) TreeState() (*TreeState, bool) {
	ts, ok := s.State.(*TreeState)
	return ts, ok && ts != nil
}

// ShardSnapshot names the shard a log snapshot belongs to.
type ShardSnapshot struct {
	Name string
	Log  *ReplicatedLogSnapshot
}

// DatastoreSnapshot is everything needed to restore one datastore domain.
// ManagerSnapshot is opaque here; nil means absent, an empty non-nil slice
// is a present but empty blob.
type DatastoreSnapshot struct {
	Type            string
	ManagerSnapshot []byte
	Shards          []ShardSnapshot
}

// Shard returns the snapshot of the named shard, or nil.
func (d *DatastoreSnapshot) Shard(name string) *ShardSnapshot {
	for i := range d.Shards {
		if d.Shards[i].Name == name {
			return &d.Shards[i]
		}
	}
	return nil
}

// ShardNames lists shard names in snapshot order.
func (d *DatastoreSnapshot) ShardNames() []string {
	names := make([]string, len(d.Shards))
	for i, s := range d.Shards {
		names[i] = s.Name
	}
	return names
}

// Validate checks the datastore type, shard names and every log snapshot.
func (d *DatastoreSnapshot) Validate() error {
	if d.Type == "" {
		return inconsistent("empty datastore type")
	}
	seen := make(map[string]struct{}, len(d.Shards))
	for _, s := range d.Shards {
		if s.Name == "" {
			return &InconsistentSnapshotError{Datastore: d.Type, Reason: "empty shard name"}
		}
		if _, dup := seen[s.Name]; dup {
			return &InconsistentSnapshotError{Datastore: d.Type, Shard: s.Name, Reason: "duplicate shard"}
		}
		seen[s.Name] = struct{}{}
		if err := s.Log.Validate(); err != nil {
			var ie *InconsistentSnapshotError
			if !errors.As(err, &ie) {
				return fmt.Errorf("snapshot: datastore %s shard %s: %w", d.Type, s.Name, err)
			}
			ie.Datastore, ie.Shard = d.Type, s.Name
			return ie
		}
	}
	return nil
}

// Equal compares type, manager blob (including absent vs empty) and shards
// in order.
func (d *DatastoreSnapshot) Equal(o *DatastoreSnapshot) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.Type != o.Type || (d.ManagerSnapshot == nil) != (o.ManagerSnapshot == nil) ||
		!bytes.Equal(d.ManagerSnapshot, o.ManagerSnapshot) || len(d.Shards) != len(o.Shards) {
		return false
	}
	for i := range d.Shards {
		if d.Shards[i].Name != o.Shards[i].Name || !d.Shards[i].Log.Equal(o.Shards[i].Log) {
			return false
		}
	}
	return true
}

// Bundle is the content of one backup artifact.
type Bundle struct {
	Datastores []DatastoreSnapshot
}

// Validate checks every datastore and that types are unique.
func (b *Bundle) Validate() error {
	seen := make(map[string]struct{}, len(b.Datastores))
	for i := range b.Datastores {
		ds := &b.Datastores[i]
		if err := ds.Validate(); err != nil {
			return err
		}
		if _, dup := seen[ds.Type]; dup {
			return &InconsistentSnapshotError{Datastore: ds.Type, Reason: "duplicate datastore type"}
		}
		seen[ds.Type] = struct{}{}
	}
	return nil
}

// Types lists datastore types in bundle order.
func (b *Bundle) Types() []string {
	types := make([]string, len(b.Datastores))
	for i, ds := range b.Datastores {
		types[i] = ds.Type
	}
	return types
}
