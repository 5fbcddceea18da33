package snapshot

import (
	"errors"
	"strings"
	"testing"

	"github.com/yndnr/meshstore/internal/datatree"
)

func emptyTree() State {
	return NewTreeState(datatree.NewContainer(""), nil)
}

func cmd(index, term int64) LogEntry {
	return LogEntry{Index: index, Term: term, Kind: EntryCommand, Data: []byte("x")}
}

func TestNewReplicatedLogSnapshot_Validation(t *testing.T) {
	tests := []struct {
		name       string
		entries    []LogEntry
		last       int64
		lastTerm   int64
		applied    int64
		appliedTrm int64
		election   int64
		state      State
		servers    *ServerConfig
		wantErr    string
	}{
		{name: "fresh", state: emptyTree()},
		{name: "fully applied", last: 2, lastTerm: 1, applied: 2, appliedTrm: 1, election: 1, state: emptyTree()},
		{name: "contiguous tail", entries: []LogEntry{cmd(3, 1), cmd(4, 2)}, last: 4, lastTerm: 2, applied: 2, appliedTrm: 1, state: emptyTree()},
		{name: "election term ahead of log", last: 1, lastTerm: 1, applied: 1, appliedTrm: 1, election: 7, state: emptyTree()},
		{name: "gap in tail", entries: []LogEntry{cmd(3, 1), cmd(5, 1)}, last: 4, lastTerm: 1, applied: 2, appliedTrm: 1, state: emptyTree(), wantErr: "has index 5"},
		{name: "missing tail", last: 4, lastTerm: 1, applied: 2, appliedTrm: 1, state: emptyTree(), wantErr: "want 2"},
		{name: "tail when fully applied", entries: []LogEntry{cmd(3, 1)}, last: 2, lastTerm: 1, applied: 2, appliedTrm: 1, state: emptyTree(), wantErr: "want 0"},
		{name: "applied beyond last", last: 1, lastTerm: 1, applied: 2, appliedTrm: 1, state: emptyTree(), wantErr: "beyond last index"},
		{name: "applied term beyond last term", last: 2, lastTerm: 1, applied: 2, appliedTrm: 2, state: emptyTree(), wantErr: "beyond last term"},
		{name: "decreasing terms", entries: []LogEntry{cmd(3, 2), cmd(4, 1)}, last: 4, lastTerm: 2, applied: 2, appliedTrm: 1, state: emptyTree(), wantErr: "outside"},
		{name: "last entry term mismatch", entries: []LogEntry{cmd(3, 1)}, last: 3, lastTerm: 2, applied: 2, appliedTrm: 1, state: emptyTree(), wantErr: "want last term"},
		{name: "negative", last: -1, state: emptyTree(), wantErr: "negative"},
		{name: "missing state", wantErr: "missing state"},
		{name: "duplicate server", state: emptyTree(), servers: &ServerConfig{Servers: []ServerInfo{{ID: "a"}, {ID: "a"}}}, wantErr: "duplicate server"},
		{name: "empty server id", state: emptyTree(), servers: &ServerConfig{Servers: []ServerInfo{{Address: "x"}}}, wantErr: "empty server id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewReplicatedLogSnapshot(tt.state, tt.entries, tt.last, tt.lastTerm,
				tt.applied, tt.appliedTrm, tt.election, "", tt.servers)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if s == nil {
					t.Fatal("nil snapshot without error")
				}
				return
			}
			if !errors.Is(err, ErrInconsistentSnapshot) {
				t.Fatalf("err = %v, want ErrInconsistentSnapshot", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewReplicatedLogSnapshot_CopiesEntries(t *testing.T) {
	entries := []LogEntry{cmd(1, 1)}
	s, err := NewReplicatedLogSnapshot(emptyTree(), entries, 1, 1, 0, 0, 1, "", nil)
	if err != nil {
		t.Fatalf("NewReplicatedLogSnapshot: %v", err)
	}
	entries[0].Index = 99
	if s.UnappliedEntries[0].Index != 1 {
		t.Fatal("snapshot aliases the caller's entry slice")
	}
}

func TestReplicatedLogSnapshot_Equal(t *testing.T) {
	mk := func(value string, voted string) *ReplicatedLogSnapshot {
		root := datatree.NewContainer("", datatree.NewLeaf("k", []byte(value)))
		s, err := NewReplicatedLogSnapshot(NewTreeState(root, map[string]uint64{"n": 1}), nil, 1, 1, 1, 1, 1, voted, nil)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	if !mk("a", "m1").Equal(mk("a", "m1")) {
		t.Error("identical snapshots should be equal")
	}
	if mk("a", "m1").Equal(mk("b", "m1")) {
		t.Error("snapshots with different trees should differ")
	}
	if mk("a", "m1").Equal(mk("a", "m2")) {
		t.Error("snapshots with different votes should differ")
	}
}

func TestDatastoreSnapshot_Validate(t *testing.T) {
	log, err := NewReplicatedLogSnapshot(emptyTree(), nil, 0, 0, 0, 0, 0, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	bad := &ReplicatedLogSnapshot{LastIndex: 1, State: emptyTree()}

	tests := []struct {
		name string
		ds   DatastoreSnapshot
		want string
	}{
		{"empty type", DatastoreSnapshot{}, "empty datastore type"},
		{"empty shard name", DatastoreSnapshot{Type: "config", Shards: []ShardSnapshot{{Log: log}}}, "empty shard name"},
		{"duplicate shard", DatastoreSnapshot{Type: "config", Shards: []ShardSnapshot{{Name: "a", Log: log}, {Name: "a", Log: log}}}, "duplicate shard"},
		{"bad log", DatastoreSnapshot{Type: "config", Shards: []ShardSnapshot{{Name: "a", Log: bad}}}, "config/a"},
		{"missing log", DatastoreSnapshot{Type: "config", Shards: []ShardSnapshot{{Name: "a", Log: log}, {Name: "b"}}}, "config/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ds.Validate()
			var ie *InconsistentSnapshotError
			if !errors.As(err, &ie) {
				t.Fatalf("err = %v, want *InconsistentSnapshotError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to contain %q", err, tt.want)
			}
			if len(tt.ds.Shards) > 0 && tt.ds.Shards[0].Name != "" && ie.Datastore != "config" {
				t.Errorf("Datastore = %q, want config", ie.Datastore)
			}
		})
	}

	b := &Bundle{Datastores: []DatastoreSnapshot{{Type: "config"}, {Type: "config"}}}
	if err := b.Validate(); !errors.Is(err, ErrInconsistentSnapshot) {
		t.Errorf("duplicate type err = %v, want ErrInconsistentSnapshot", err)
	}
}
