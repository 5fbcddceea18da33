package shard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/raft"

	"github.com/yndnr/meshstore/internal/datatree"
	"github.com/yndnr/meshstore/internal/datatree/treetest"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
	"github.com/yndnr/meshstore/internal/storage/snapshot/snapshottest"
)

func testTiming() Timing {
	return Timing{
		HeartbeatTimeout:   50 * time.Millisecond,
		ElectionTimeout:    50 * time.Millisecond,
		LeaderLeaseTimeout: 50 * time.Millisecond,
		CommitTimeout:      5 * time.Millisecond,
	}
}

func memConfig(name string) Config {
	return Config{
		Name:      name,
		NodeID:    "node-1",
		Storage:   StorageInmem,
		Transport: TransportInmem,
		Timing:    testTiming(),
		Logger:    discardLogger(),
	}
}

func boltConfig(t *testing.T, name, dir string) Config {
	t.Helper()
	cfg := memConfig(name)
	cfg.Storage = StorageBolt
	cfg.Dir = dir
	return cfg
}

func openShard(t *testing.T, cfg Config) *Shard {
	t.Helper()
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open(%s): %v", cfg.Name, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitReady(t *testing.T, s *Shard) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitLeader(ctx); err != nil {
		t.Fatalf("WaitLeader: %v", err)
	}
	if err := s.WaitCaughtUp(ctx); err != nil {
		t.Fatalf("WaitCaughtUp: %v", err)
	}
}

func writeCars(t *testing.T, s *Shard, entries ...*datatree.Node) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Write(ctx, datatree.Command{Op: datatree.OpWrite, Path: "/cars", Node: treetest.CarsNode(entries...)})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func mustCommand(t *testing.T, cmd datatree.Command) []byte {
	t.Helper()
	data, err := datatree.EncodeCommand(cmd)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestOpen_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"missing name", Config{NodeID: "n", Storage: StorageInmem}, ErrNameRequired},
		{"missing node id", Config{Name: "s", Storage: StorageInmem}, ErrNodeIDRequired},
		{"missing dir", Config{Name: "s", NodeID: "n"}, ErrDirRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.cfg); !errors.Is(err, tt.want) {
				t.Fatalf("Open = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestShard_BootstrapWriteSnapshot(t *testing.T) {
	s := openShard(t, memConfig("config-one"))
	waitReady(t, s)

	writeCars(t, s, treetest.CarEntry("optima", 20000))

	got, ok := s.Read(datatree.ParsePath("/cars/car/optima/price"))
	if !ok || string(got.Value) != "20000" {
		t.Fatalf("Read price = %v, %v", got, ok)
	}

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Name != "config-one" {
		t.Errorf("Name = %q", snap.Name)
	}
	log := snap.Log
	if log.LastAppliedIndex < 3 {
		t.Errorf("LastAppliedIndex = %d, want >= 3 (config, noop, write)", log.LastAppliedIndex)
	}
	if log.ElectionTerm < log.LastTerm || log.ElectionTerm == 0 {
		t.Errorf("ElectionTerm = %d, LastTerm = %d", log.ElectionTerm, log.LastTerm)
	}
	ts, ok := log.TreeState()
	if !ok {
		t.Fatal("snapshot holds no tree state")
	}
	if ts.Root.Child("cars") == nil {
		t.Error("captured tree misses cars")
	}
	if log.ServerConfig == nil || len(log.ServerConfig.Servers) != 1 {
		t.Fatalf("ServerConfig = %+v", log.ServerConfig)
	}
	if srv := log.ServerConfig.Servers[0]; srv.ID != "node-1" || !srv.Voting || srv.Address != s.Addr() {
		t.Errorf("server = %+v", srv)
	}

	st := s.Status()
	if !st.Leader || st.State != "Leader" || st.Name != "config-one" {
		t.Errorf("Status() = %+v", st)
	}
	if st.AppliedIndex < uint64(log.LastAppliedIndex) || st.Term == 0 {
		t.Errorf("Status() = %+v, captured applied %d", st, log.LastAppliedIndex)
	}
}

func TestShard_RestoreFromSnapshot(t *testing.T) {
	want := snapshottest.ConfigShard("config-one")

	cfg := memConfig("config-one")
	cfg.Restore = want
	s := openShard(t, cfg)
	waitReady(t, s)

	cars, ok := s.Read(treetest.CarsPath)
	if !ok {
		t.Fatal("cars missing after restore")
	}
	wantCars := treetest.CarsNode(treetest.CarEntry("optima", 20000), treetest.CarEntry("sportage", 30000))
	if !cars.Equal(wantCars) {
		t.Error("restored cars differ")
	}

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ts, _ := snap.Log.TreeState()
	wantState, _ := want.TreeState()
	if !ts.Equal(wantState) {
		t.Error("captured state differs from the restored one")
	}
	if snap.Log.LastAppliedIndex < want.LastAppliedIndex {
		t.Errorf("LastAppliedIndex = %d, want >= %d", snap.Log.LastAppliedIndex, want.LastAppliedIndex)
	}
	// The restored node had to win a new election.
	if snap.Log.ElectionTerm <= want.ElectionTerm {
		t.Errorf("ElectionTerm = %d, want > %d", snap.Log.ElectionTerm, want.ElectionTerm)
	}
}

func TestShard_RestoreFullyAppliedLog(t *testing.T) {
	for _, storage := range []Storage{StorageInmem, StorageBolt, StorageBadger} {
		t.Run(string(storage), func(t *testing.T) {
			cfg := memConfig("config-one")
			cfg.Storage = storage
			if storage != StorageInmem {
				cfg.Dir = t.TempDir()
			}
			cfg.Restore = snapshottest.ConfigShard("config-one")
			if len(cfg.Restore.UnappliedEntries) != 0 {
				t.Fatalf("fixture has %d unapplied entries", len(cfg.Restore.UnappliedEntries))
			}

			s := openShard(t, cfg)
			waitReady(t, s)

			if _, ok := s.Read(datatree.ParsePath("/cars/car/sportage/price")); !ok {
				t.Fatal("restored cars missing")
			}
			st := s.Status()
			if st.AppliedIndex < 2 {
				t.Errorf("AppliedIndex = %d, want >= 2", st.AppliedIndex)
			}
			writeCars(t, s, treetest.CarEntry("rio", 15000))
			if _, ok := s.Read(datatree.ParsePath("/cars/car/rio")); !ok {
				t.Error("write after restore not applied")
			}
		})
	}
}

func TestShard_RestoreReplaysUnappliedTail(t *testing.T) {
	root := treetest.RootWith(treetest.CarsPath, treetest.CarsNode(treetest.CarEntry("optima", 20000)))
	log := snapshottest.WithTail(root,
		mustCommand(t, datatree.Command{
			Op:   datatree.OpMerge,
			Path: "/cars",
			Node: treetest.CarsNode(treetest.CarEntry("sportage", 30000)),
		}),
		mustCommand(t, datatree.Command{Op: datatree.OpDelete, Path: "/cars/car/optima"}),
	)

	cfg := memConfig("config-one")
	cfg.Restore = log
	s := openShard(t, cfg)
	waitReady(t, s)

	if _, ok := s.Read(datatree.ParsePath("/cars/car/sportage")); !ok {
		t.Error("merged entry from the tail is missing")
	}
	if _, ok := s.Read(datatree.ParsePath("/cars/car/optima")); ok {
		t.Error("entry deleted by the tail is still present")
	}
}

func TestShard_RestoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := boltConfig(t, "config-one", dir)
	cfg.Restore = snapshottest.ConfigShard("config-one")

	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	waitReady(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s = openShard(t, boltConfig(t, "config-one", dir))
	waitReady(t, s)
	if _, ok := s.Read(datatree.ParsePath("/cars/car/sportage")); !ok {
		t.Fatal("restored data lost across restart")
	}
}

func TestShard_RestoreRefusesExistingState(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(boltConfig(t, "config-one", dir))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := boltConfig(t, "config-one", dir)
	cfg.Restore = snapshottest.ConfigShard("config-one")
	if _, err := Open(cfg); !errors.Is(err, ErrExistingState) {
		t.Fatalf("Open = %v, want ErrExistingState", err)
	}
}

func TestShard_RestoreRoundTrip(t *testing.T) {
	src := openShard(t, memConfig("config-two"))
	waitReady(t, src)
	ctx := context.Background()
	if err := src.Write(ctx, datatree.Command{Op: datatree.OpWrite, Path: "/people", Node: treetest.PeopleEmptyContainer()}); err != nil {
		t.Fatal(err)
	}
	writeCars(t, src, treetest.CarEntry("optima", 20000))

	captured, err := src.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	cfg := memConfig("config-two")
	cfg.Restore = captured.Log
	dst := openShard(t, cfg)
	waitReady(t, dst)

	srcRoot := src.fsm.Tree().Root()
	if !dst.fsm.Tree().Root().Equal(srcRoot) {
		t.Fatal("restored tree differs from the captured one")
	}
}

func TestShard_RestorePreservedMembership(t *testing.T) {
	base := snapshottest.ConfigShard("config-one")
	servers := &snapshot.ServerConfig{Servers: []snapshot.ServerInfo{
		{ID: "node-1", Address: "old-addr-1", Voting: true},
		{ID: "node-2", Address: "addr-2", Voting: true},
		{ID: "node-3", Address: "addr-3", Voting: false},
	}}
	log, err := snapshot.NewReplicatedLogSnapshot(base.State, nil, 2, 1, 2, 1, 1, "node-1", servers)
	if err != nil {
		t.Fatal(err)
	}

	cfg := memConfig("config-one")
	cfg.Restore = log
	cfg.PreserveMembership = true
	s := openShard(t, cfg)

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := snap.Log.ServerConfig
	if got == nil || len(got.Servers) != 3 {
		t.Fatalf("ServerConfig = %+v", got)
	}
	for _, srv := range got.Servers {
		switch srv.ID {
		case "node-1":
			if srv.Address != s.Addr() || !srv.Voting {
				t.Errorf("local server = %+v, want address %s", srv, s.Addr())
			}
		case "node-3":
			if srv.Voting {
				t.Error("node-3 should stay a non-voter")
			}
		}
	}

	cfg = memConfig("config-one")
	cfg.NodeID = "node-9"
	cfg.Restore = log
	cfg.PreserveMembership = true
	if _, err := Open(cfg); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Open = %v, want ErrNotMember", err)
	}
}

func TestShard_RestoreRejectsBadSnapshots(t *testing.T) {
	root := treetest.RootWith(treetest.TestPath, treetest.TestContainer())

	garbage := snapshottest.WithTail(root, []byte("{not a command"))
	stateless, err := snapshot.NewReplicatedLogSnapshot(snapshot.NewTreeState(root, nil), nil, 0, 0, 0, 0, 0, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	zeroTerm := &snapshot.ReplicatedLogSnapshot{
		LastIndex: 2, LastAppliedIndex: 2,
		State: snapshot.NewTreeState(root, nil),
	}
	broken := &snapshot.ReplicatedLogSnapshot{LastIndex: 1, LastTerm: 1, State: snapshot.NewTreeState(root, nil)}

	tests := []struct {
		name string
		log  *snapshot.ReplicatedLogSnapshot
		want error
	}{
		{"undecodable tail", garbage, nil},
		{"tree without log", stateless, ErrStateWithoutLog},
		{"zero applied term", zeroTerm, nil},
		{"missing tail", broken, snapshot.ErrInconsistentSnapshot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memConfig("oper-one")
			cfg.Restore = tt.log
			s, err := Open(cfg)
			if err == nil {
				s.Close()
				t.Fatal("Open accepted a bad snapshot")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("Open = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestShard_RestoreEmptyLogBootstraps(t *testing.T) {
	empty, err := snapshot.NewReplicatedLogSnapshot(
		snapshot.NewTreeState(datatree.NewContainer(""), nil), nil, 0, 0, 0, 0, 4, "node-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := memConfig("oper-one")
	cfg.Restore = empty
	s := openShard(t, cfg)
	waitReady(t, s)

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Log.ElectionTerm <= 4 {
		t.Errorf("ElectionTerm = %d, want past the restored term 4", snap.Log.ElectionTerm)
	}
}

func TestShard_ClosedOperations(t *testing.T) {
	s, err := Open(memConfig("oper-one"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
	ctx := context.Background()
	if err := s.Write(ctx, datatree.Command{Op: datatree.OpDelete, Path: "/test"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close = %v", err)
	}
	if _, err := s.Snapshot(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Snapshot after Close = %v", err)
	}
	if err := s.WaitLeader(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("WaitLeader after Close = %v", err)
	}
}

func TestCapture_ElectionAndTail(t *testing.T) {
	mem := raft.NewInmemStore()
	src := CaptureSource{Logs: mem, Stable: mem, Snapshots: raft.NewInmemSnapshotStore()}

	src.FSM = NewFSM(discardLogger())
	src.FSM.Apply(commandLog(t, 2, 1, datatree.Command{Op: datatree.OpWrite, Path: "/test", Node: treetest.TestContainer()}))

	tail := commandLog(t, 4, 3, datatree.Command{Op: datatree.OpDelete, Path: "/test"})
	if err := mem.StoreLogs([]*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogConfiguration, Data: []byte("conf")},
		commandLog(t, 2, 1, datatree.Command{Op: datatree.OpWrite, Path: "/test", Node: treetest.TestContainer()}),
		{Index: 3, Term: 3, Type: raft.LogNoop},
		tail,
	}); err != nil {
		t.Fatal(err)
	}
	_ = mem.SetUint64(keyCurrentTerm, 5)
	_ = mem.SetUint64(keyLastVoteTerm, 4)
	_ = mem.Set(keyLastVoteCand, []byte("node-2"))

	got, err := Capture(src)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got.LastAppliedIndex != 2 || got.LastAppliedTerm != 1 || got.LastIndex != 4 || got.LastTerm != 3 {
		t.Errorf("positions = applied %d/%d last %d/%d", got.LastAppliedIndex, got.LastAppliedTerm, got.LastIndex, got.LastTerm)
	}
	if len(got.UnappliedEntries) != 2 || got.UnappliedEntries[0].Kind != snapshot.EntryNoop ||
		got.UnappliedEntries[1].Kind != snapshot.EntryCommand {
		t.Fatalf("tail = %+v", got.UnappliedEntries)
	}
	// The vote was cast in an older term.
	if got.ElectionTerm != 5 || got.ElectionVotedFor != "" {
		t.Errorf("election = %d/%q, want 5/\"\"", got.ElectionTerm, got.ElectionVotedFor)
	}
	if got.ServerConfig != nil {
		t.Errorf("ServerConfig = %+v, want nil", got.ServerConfig)
	}

	_ = mem.SetUint64(keyLastVoteTerm, 5)
	if got, err = Capture(src); err != nil || got.ElectionVotedFor != "node-2" {
		t.Fatalf("vote in current term = %q, %v", got.ElectionVotedFor, err)
	}
}
