package restore

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/meshstore/internal/datatree"
	"github.com/yndnr/meshstore/internal/datatree/treetest"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
	"github.com/yndnr/meshstore/internal/storage/snapshot/snapshottest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCoordinator(t *testing.T, dir string, policy DeletePolicy) *Coordinator {
	t.Helper()
	c, err := New(Config{Dir: dir, DeletePolicy: policy, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeArtifact(t *testing.T, dir string, b *snapshot.Bundle) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFileName)
	if _, err := snapshot.WriteFile(path, b, snapshot.WriteOptions{NodeID: "member-1"}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestCoordinator_RestoresConfigAndOperational(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, snapshottest.Bundle())
	c := newCoordinator(t, dir, DeleteOnDrain)

	cfg, err := c.GetAndRemove(snapshottest.ConfigType)
	if err != nil {
		t.Fatalf("GetAndRemove(config): %v", err)
	}
	if cfg == nil {
		t.Fatal("config snapshot missing")
	}

	mgr, err := snapshot.DecodeShardManagerSnapshot(cfg.ManagerSnapshot)
	if err != nil {
		t.Fatalf("DecodeShardManagerSnapshot: %v", err)
	}
	if got := mgr.ShardNames; len(got) != 2 || got[0] != "config-one" || got[1] != "config-two" {
		t.Fatalf("manager shard names = %v", got)
	}

	one := cfg.Shard("config-one")
	if one == nil {
		t.Fatal("config-one missing")
	}
	l := one.Log
	if l.LastIndex != 2 || l.LastTerm != 1 || l.LastAppliedIndex != 2 || l.LastAppliedTerm != 1 ||
		l.ElectionTerm != 1 || l.ElectionVotedFor != "member-1" || len(l.UnappliedEntries) != 0 {
		t.Fatalf("config-one log = %+v", l)
	}
	ts, ok := l.TreeState()
	if !ok {
		t.Fatal("config-one state is not a tree")
	}
	cars := treetest.CarsNode(treetest.CarEntry("optima", 20000), treetest.CarEntry("sportage", 30000))
	tr := datatree.New()
	tr.Load(ts.Root, ts.Metadata)
	got, ok := tr.Read(treetest.CarsPath)
	if !ok || !got.Equal(cars) {
		t.Fatalf("cars = %+v, want %+v", got, cars)
	}

	two := cfg.Shard("config-two")
	if two == nil {
		t.Fatal("config-two missing")
	}
	ts, _ = two.Log.TreeState()
	tr.Load(ts.Root, ts.Metadata)
	if got, ok := tr.Read(treetest.PeoplePath); !ok || !got.Equal(treetest.PeopleEmptyContainer()) {
		t.Fatalf("people = %+v", got)
	}

	if !exists(path) {
		t.Fatal("artifact deleted before operational was claimed")
	}
	if p := c.Pending(); len(p) != 1 || p[0] != snapshottest.OperationalType {
		t.Fatalf("Pending = %v", p)
	}

	oper, err := c.GetAndRemove(snapshottest.OperationalType)
	if err != nil || oper == nil {
		t.Fatalf("GetAndRemove(operational) = %v, %v", oper, err)
	}
	if oper.ManagerSnapshot != nil {
		t.Errorf("operational manager snapshot = %v, want absent", oper.ManagerSnapshot)
	}
	ts, _ = oper.Shard("oper-one").Log.TreeState()
	tr.Load(ts.Root, ts.Metadata)
	if got, ok := tr.Read(treetest.TestPath); !ok || !got.Equal(treetest.TestContainer()) {
		t.Fatalf("test container = %+v", got)
	}

	if exists(path) {
		t.Fatal("artifact not deleted after all datastores were claimed")
	}
}

func TestCoordinator_ExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, snapshottest.Bundle())
	c := newCoordinator(t, dir, DeleteOnDrain)

	first, err := c.GetAndRemove(snapshottest.ConfigType)
	if err != nil || first == nil {
		t.Fatalf("first GetAndRemove = %v, %v", first, err)
	}
	second, err := c.GetAndRemove(snapshottest.ConfigType)
	if err != nil || second != nil {
		t.Fatalf("second GetAndRemove = %v, %v; want nil, nil", second, err)
	}
	if ds, err := c.GetAndRemove("unknown"); ds != nil || err != nil {
		t.Fatalf("GetAndRemove(unknown) = %v, %v", ds, err)
	}
}

func TestCoordinator_ConcurrentClaims(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, snapshottest.Bundle())
	c := newCoordinator(t, dir, DeleteOnDrain)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		hits = map[string]int{}
	)
	for i := 0; i < 8; i++ {
		for _, typ := range []string{snapshottest.ConfigType, snapshottest.OperationalType} {
			wg.Add(1)
			go func(typ string) {
				defer wg.Done()
				ds, err := c.GetAndRemove(typ)
				if err != nil {
					t.Errorf("GetAndRemove(%s): %v", typ, err)
					return
				}
				if ds != nil {
					mu.Lock()
					hits[typ]++
					mu.Unlock()
				}
			}(typ)
		}
	}
	wg.Wait()

	if hits[snapshottest.ConfigType] != 1 || hits[snapshottest.OperationalType] != 1 {
		t.Fatalf("claims = %v, want exactly one per type", hits)
	}
	if exists(path) {
		t.Fatal("artifact survived drain")
	}
}

func TestCoordinator_NoArtifact(t *testing.T) {
	c := newCoordinator(t, t.TempDir(), DeleteOnDrain)

	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, typ := range []string{snapshottest.ConfigType, snapshottest.OperationalType} {
		ds, err := c.GetAndRemove(typ)
		if ds != nil || err != nil {
			t.Fatalf("GetAndRemove(%s) = %v, %v; want nil, nil", typ, ds, err)
		}
	}
	if got := testutil.ToFloat64(c.metrics.absent); got != 2 {
		t.Errorf("absent_total = %v, want 2", got)
	}
}

func TestCoordinator_RestartAfterDrainStartsFresh(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, snapshottest.Bundle())

	c := newCoordinator(t, dir, DeleteOnDrain)
	_, _ = c.GetAndRemove(snapshottest.ConfigType)
	_, _ = c.GetAndRemove(snapshottest.OperationalType)

	restarted := newCoordinator(t, dir, DeleteOnDrain)
	if ds, err := restarted.GetAndRemove(snapshottest.ConfigType); ds != nil || err != nil {
		t.Fatalf("after restart GetAndRemove = %v, %v; want nil, nil", ds, err)
	}
}

func TestCoordinator_CorruptArtifactIsStickyAndKept(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, snapshottest.Bundle())
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	c := newCoordinator(t, dir, DeleteOnLoad)
	loadErr := c.Load()
	if !errors.Is(loadErr, snapshot.ErrCorruptSnapshot) {
		t.Fatalf("Load err = %v, want ErrCorruptSnapshot", loadErr)
	}
	for i := 0; i < 2; i++ {
		ds, err := c.GetAndRemove(snapshottest.ConfigType)
		if ds != nil || err != loadErr {
			t.Fatalf("GetAndRemove #%d = %v, %v; want the load error", i, ds, err)
		}
	}
	if !exists(path) {
		t.Fatal("corrupt artifact was deleted")
	}
}

func TestCoordinator_DeleteOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, snapshottest.Bundle())
	c := newCoordinator(t, dir, DeleteOnLoad)

	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists(path) {
		t.Fatal("artifact kept after load with DeleteOnLoad")
	}
	if ds, err := c.GetAndRemove(snapshottest.OperationalType); ds == nil || err != nil {
		t.Fatalf("GetAndRemove after delete = %v, %v", ds, err)
	}
}

func TestCoordinator_EmptyBundle(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, &snapshot.Bundle{})
	c := newCoordinator(t, dir, DeleteOnDrain)

	if ds, err := c.GetAndRemove(snapshottest.ConfigType); ds != nil || err != nil {
		t.Fatalf("GetAndRemove = %v, %v; want nil, nil", ds, err)
	}
	if exists(path) {
		t.Fatal("empty artifact not deleted")
	}
}

func TestCoordinator_DeleteFailureIsNotFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not apply to root")
	}
	dir := t.TempDir()
	path := writeArtifact(t, dir, &snapshot.Bundle{Datastores: []snapshot.DatastoreSnapshot{snapshottest.OperationalDatastore()}})
	c := newCoordinator(t, dir, DeleteOnDrain)
	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.Chmod(dir, 0500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0700) })

	if ds, err := c.GetAndRemove(snapshottest.OperationalType); ds == nil || err != nil {
		t.Fatalf("GetAndRemove = %v, %v", ds, err)
	}
	if !exists(path) {
		t.Fatal("expected artifact to survive the failed delete")
	}
	if got := testutil.ToFloat64(c.metrics.deletes.WithLabelValues("failure")); got != 1 {
		t.Errorf("artifact_deletes_total{result=failure} = %v, want 1", got)
	}
}

func TestCoordinator_RegisterMetrics(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, snapshottest.Bundle())
	c := newCoordinator(t, dir, DeleteOnDrain)

	reg := prometheus.NewRegistry()
	if err := c.RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if _, err := c.GetAndRemove(snapshottest.ConfigType); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(c.metrics.restored.WithLabelValues(snapshottest.ConfigType)); got != 1 {
		t.Errorf("restored_total{type=config} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.metrics.pending); got != 1 {
		t.Errorf("pending_datastores = %v, want 1", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Errorf("GatherAndCount = %d, %v", n, err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrDirRequired) {
		t.Errorf("New(empty) err = %v, want ErrDirRequired", err)
	}
	if _, err := New(Config{Dir: t.TempDir(), DeletePolicy: "sometimes"}); err == nil {
		t.Error("New with unknown policy should fail")
	}
	c, err := New(Config{Dir: "/var/lib/meshstore/restore"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Path() != "/var/lib/meshstore/restore/backup" {
		t.Errorf("Path = %q", c.Path())
	}
}
