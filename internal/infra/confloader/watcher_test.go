package confloader

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, opts ...WatcherOption) *Watcher {
	t.Helper()
	w, err := NewWatcher(opts...)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher_Watch_NonexistentDir(t *testing.T) {
	w := newTestWatcher(t)
	if err := w.Watch("/nonexistent/dir/meshstore.yaml"); err == nil {
		t.Error("Watch(missing dir) = nil, want error")
	}
}

func TestWatcher_ReportsWatchedFileOnly(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "meshstore.yaml")
	otherPath := filepath.Join(dir, "other.yaml")
	if err := os.WriteFile(cfgPath, []byte("log:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(t, WithDebounce(0))
	if err := w.Watch(cfgPath); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	var hits, foreign atomic.Int32
	want, _ := filepath.Abs(cfgPath)
	w.OnChange(func(path string) {
		if path == want {
			hits.Add(1)
		} else {
			foreign.Add(1)
		}
	})
	w.StartAsync()

	if err := os.WriteFile(otherPath, []byte("x: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, []byte("log:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return hits.Load() > 0 })
	if foreign.Load() != 0 {
		t.Errorf("callback ran for an unwatched file %d times", foreign.Load())
	}
}

func TestWatcher_Debounce(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "meshstore.yaml")
	if err := os.WriteFile(cfgPath, []byte("a: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(t, WithDebounce(200*time.Millisecond))
	if err := w.Watch(cfgPath); err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	w.OnChange(func(string) { calls.Add(1) })
	w.StartAsync()

	for i := range 5 {
		if err := os.WriteFile(cfgPath, []byte{byte('0' + i), '\n'}, 0600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, func() bool { return calls.Load() > 0 })
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("callbacks = %d, want 1 after a burst of writes", n)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		w.Start()
		close(done)
	}()
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
