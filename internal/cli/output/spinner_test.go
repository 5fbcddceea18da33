package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer lets the test read while the spinner goroutine writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_StartStop(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "capturing")
	s.Start()
	time.Sleep(3 * spinnerInterval / 2)
	s.Stop()

	out := buf.String()
	if !strings.Contains(out, "capturing") {
		t.Errorf("output %q missing message", out)
	}
	if !strings.HasSuffix(out, "\r\033[K") {
		t.Errorf("output %q should end by clearing the line", out)
	}
}

func TestSpinner_SuccessAndFail(t *testing.T) {
	tests := []struct {
		name   string
		finish func(*Spinner)
		want   string
	}{
		{"success", func(s *Spinner) { s.Success("backup created") }, "✓ backup created"},
		{"fail", func(s *Spinner) { s.Fail("backup failed") }, "✗ backup failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf syncBuffer
			s := NewSpinner(&buf, "working")
			s.Start()
			tt.finish(s)
			if out := buf.String(); !strings.Contains(out, tt.want) || !strings.HasSuffix(out, "\n") {
				t.Errorf("output = %q, want %q line", out, tt.want)
			}
		})
	}
}

func TestSpinner_FinishIsIdempotent(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "working")
	s.Start()
	s.Success("done")
	s.Stop()
	s.Fail("ignored")

	out := buf.String()
	if strings.Contains(out, "ignored") {
		t.Errorf("second finish wrote output: %q", out)
	}
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "never shown")
	s.Stop()
	if strings.Contains(buf.String(), "never shown") {
		t.Error("unstarted spinner drew a frame")
	}
}
