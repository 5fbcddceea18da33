package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const spinnerInterval = 100 * time.Millisecond

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a one-line status while a request is in flight.
type Spinner struct {
	w       io.Writer
	message string

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewSpinner creates a spinner. Nothing is drawn until Start.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		w:       w,
		message: message,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start draws frames until Stop, Success or Fail.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.draw(fmt.Sprintf("\r%s %s", spinnerFrames[i%len(spinnerFrames)], s.message))
			select {
			case <-s.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the line.
func (s *Spinner) Stop() { s.finish("\r\033[K") }

// Success replaces the spinner with a success line.
func (s *Spinner) Success(message string) { s.finish("\r✓ " + message + "\033[K\n") }

// Fail replaces the spinner with a failure line.
func (s *Spinner) Fail(message string) { s.finish("\r✗ " + message + "\033[K\n") }

// finish stops the animation once and writes the final line after the
// drawing goroutine has exited.
func (s *Spinner) finish(line string) {
	s.once.Do(func() {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()

		close(s.stop)
		if started {
			<-s.stopped
		}
		s.draw(line)
	})
}

func (s *Spinner) draw(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, line)
}
