package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrParentLost is returned by Run when a ParentWatcher fired.
var ErrParentLost = errors.New("parent process lost")

// ParentWatcher blocks until the supervisor's parent is gone or ctx ends. It
// returns nil when ctx ended first.
type ParentWatcher interface {
	Watch(ctx context.Context) error
}

// DefaultPPIDInterval is how often PPIDWatcher polls.
const DefaultPPIDInterval = time.Second

// PPIDWatcher detects reparenting: when the parent exits, the supervisor is
// adopted and its parent pid changes.
type PPIDWatcher struct {
	initial  int
	getppid  func() int
	interval time.Duration
}

// PPIDOption configures a PPIDWatcher.
type PPIDOption func(*PPIDWatcher)

// WithGetppid replaces os.Getppid.
func WithGetppid(fn func() int) PPIDOption {
	return func(w *PPIDWatcher) {
		w.getppid = fn
	}
}

// WithPPIDInterval sets the polling interval.
func WithPPIDInterval(d time.Duration) PPIDOption {
	return func(w *PPIDWatcher) {
		w.interval = d
	}
}

// NewPPIDWatcher records the current parent pid.
func NewPPIDWatcher(opts ...PPIDOption) *PPIDWatcher {
	w := &PPIDWatcher{
		getppid:  os.Getppid,
		interval: DefaultPPIDInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.initial = w.getppid()
	return w
}

// Orphaned reports whether the supervisor was started by init or a subreaper
// already, in which case there is no parent to watch.
func (w *PPIDWatcher) Orphaned() bool {
	return w.initial <= 1
}

// Watch polls the parent pid.
func (w *PPIDWatcher) Watch(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if ppid := w.getppid(); ppid != w.initial {
				return fmt.Errorf("parent pid changed from %d to %d", w.initial, ppid)
			}
		}
	}
}

// ReaderWatcher treats EOF on an IPC channel, usually stdin, as loss of the
// parent.
type ReaderWatcher struct {
	r io.Reader
}

// NewReaderWatcher watches r.
func NewReaderWatcher(r io.Reader) *ReaderWatcher {
	return &ReaderWatcher{r: r}
}

// Watch drains r until it closes. The read goroutine outlives ctx when r
// never closes.
func (w *ReaderWatcher) Watch(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, w.r)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ipc channel failed: %w", err)
		}
		return fmt.Errorf("ipc channel closed")
	}
}
