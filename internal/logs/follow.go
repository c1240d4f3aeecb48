// Package logs follows the shared bridge log file.
package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultTailLines is how much history is printed before following.
const DefaultTailLines = 500

// Follower prints the end of a log file and then streams what is appended,
// surviving rotation and truncation.
type Follower struct {
	lines  int
	poll   time.Duration
	logger *slog.Logger
}

// Option configures a Follower.
type Option func(*Follower)

// WithTailLines sets the number of history lines.
func WithTailLines(n int) Option {
	return func(f *Follower) {
		f.lines = n
	}
}

// WithPollInterval sets how often the file is checked for rotation when no
// events arrive.
func WithPollInterval(d time.Duration) Option {
	return func(f *Follower) {
		f.poll = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Follower) {
		f.logger = logger
	}
}

// NewFollower creates a new Follower.
func NewFollower(opts ...Option) *Follower {
	f := &Follower{
		lines:  DefaultTailLines,
		poll:   time.Second,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Tail writes the last n lines read from r to w.
func Tail(r io.Reader, n int, w io.Writer) error {
	if n <= 0 {
		return nil
	}

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}

	for _, line := range ring {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Follow prints the last lines of path, then copies appended data to w until
// ctx is done. A missing file is waited for.
func (f *Follower) Follow(ctx context.Context, path string, w io.Writer) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so a rotated file is picked up when it is recreated.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f.logger.Info("log file does not exist yet, waiting", "path", path)
	case err != nil:
		return fmt.Errorf("failed to open log file: %w", err)
	default:
		if err := Tail(file, f.lines, w); err != nil {
			file.Close()
			return err
		}
	}
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				if file != nil {
					_ = drain(file, w)
					file.Close()
				}
				file, _ = os.Open(path)
				if file != nil {
					_ = drain(file, w)
				}
			case event.Has(fsnotify.Write):
				if file == nil {
					file, _ = os.Open(path)
				}
				if file != nil {
					if err := drain(file, w); err != nil {
						return err
					}
				}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				if file != nil {
					_ = drain(file, w)
					file.Close()
					file = nil
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("log watcher error", "error", err)

		case <-ticker.C:
			if file == nil {
				if file, _ = os.Open(path); file != nil {
					_ = drain(file, w)
				}
				continue
			}
			if err := drain(file, w); err != nil {
				return err
			}
		}
	}
}

// drain copies everything after the current offset, rewinding first when the
// file was truncated underneath us.
func drain(file *os.File, w io.Writer) error {
	info, err := file.Stat()
	if err != nil {
		return nil
	}
	pos, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil
	}
	if info.Size() < pos {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil
		}
	}
	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("failed to copy log output: %w", err)
	}
	return nil
}
