package supervisor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sharkusmanch/hb-service/internal/config"
)

// LogSink is the shared append-only log. The supervisor, both children and
// the supervisor's own logger write to it.
type LogSink struct {
	mu   sync.Mutex
	file *lumberjack.Logger
	w    io.Writer
}

// NewLogSink opens the rotating log at s.LogPath(). Outside service mode the
// output is also copied to console so an operator running `run` by hand sees
// it.
func NewLogSink(s *config.Settings, console io.Writer) (*LogSink, error) {
	path := s.LogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    s.Log.MaxSizeMB,
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	sink := &LogSink{file: file, w: file}
	if !s.ServiceMode && console != nil {
		sink.w = io.MultiWriter(file, console)
	}
	return sink, nil
}

// Write appends p to the log.
func (l *LogSink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Rotate starts a new log file.
func (l *LogSink) Rotate() error {
	return l.file.Rotate()
}

// Close closes the current log file.
func (l *LogSink) Close() error {
	return l.file.Close()
}
