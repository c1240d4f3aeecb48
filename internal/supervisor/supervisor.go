// Package supervisor runs the bridge and the UI in the foreground and restarts
// them whenever they exit.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sharkusmanch/hb-service/internal/config"
	"github.com/sharkusmanch/hb-service/internal/domain"
)

const (
	// DefaultRestartDelay is the pause between a child exit and its restart.
	DefaultRestartDelay = 5 * time.Second

	// DefaultStopGrace is how long a child may take to exit after SIGTERM
	// before it is killed.
	DefaultStopGrace = 10 * time.Second

	// DefaultStableAfter is how long a child must stay up to end a crash streak.
	DefaultStableAfter = 30 * time.Second

	// DefaultCrashLoopAfter is the streak length reported as a crash loop.
	DefaultCrashLoopAfter = 3
)

// ChildSpec describes one supervised process.
type ChildSpec struct {
	Name string
	Path string
	Args []string
	Env  []string
	Dir  string
}

// BridgeSpec returns the bridge command line for s.
func BridgeSpec(s *config.Settings, environ []string) ChildSpec {
	args := []string{"-C", "-Q", "-U", s.StoragePath}
	if s.InsecureMode {
		args = append(args, "-I")
	}
	if s.LogNoTimestamps {
		args = append(args, "-T")
	}
	if s.DebugBridge {
		args = append(args, "-D")
	}
	if s.PluginPath != "" {
		args = append(args, "-P", s.PluginPath)
	}

	return ChildSpec{
		Name: s.BridgeBinary,
		Path: s.BridgeBinary,
		Args: args,
		Env:  childEnv(s, environ),
		Dir:  s.StoragePath,
	}
}

// UISpec returns the UI command line for s.
func UISpec(s *config.Settings, environ []string) ChildSpec {
	return ChildSpec{
		Name: s.UIBinary,
		Path: s.UIBinary,
		Env:  childEnv(s, environ),
		Dir:  s.StoragePath,
	}
}

// ChildSpecs returns the bridge and UI specs.
func ChildSpecs(s *config.Settings, environ []string) []ChildSpec {
	return []ChildSpec{BridgeSpec(s, environ), UISpec(s, environ)}
}

// childEnv passes the supervisor environment through and pins the variables
// both children read.
func childEnv(s *config.Settings, environ []string) []string {
	env := append([]string(nil), environ...)
	env = append(env,
		"UIX_STORAGE_PATH="+s.StoragePath,
		"UIX_CONFIG_PATH="+s.ConfigPath,
		"UIX_SERVICE_MODE=1",
	)
	if s.InsecureMode {
		env = append(env, "UIX_INSECURE_MODE=1")
	}
	if s.LogNoTimestamps {
		env = append(env, "UIX_LOG_NO_TIMESTAMPS=1")
	}
	if s.PluginPath != "" {
		env = append(env, "UIX_PLUGIN_PATH="+s.PluginPath)
	}
	return env
}

// Supervisor keeps every child running until its context ends or the parent
// goes away.
type Supervisor struct {
	children       []ChildSpec
	out            io.Writer
	restartDelay   time.Duration
	stopGrace      time.Duration
	stableAfter    time.Duration
	crashLoopAfter int
	notifier       domain.Notifier
	pusher         domain.MetricsPusher
	parents        []ParentWatcher
	hostname       string
	onStart        func(name string, at time.Time)
	logger         *slog.Logger

	mu    sync.Mutex
	stats map[string]*domain.ChildStats
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithOutput sets where child stdout and stderr are written.
func WithOutput(w io.Writer) Option {
	return func(s *Supervisor) {
		s.out = w
	}
}

// WithRestartDelay overrides DefaultRestartDelay.
func WithRestartDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.restartDelay = d
		}
	}
}

// WithStopGrace overrides DefaultStopGrace.
func WithStopGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopGrace = d
		}
	}
}

// WithStableAfter overrides DefaultStableAfter.
func WithStableAfter(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stableAfter = d
		}
	}
}

// WithCrashLoopAfter overrides DefaultCrashLoopAfter.
func WithCrashLoopAfter(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.crashLoopAfter = n
		}
	}
}

// WithNotifier sets the crash notifier.
func WithNotifier(n domain.Notifier) Option {
	return func(s *Supervisor) {
		s.notifier = n
	}
}

// WithMetricsPusher sets the metrics pusher.
func WithMetricsPusher(p domain.MetricsPusher) Option {
	return func(s *Supervisor) {
		s.pusher = p
	}
}

// WithParentWatcher adds a parent-loss detector.
func WithParentWatcher(w ParentWatcher) Option {
	return func(s *Supervisor) {
		s.parents = append(s.parents, w)
	}
}

// WithHostname sets the hostname used in notifications and metrics.
func WithHostname(name string) Option {
	return func(s *Supervisor) {
		s.hostname = name
	}
}

// WithStartObserver is called every time a child is spawned.
func WithStartObserver(fn func(name string, at time.Time)) Option {
	return func(s *Supervisor) {
		s.onStart = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// New creates a Supervisor for children.
func New(children []ChildSpec, opts ...Option) *Supervisor {
	s := &Supervisor{
		children:       children,
		out:            io.Discard,
		restartDelay:   DefaultRestartDelay,
		stopGrace:      DefaultStopGrace,
		stableAfter:    DefaultStableAfter,
		crashLoopAfter: DefaultCrashLoopAfter,
		notifier:       &domain.NopNotifier{},
		logger:         slog.Default(),
		stats:          make(map[string]*domain.ChildStats),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.hostname == "" {
		s.hostname, _ = os.Hostname()
	}
	s.out = &lockedWriter{w: s.out}
	for _, c := range children {
		s.stats[c.Name] = &domain.ChildStats{Name: c.Name}
	}

	return s
}

// Run supervises every child until ctx is done or a parent watcher reports
// loss of the parent, then stops the children. It returns ErrParentLost in the
// latter case and nil otherwise.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.children) == 0 {
		return fmt.Errorf("no children to supervise")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		lostMu sync.Mutex
		lost   error
	)
	for _, w := range s.parents {
		go func(w ParentWatcher) {
			if err := w.Watch(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("parent process lost, shutting down", "error", err)
				lostMu.Lock()
				lost = err
				lostMu.Unlock()
				cancel()
			}
		}(w)
	}

	s.logger.Info("supervisor started", "children", len(s.children), "restart_delay", s.restartDelay)

	var wg sync.WaitGroup
	for _, c := range s.children {
		wg.Add(1)
		go func(c ChildSpec) {
			defer wg.Done()
			s.supervise(ctx, c)
		}(c)
	}
	wg.Wait()

	s.pushMetrics(ctx, false)
	s.logger.Info("supervisor stopped")

	lostMu.Lock()
	defer lostMu.Unlock()
	if lost != nil {
		return fmt.Errorf("%w: %v", ErrParentLost, lost)
	}
	return nil
}

// Stats returns a snapshot of every child.
func (s *Supervisor) Stats() []domain.ChildStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ChildStats, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, *s.stats[c.Name])
	}
	return out
}

// supervise is the restart loop of one child. It never gives up.
func (s *Supervisor) supervise(ctx context.Context, spec ChildSpec) {
	streak := 0
	for {
		exit, stopped := s.runOnce(ctx, spec, &streak)
		if stopped {
			return
		}

		streak++
		s.update(spec.Name, func(st *domain.ChildStats) {
			st.Running = false
			st.PID = 0
			st.LastExit = exit.code
		})
		s.logger.Warn("child exited, restarting",
			"child", spec.Name,
			"code", exit.code,
			"signal", exit.signal,
			"error", exit.err,
			"streak", streak,
			"restart_in", s.restartDelay,
		)
		s.crashed(ctx, spec.Name, streak, exit)
		s.pushMetrics(ctx, true)

		t := time.NewTimer(s.restartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		s.update(spec.Name, func(st *domain.ChildStats) { st.Restarts++ })
	}
}

// exitInfo describes how a child ended.
type exitInfo struct {
	code   int
	signal string
	err    error
}

// runOnce starts spec and waits for it to exit. stopped is true when ctx ended
// and the child was shut down on purpose.
func (s *Supervisor) runOnce(ctx context.Context, spec ChildSpec, streak *int) (exitInfo, bool) {
	if ctx.Err() != nil {
		return exitInfo{}, true
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdout = s.out
	cmd.Stderr = s.out
	configureSysProcAttr(cmd)

	started := time.Now()
	if s.onStart != nil {
		s.onStart(spec.Name, started)
	}
	if err := cmd.Start(); err != nil {
		return exitInfo{code: -1, err: err}, false
	}

	s.logger.Info("child started", "child", spec.Name, "pid", cmd.Process.Pid)
	s.update(spec.Name, func(st *domain.ChildStats) {
		st.Running = true
		st.PID = cmd.Process.Pid
		st.StartedAt = started
	})
	s.pushMetrics(ctx, true)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	stable := time.NewTimer(s.stableAfter)
	defer stable.Stop()

	for {
		select {
		case err := <-done:
			return exitStatus(cmd, err), false
		case <-stable.C:
			if *streak > 0 {
				s.logger.Info("child recovered", "child", spec.Name, "after_restarts", *streak)
				s.notify(ctx, domain.RecoveredNotification(s.hostname, spec.Name, *streak))
				*streak = 0
			}
		case <-ctx.Done():
			s.stop(spec.Name, cmd, done)
			return exitInfo{}, true
		}
	}
}

// stop sends SIGTERM and kills the child if it outlives the grace period.
func (s *Supervisor) stop(name string, cmd *exec.Cmd, done <-chan error) {
	s.logger.Info("stopping child", "child", name, "pid", cmd.Process.Pid)
	if err := terminate(cmd.Process); err != nil {
		s.logger.Debug("terminate failed", "child", name, "error", err)
	}

	t := time.NewTimer(s.stopGrace)
	defer t.Stop()

	select {
	case <-done:
	case <-t.C:
		s.logger.Warn("child did not exit in time, killing", "child", name, "grace", s.stopGrace)
		if err := kill(cmd.Process); err != nil {
			s.logger.Debug("kill failed", "child", name, "error", err)
		}
		<-done
	}

	s.update(name, func(st *domain.ChildStats) {
		st.Running = false
		st.PID = 0
	})
}

func exitStatus(cmd *exec.Cmd, err error) exitInfo {
	info := exitInfo{err: err}
	if cmd.ProcessState != nil {
		info.code = cmd.ProcessState.ExitCode()
		info.signal = signalOf(cmd.ProcessState)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// The exit status is already recorded above.
		info.err = nil
	}
	return info
}

// crashed sends the notification for this point of the streak: the first
// crash, and the crash that makes it a loop.
func (s *Supervisor) crashed(ctx context.Context, name string, streak int, exit exitInfo) {
	switch streak {
	case 1:
		s.notify(ctx, domain.CrashNotification(s.hostname, name, exit.code, exit.signal))
	case s.crashLoopAfter:
		s.notify(ctx, domain.CrashLoopNotification(s.hostname, name, streak))
	}
}

func (s *Supervisor) notify(ctx context.Context, n *domain.Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to send notification", "title", n.Title, "error", err)
	}
}

func (s *Supervisor) pushMetrics(ctx context.Context, up bool) {
	if s.pusher == nil {
		return
	}

	m := domain.NewMetrics(s.hostname)
	m.ServiceUp = up
	m.Children = s.Stats()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.pusher.Push(ctx, m); err != nil {
		s.logger.Warn("failed to push metrics", "error", err)
	}
}

func (s *Supervisor) update(name string, fn func(*domain.ChildStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.stats[name])
}

// lockedWriter serializes writes from both children and the logger.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
