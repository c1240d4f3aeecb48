// Package platform implements the service lifecycle once per OS family.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	version "github.com/hashicorp/go-version"
	"github.com/spf13/afero"

	"github.com/sharkusmanch/hb-service/internal/bridgeconfig"
	"github.com/sharkusmanch/hb-service/internal/config"
	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/firewall"
	hbhttp "github.com/sharkusmanch/hb-service/internal/http"
	"github.com/sharkusmanch/hb-service/internal/logs"
	"github.com/sharkusmanch/hb-service/internal/output"
	"github.com/sharkusmanch/hb-service/internal/privilege"
	"github.com/sharkusmanch/hb-service/internal/runtime"
	"github.com/sharkusmanch/hb-service/internal/shell"
)

// Supported lists the platforms New accepts.
var Supported = []string{"linux", "darwin", "windows", "freebsd"}

// Restart delays let the OS release the bridge ports before the next start.
const (
	LinuxRestartDelay   = 2 * time.Second
	FreeBSDRestartDelay = 2 * time.Second
	WindowsRestartDelay = 3 * time.Second
	DarwinRestartDelay  = 4 * time.Second
)

// BeforeStartTimeout bounds the pre-start hook. The systemd unit allows 90s.
const BeforeStartTimeout = 60 * time.Second

// UIPackage is the global npm package rebuilt by rebuild.
const UIPackage = "homebridge-config-ui-x"

// LogFollower streams the shared log file.
type LogFollower interface {
	Follow(ctx context.Context, path string, w io.Writer) error
}

// Deps are the collaborators shared by every adapter. Nil fields are filled
// with the real implementations by New.
type Deps struct {
	Settings *config.Settings
	Runner   shell.Runner
	Fs       afero.Fs
	Host     privilege.Host
	Gate     *privilege.Gate
	Store    *bridgeconfig.Store
	Probe    *firewall.Probe
	Facts    *runtime.HostFacts
	Index    runtime.IndexFetcher
	Updater  *runtime.Updater
	Logs     LogFollower
	Printer  *output.Printer
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
	Logger   *slog.Logger
}

func (d *Deps) fill() error {
	if d.Settings == nil {
		return fmt.Errorf("settings are required")
	}
	s := d.Settings

	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Fs == nil {
		d.Fs = afero.NewOsFs()
	}
	if d.Runner == nil {
		d.Runner = shell.NewExecRunner(shell.WithLogger(d.Logger))
	}
	if d.Host == nil {
		d.Host = privilege.NewOSHost()
	}
	if d.Gate == nil {
		d.Gate = privilege.NewGate(d.Host,
			privilege.WithGOOS(s.Host.GOOS),
			privilege.WithSudoUser(s.Host.SudoUser),
			privilege.WithAllowRoot(s.AllowRoot),
		)
	}
	if d.Store == nil {
		d.Store = bridgeconfig.NewStore(s.StoragePath, s.ConfigPath,
			bridgeconfig.WithFs(d.Fs),
			bridgeconfig.WithLogger(d.Logger),
		)
	}
	if d.Probe == nil {
		d.Probe = firewall.NewProbe(firewall.WithLogger(d.Logger))
	}
	if d.Facts == nil {
		d.Facts = runtime.NewHostFacts(d.Runner)
	}
	if d.Index == nil || d.Updater == nil {
		client := hbhttp.NewClient(
			hbhttp.WithRetryConfig(hbhttp.RetryConfig{
				MaxAttempts:  s.Retry.MaxAttempts,
				InitialDelay: s.Retry.InitialDelay,
				MaxDelay:     s.Retry.MaxDelay,
			}),
			hbhttp.WithLogger(d.Logger),
		)
		if d.Index == nil {
			d.Index = client
		}
		if d.Updater == nil {
			d.Updater = runtime.NewUpdater(d.Runner, client, s.StoragePath, s.NodePath,
				runtime.WithFs(d.Fs),
				runtime.WithDistURL(s.Runtime.DistURL),
				runtime.WithDownloadTimeout(s.Runtime.DownloadTimeout),
				runtime.WithSafeRoots(s.Runtime.SafeRoots),
				runtime.WithPlatform(s.Host.GOOS, s.Host.GOARCH),
				runtime.WithLogger(d.Logger),
			)
		}
	}
	if d.Logs == nil {
		d.Logs = logs.NewFollower(logs.WithLogger(d.Logger))
	}
	if d.Printer == nil {
		d.Printer = output.NewPrinter()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = sleep
	}
	return nil
}

// New returns the adapter for goos. It is called once per process.
func New(goos string, deps Deps) (domain.Adapter, error) {
	if err := deps.fill(); err != nil {
		return nil, err
	}

	switch goos {
	case "linux":
		return newLinux(deps), nil
	case "darwin":
		return newDarwin(deps), nil
	case "windows":
		return newWindows(deps), nil
	case "freebsd":
		return newFreeBSD(deps), nil
	default:
		return nil, &domain.UnsupportedPlatformError{OS: goos, Supported: Supported}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// step is one entry of a multi-step lifecycle operation.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// runSteps executes steps in order and stops at the first failure. Completed
// steps are not undone.
func runSteps(ctx context.Context, logger *slog.Logger, op string, steps []step) error {
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Debug("running step", "operation", op, "step", s.name, "index", i)
		if err := s.run(ctx); err != nil {
			logger.Error("step failed", "operation", op, "step", s.name, "index", i, "error", err)
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// base holds what every adapter shares. Each adapter still owns its command
// sequences.
type base struct {
	Deps
	settings     *config.Settings
	restartDelay time.Duration
	stoppedAt    time.Time
}

func newBase(deps Deps, restartDelay time.Duration) base {
	return base{
		Deps:         deps,
		settings:     deps.Settings,
		restartDelay: restartDelay,
	}
}

func (b *base) run(ctx context.Context, name string, args ...string) (*shell.Result, error) {
	return b.Runner.Run(ctx, shell.Command{Name: name, Args: args})
}

func (b *base) exists(path string) bool {
	ok, err := afero.Exists(b.Fs, path)
	return err == nil && ok
}

// StopStampFileName records the last stop under the storage path, so a start
// issued by a later invocation still honours the restart delay.
const StopStampFileName = ".hb-service-stopped"

func (b *base) stopStampPath() string {
	return filepath.Join(b.settings.StoragePath, StopStampFileName)
}

// markStopped records a stop so the next start honours the restart delay.
func (b *base) markStopped() {
	b.stoppedAt = b.Now()
	stamp := strconv.FormatInt(b.stoppedAt.UnixNano(), 10)
	if err := afero.WriteFile(b.Fs, b.stopStampPath(), []byte(stamp), 0o644); err != nil {
		b.Logger.Debug("failed to record stop time", "error", err)
	}
}

// lastStop returns the most recent stop recorded in this process or on disk.
func (b *base) lastStop() time.Time {
	if !b.stoppedAt.IsZero() {
		return b.stoppedAt
	}
	data, err := afero.ReadFile(b.Fs, b.stopStampPath())
	if err != nil {
		return time.Time{}
	}
	nanos, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// waitForPorts sleeps for whatever is left of the restart delay since the
// last stop.
func (b *base) waitForPorts(ctx context.Context) error {
	stopped := b.lastStop()
	b.stoppedAt = time.Time{}
	_ = b.Fs.Remove(b.stopStampPath())
	if stopped.IsZero() {
		return nil
	}
	remaining := b.restartDelay - b.Now().Sub(stopped)
	if remaining <= 0 {
		return nil
	}
	if remaining > b.restartDelay {
		remaining = b.restartDelay
	}
	b.Logger.Debug("waiting before start", "delay", remaining)
	return b.Sleep(ctx, remaining)
}

// installArgs echoes the install flags back for remediation text.
func (b *base) installArgs() []string {
	var args []string
	if b.settings.User != "" {
		args = append(args, "--user", b.settings.User)
	}
	return args
}

// resolveServiceUser looks up the run-as user for install.
func (b *base) resolveServiceUser() (string, *domain.Identity, error) {
	name, err := b.Gate.ResolveTargetUser(b.settings.User)
	if err != nil {
		return "", nil, err
	}
	ident, err := b.Host.LookupUser(name)
	return name, ident, err
}

// prepareStorage creates the storage directory and hands it to ident.
func (b *base) prepareStorage(ctx context.Context, ident *domain.Identity) error {
	if err := b.Store.EnsureStoragePathExists(); err != nil {
		return err
	}
	if ident == nil || ident.UID < 0 || ident.GID < 0 {
		return nil
	}
	owner := strconv.Itoa(ident.UID) + ":" + strconv.Itoa(ident.GID)
	if _, err := b.run(ctx, "chown", "-R", owner, b.settings.StoragePath); err != nil {
		return fmt.Errorf("failed to set owner of %s: %w", b.settings.StoragePath, err)
	}
	return nil
}

// ports returns the bridge and UI ports from config.json, falling back to
// settings when the file cannot be read.
func (b *base) ports(cfg *bridgeconfig.Config) []int {
	if cfg == nil {
		loaded, err := b.Store.Load()
		if err != nil {
			return []int{b.settings.Port, b.settings.UIPort}
		}
		cfg = loaded
	}
	return []int{cfg.BridgePort(), cfg.UIPort()}
}

func (b *base) firewallRule(cfg *bridgeconfig.Config) firewall.Rule {
	return firewall.Rule{
		Name:    b.settings.ServiceName,
		Ports:   b.ports(cfg),
		Program: b.settings.NodePath,
	}
}

// descriptor builds the ServiceDescriptor for this command.
func (b *base) descriptor(ident *domain.Identity, cfg *bridgeconfig.Config) domain.ServiceDescriptor {
	s := b.settings
	env := map[string]string{
		"UIX_STORAGE_PATH": s.StoragePath,
		"UIX_CONFIG_PATH":  s.ConfigPath,
		"UIX_SERVICE_MODE": "1",
	}
	if s.InsecureMode {
		env["UIX_INSECURE_MODE"] = "1"
	}
	if s.LogNoTimestamps {
		env["UIX_LOG_NO_TIMESTAMPS"] = "1"
	}
	if s.PluginPath != "" {
		env["UIX_PLUGIN_PATH"] = s.PluginPath
	}

	d := domain.ServiceDescriptor{
		ServiceName: s.ServiceName,
		Description: s.ServiceName + " bridge service",
		StoragePath: s.StoragePath,
		BinaryPath:  s.Host.BinaryPath,
		PathEnv:     s.Host.PathEnv,
		Port:        s.Port,
		UIPort:      s.UIPort,
		Environment: env,
	}
	if cfg != nil {
		d.Port = cfg.BridgePort()
		d.UIPort = cfg.UIPort()
	}
	if ident != nil {
		d.RunAsUser = ident.Name
		d.Group = ident.Group
		d.Home = ident.Home
	}
	return d
}

func (b *base) writeFile(path, content string, perm os.FileMode) error {
	if err := b.Fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(b.Fs, path, []byte(content), perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (b *base) removeFile(path string) error {
	if err := b.Fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// guidance prints the post-install hints.
func (b *base) guidance(cfg *bridgeconfig.Config) {
	uiPort := b.settings.UIPort
	if cfg != nil {
		uiPort = cfg.UIPort()
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	b.Printer.Success("%s installed and started", b.settings.ServiceName)
	b.Printer.Info("Manage %s in your browser at http://%s:%d", b.settings.ServiceName, host, uiPort)
	b.Printer.Info("Follow the logs with: hb-service view-logs")
}

// rebuild runs npm rebuild for the UI package and, when all is set, for every
// global package. A failure of the global pass is only a warning.
func (b *base) rebuild(ctx context.Context, all bool) error {
	npm := b.settings.NpmPath
	if npm == "" {
		npm = "npm"
	}

	res, err := b.run(ctx, npm, "root", "-g")
	if err != nil {
		return fmt.Errorf("failed to locate global node_modules: %w", err)
	}
	root := filepath.Clean(res.Stdout)

	primary := shell.Command{
		Name:   npm,
		Args:   []string{"rebuild", "--unsafe-perm"},
		Dir:    filepath.Join(root, UIPackage),
		Stream: true,
	}
	if _, err := b.Runner.Run(ctx, primary); err != nil {
		return fmt.Errorf("failed to rebuild %s: %w", UIPackage, err)
	}
	b.Printer.Success("Rebuilt %s", UIPackage)

	if !all {
		return nil
	}

	if _, err := b.Runner.Run(ctx, shell.Command{
		Name:   npm,
		Args:   []string{"rebuild", "--unsafe-perm"},
		Dir:    root,
		Stream: true,
	}); err != nil {
		b.Printer.Warn("Rebuilding all global packages failed: %v", err)
		return nil
	}
	b.Printer.Success("Rebuilt all global packages")
	return nil
}

// rebuildGate applies the privilege rule for rebuild: package-mode installs
// must not run it as root, everything else needs root.
func (b *base) rebuildGate(all bool) error {
	if b.settings.PackageMode {
		return b.Gate.RequireUnprivileged("rebuild")
	}
	var args []string
	if all {
		args = append(args, "--all")
	}
	return b.Gate.RequireElevated("rebuild", args...)
}

// beforeStart clears stale update state and repairs the storage path, bounded
// by BeforeStartTimeout.
func (b *base) beforeStart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, BeforeStartTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.repairStorage()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("before-start did not finish within %s: %w", BeforeStartTimeout, ctx.Err())
	}
}

func (b *base) repairStorage() error {
	if err := b.Updater.Cleanup(); err != nil {
		return err
	}
	if err := b.Store.EnsureStoragePathExists(); err != nil {
		return err
	}
	if _, err := b.Store.EnsureConfigExists(); err != nil {
		return err
	}
	return nil
}

// resolveRuntime resolves and gates job.TargetVersion for goos. It runs before
// anything is downloaded.
func (b *base) resolveRuntime(ctx context.Context, goos string, job domain.RuntimeUpdateJob) (*runtimeTarget, error) {
	target, err := runtime.ResolveTarget(ctx, b.Index, b.settings.Runtime.DistURL, job.TargetVersion)
	if err != nil {
		return nil, err
	}
	if err := b.Facts.Gate(ctx, goos, b.settings.Host.GOARCH, target); err != nil {
		return nil, err
	}

	current := b.Facts.NodeVersion(ctx, b.settings.NodePath)
	return &runtimeTarget{version: target, current: current}, nil
}

// runtimeTarget is a gated update target and the version currently installed.
type runtimeTarget struct {
	version *version.Version
	current *version.Version
}

func (t *runtimeTarget) upToDate() bool {
	return t.current != nil && t.current.Equal(t.version)
}

func (b *base) updateArgs(job domain.RuntimeUpdateJob) []string {
	args := []string{"--target", job.TargetVersion}
	if job.RebuildRequested {
		args = append(args, "--rebuild")
	}
	return args
}

func (b *base) getPidOfPort(ctx context.Context, port int) (int, bool) {
	return b.Probe.PidOfPort(ctx, port)
}

func (b *base) viewLogs(ctx context.Context, w io.Writer) error {
	return b.Logs.Follow(ctx, b.settings.LogPath(), w)
}

// allowFirewall opens the bridge ports, reporting but not failing when no
// firewall manager is active.
func (b *base) allowFirewall(ctx context.Context, mgr firewall.Manager, rule firewall.Rule) error {
	if mgr == nil {
		b.Logger.Info("no active firewall detected, skipping rule")
		return nil
	}
	if err := mgr.Allow(ctx, rule); err != nil {
		return err
	}
	b.Logger.Info("firewall rule added", "manager", mgr.Name(), "ports", rule.Ports)
	return nil
}

// removeFirewall is best effort: uninstall never fails on it.
func (b *base) removeFirewall(ctx context.Context, mgr firewall.Manager, rule firewall.Rule) {
	if mgr == nil {
		return
	}
	if err := mgr.Remove(ctx, rule); err != nil {
		b.Printer.Warn("Could not remove %s firewall rule: %v", mgr.Name(), err)
		return
	}
	b.Logger.Info("firewall rule removed", "manager", mgr.Name(), "ports", rule.Ports)
}
