package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/sharkusmanch/hb-service/internal/bridgeconfig"
	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/firewall"
	"github.com/sharkusmanch/hb-service/internal/servicefile"
)

// Darwin manages the bridge as a LaunchDaemon.
type Darwin struct {
	base
	firewall *firewall.SocketFilter
}

func newDarwin(deps Deps) *Darwin {
	return &Darwin{
		base:     newBase(deps, DarwinRestartDelay),
		firewall: firewall.NewSocketFilter(deps.Runner),
	}
}

// Name returns "darwin".
func (d *Darwin) Name() string { return "darwin" }

func (d *Darwin) plistPath() string {
	return servicefile.LaunchdPlistPath(d.settings.ServiceName)
}

func (d *Darwin) launchctl(ctx context.Context, args ...string) error {
	_, err := d.run(ctx, "launchctl", args...)
	return err
}

// installSteps returns the install sequence. The application firewall must
// allow node before launchd loads, and loads, the job.
func (d *Darwin) installSteps() []step {
	var (
		ident *domain.Identity
		cfg   *bridgeconfig.Config
	)

	return []step{
		{name: "check privileges", run: func(context.Context) error {
			return d.Gate.RequireElevated("install", d.installArgs()...)
		}},
		{name: "check service user", run: func(context.Context) error {
			var err error
			ident, err = d.existingUser()
			return err
		}},
		{name: "prepare storage path", run: func(ctx context.Context) error {
			return d.prepareStorage(ctx, ident)
		}},
		{name: "ensure config.json", run: func(context.Context) error {
			var err error
			cfg, err = d.Store.EnsureConfigExists()
			return err
		}},
		{name: "write launchd plist", run: func(ctx context.Context) error {
			plist, err := servicefile.Launchd(d.descriptor(ident, cfg))
			if err != nil {
				return err
			}
			if d.exists(d.plistPath()) {
				// Reinstall: drop the loaded job so the new plist is read.
				_ = d.launchctl(ctx, "unload", "-w", d.plistPath())
			}
			return d.writeFile(d.plistPath(), plist, 0o644)
		}},
		{name: "open firewall", run: func(ctx context.Context) error {
			if d.settings.NodePath == "" {
				d.Logger.Info("node binary unknown, skipping application firewall")
				return nil
			}
			return d.allowFirewall(ctx, d.firewall, d.firewallRule(cfg))
		}},
		{name: "load service", run: func(ctx context.Context) error {
			return d.launchctl(ctx, "load", "-w", d.plistPath())
		}},
		{name: "print guidance", run: func(context.Context) error {
			d.guidance(cfg)
			return nil
		}},
	}
}

// Install writes the plist and loads it. RunAtLoad starts the bridge.
func (d *Darwin) Install(ctx context.Context) error {
	return runSteps(ctx, d.Logger, "install", d.installSteps())
}

// existingUser resolves the run-as user. macOS accounts are not created here.
func (d *Darwin) existingUser() (*domain.Identity, error) {
	name, ident, err := d.resolveServiceUser()
	if err == nil {
		return ident, nil
	}
	var privErr *domain.PrivilegeError
	if errors.As(err, &privErr) {
		return nil, err
	}
	return nil, &domain.PrivilegeError{
		Operation: "install",
		Reason:    fmt.Sprintf("user %s does not exist; create it in System Settings first", name),
		Fix:       "sudo hb-service install --user " + name,
	}
}

// Uninstall unloads and removes the plist. A missing plist is not an error.
func (d *Darwin) Uninstall(ctx context.Context) error {
	if err := d.Gate.RequireElevated("uninstall"); err != nil {
		return err
	}
	if !d.exists(d.plistPath()) {
		d.Printer.Info("No %s service found, nothing to uninstall", d.settings.ServiceName)
		return nil
	}

	return runSteps(ctx, d.Logger, "uninstall", []step{
		{name: "unload service", run: func(ctx context.Context) error {
			if err := d.launchctl(ctx, "unload", "-w", d.plistPath()); err != nil {
				d.Printer.Warn("Could not unload %s: %v", d.plistPath(), err)
			}
			return nil
		}},
		{name: "remove launchd plist", run: func(context.Context) error {
			return d.removeFile(d.plistPath())
		}},
		{name: "remove firewall rule", run: func(ctx context.Context) error {
			d.removeFirewall(ctx, d.firewall, d.firewallRule(nil))
			d.Printer.Success("%s service removed", d.settings.ServiceName)
			return nil
		}},
	})
}

// Start loads the job, waiting out the restart delay after a stop.
func (d *Darwin) Start(ctx context.Context) error {
	if err := d.Gate.RequireElevated("start"); err != nil {
		return err
	}
	if err := d.waitForPorts(ctx); err != nil {
		return err
	}
	if err := d.launchctl(ctx, "load", "-w", d.plistPath()); err != nil {
		return fmt.Errorf("failed to load %s: %w", d.plistPath(), err)
	}
	d.Printer.Success("%s started", d.settings.ServiceName)
	return nil
}

// Stop unloads the job; KeepAlive would otherwise relaunch it.
func (d *Darwin) Stop(ctx context.Context) error {
	if err := d.Gate.RequireElevated("stop"); err != nil {
		return err
	}
	if err := d.launchctl(ctx, "unload", "-w", d.plistPath()); err != nil {
		return fmt.Errorf("failed to unload %s: %w", d.plistPath(), err)
	}
	d.markStopped()
	d.Printer.Success("%s stopped", d.settings.ServiceName)
	return nil
}

// Restart stops the job, waits DarwinRestartDelay and loads it again.
func (d *Darwin) Restart(ctx context.Context) error {
	if err := d.Stop(ctx); err != nil {
		return err
	}
	return d.Start(ctx)
}

// Rebuild re-links native modules.
func (d *Darwin) Rebuild(ctx context.Context, all bool) error {
	if err := d.rebuildGate(all); err != nil {
		return err
	}
	return d.rebuild(ctx, all)
}

// GetID resolves the uid/gid the service runs as.
func (d *Darwin) GetID(context.Context) (*domain.Identity, error) {
	return d.Gate.ResolveIdentity(d.settings.User)
}

// GetPidOfPort returns the pid listening on port.
func (d *Darwin) GetPidOfPort(ctx context.Context, port int) (int, bool) {
	return d.getPidOfPort(ctx, port)
}

// UpdateRuntime gates on the macOS version, swaps the runtime, then rebuilds
// and restarts as requested.
func (d *Darwin) UpdateRuntime(ctx context.Context, job domain.RuntimeUpdateJob) error {
	if err := d.Gate.RequireElevated("update-node", d.updateArgs(job)...); err != nil {
		return err
	}

	target, err := d.resolveRuntime(ctx, "darwin", job)
	if err != nil {
		return err
	}
	if target.upToDate() {
		d.Printer.Info("Node.js %s is already installed", target.version)
		return nil
	}

	d.Printer.Info("Updating Node.js to %s", target.version)
	if err := d.Updater.Swap(ctx, target.version); err != nil {
		return err
	}
	d.Printer.Success("Node.js %s installed", target.version)

	if job.RebuildRequested {
		if err := d.Rebuild(ctx, true); err != nil {
			return err
		}
	}

	if !d.exists(d.plistPath()) {
		d.Printer.Info("Restart %s to use the new Node.js version", d.settings.ServiceName)
		return nil
	}
	return d.Restart(ctx)
}

// BeforeStart clears stale update state.
func (d *Darwin) BeforeStart(ctx context.Context) error {
	return d.beforeStart(ctx)
}

// ViewLogs follows the shared log file.
func (d *Darwin) ViewLogs(ctx context.Context, w io.Writer) error {
	return d.viewLogs(ctx, w)
}

var launchdPID = regexp.MustCompile(`"PID"\s*=\s*(\d+);`)

// Status asks launchd whether the job is loaded and running.
func (d *Darwin) Status(ctx context.Context) (*domain.ServiceStatus, error) {
	if !d.exists(d.plistPath()) {
		return &domain.ServiceStatus{State: domain.ServiceStateNotInstalled, Message: "no plist at " + d.plistPath()}, nil
	}

	res, err := d.run(ctx, "launchctl", "list", servicefile.LaunchdLabel(d.settings.ServiceName))
	if err != nil {
		return &domain.ServiceStatus{State: domain.ServiceStateStopped, Message: "job is not loaded"}, nil
	}

	m := launchdPID.FindStringSubmatch(res.Stdout)
	if m == nil {
		return &domain.ServiceStatus{State: domain.ServiceStateStarting, Message: "job is loaded but has no pid"}, nil
	}
	pid, _ := strconv.Atoi(m[1])
	return &domain.ServiceStatus{State: domain.ServiceStateRunning, PID: pid}, nil
}

var _ domain.Adapter = (*Darwin)(nil)
