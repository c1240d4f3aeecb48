package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sharkusmanch/hb-service/internal/bridgeconfig"
	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/firewall"
	"github.com/sharkusmanch/hb-service/internal/servicefile"
)

// Linux manages the bridge as a systemd unit.
type Linux struct {
	base
}

func newLinux(deps Deps) *Linux {
	return &Linux{base: newBase(deps, LinuxRestartDelay)}
}

// Name returns "linux".
func (l *Linux) Name() string { return "linux" }

func (l *Linux) unit() string {
	return servicefile.UnitName(l.settings.ServiceName) + ".service"
}

func (l *Linux) unitPath() string {
	return servicefile.SystemdUnitPath(l.settings.ServiceName)
}

func (l *Linux) systemctl(ctx context.Context, args ...string) error {
	_, err := l.run(ctx, "systemctl", args...)
	return err
}

// installSteps returns the install sequence. Firewall rules are added before
// the service is started.
func (l *Linux) installSteps() []step {
	var (
		ident *domain.Identity
		cfg   *bridgeconfig.Config
	)

	return []step{
		{name: "check privileges", run: func(context.Context) error {
			return l.Gate.RequireElevated("install", l.installArgs()...)
		}},
		{name: "create service user", run: func(ctx context.Context) error {
			var err error
			ident, err = l.ensureUser(ctx)
			return err
		}},
		{name: "prepare storage path", run: func(ctx context.Context) error {
			return l.prepareStorage(ctx, ident)
		}},
		{name: "ensure config.json", run: func(context.Context) error {
			var err error
			cfg, err = l.Store.EnsureConfigExists()
			return err
		}},
		{name: "write systemd unit", run: func(ctx context.Context) error {
			unit, err := servicefile.Systemd(l.descriptor(ident, cfg))
			if err != nil {
				return err
			}
			if err := l.writeFile(l.unitPath(), unit, 0o644); err != nil {
				return err
			}
			return l.systemctl(ctx, "daemon-reload")
		}},
		{name: "enable service", run: func(ctx context.Context) error {
			return l.systemctl(ctx, "enable", l.unit())
		}},
		{name: "open firewall", run: func(ctx context.Context) error {
			return l.allowFirewall(ctx, firewall.DetectLinux(ctx, l.Runner), l.firewallRule(cfg))
		}},
		{name: "start service", run: func(ctx context.Context) error {
			return l.systemctl(ctx, "restart", l.unit())
		}},
		{name: "print guidance", run: func(context.Context) error {
			l.guidance(cfg)
			return nil
		}},
	}
}

// Install registers, enables and starts the systemd unit.
func (l *Linux) Install(ctx context.Context) error {
	return runSteps(ctx, l.Logger, "install", l.installSteps())
}

// ensureUser returns the run-as user, creating a system account when the
// name does not exist yet.
func (l *Linux) ensureUser(ctx context.Context) (*domain.Identity, error) {
	name, ident, err := l.resolveServiceUser()
	if err == nil {
		return ident, nil
	}
	var privErr *domain.PrivilegeError
	if errors.As(err, &privErr) {
		return nil, err
	}

	l.Printer.Info("Creating service user %s", name)
	if _, err := l.run(ctx, "useradd", "--system", "--create-home", "--user-group",
		"--shell", "/usr/sbin/nologin", name); err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", name, err)
	}
	return l.Host.LookupUser(name)
}

// Uninstall stops and removes the unit. A missing unit is not an error.
func (l *Linux) Uninstall(ctx context.Context) error {
	if err := l.Gate.RequireElevated("uninstall"); err != nil {
		return err
	}
	if !l.exists(l.unitPath()) {
		l.Printer.Info("No %s service found, nothing to uninstall", l.settings.ServiceName)
		return nil
	}

	return runSteps(ctx, l.Logger, "uninstall", []step{
		{name: "stop service", run: func(ctx context.Context) error {
			if err := l.systemctl(ctx, "stop", l.unit()); err != nil {
				l.Printer.Warn("Could not stop %s: %v", l.unit(), err)
			}
			return nil
		}},
		{name: "disable service", run: func(ctx context.Context) error {
			return l.systemctl(ctx, "disable", l.unit())
		}},
		{name: "remove systemd unit", run: func(ctx context.Context) error {
			if err := l.removeFile(l.unitPath()); err != nil {
				return err
			}
			return l.systemctl(ctx, "daemon-reload")
		}},
		{name: "remove firewall rule", run: func(ctx context.Context) error {
			l.removeFirewall(ctx, firewall.DetectLinux(ctx, l.Runner), l.firewallRule(nil))
			l.Printer.Success("%s service removed", l.settings.ServiceName)
			return nil
		}},
	})
}

// Start starts the unit, waiting out the restart delay after a stop.
func (l *Linux) Start(ctx context.Context) error {
	if err := l.Gate.RequireElevated("start"); err != nil {
		return err
	}
	if err := l.waitForPorts(ctx); err != nil {
		return err
	}
	if err := l.systemctl(ctx, "start", l.unit()); err != nil {
		return fmt.Errorf("failed to start %s: %w", l.unit(), err)
	}
	l.Printer.Success("%s started", l.settings.ServiceName)
	return nil
}

// Stop stops the unit.
func (l *Linux) Stop(ctx context.Context) error {
	if err := l.Gate.RequireElevated("stop"); err != nil {
		return err
	}
	if err := l.systemctl(ctx, "stop", l.unit()); err != nil {
		return fmt.Errorf("failed to stop %s: %w", l.unit(), err)
	}
	l.markStopped()
	l.Printer.Success("%s stopped", l.settings.ServiceName)
	return nil
}

// Restart stops the unit, waits LinuxRestartDelay and starts it again.
func (l *Linux) Restart(ctx context.Context) error {
	if err := l.Stop(ctx); err != nil {
		return err
	}
	return l.Start(ctx)
}

// Rebuild re-links native modules.
func (l *Linux) Rebuild(ctx context.Context, all bool) error {
	if err := l.rebuildGate(all); err != nil {
		return err
	}
	return l.rebuild(ctx, all)
}

// GetID resolves the uid/gid the service runs as.
func (l *Linux) GetID(context.Context) (*domain.Identity, error) {
	return l.Gate.ResolveIdentity(l.settings.User)
}

// GetPidOfPort returns the pid listening on port.
func (l *Linux) GetPidOfPort(ctx context.Context, port int) (int, bool) {
	return l.getPidOfPort(ctx, port)
}

// UpdateRuntime gates, downloads and swaps the runtime, then rebuilds and
// restarts as requested.
func (l *Linux) UpdateRuntime(ctx context.Context, job domain.RuntimeUpdateJob) error {
	if err := l.Gate.RequireElevated("update-node", l.updateArgs(job)...); err != nil {
		return err
	}

	target, err := l.resolveRuntime(ctx, "linux", job)
	if err != nil {
		return err
	}
	if target.upToDate() {
		l.Printer.Info("Node.js %s is already installed", target.version)
		return nil
	}

	l.Printer.Info("Updating Node.js to %s", target.version)
	if err := l.Updater.Swap(ctx, target.version); err != nil {
		return err
	}
	l.Printer.Success("Node.js %s installed", target.version)

	if job.RebuildRequested {
		if err := l.Rebuild(ctx, true); err != nil {
			return err
		}
	}

	if !l.exists(l.unitPath()) {
		l.Printer.Info("Restart %s to use the new Node.js version", l.settings.ServiceName)
		return nil
	}
	return l.Restart(ctx)
}

// BeforeStart clears stale update state before systemd starts the service.
func (l *Linux) BeforeStart(ctx context.Context) error {
	return l.beforeStart(ctx)
}

// ViewLogs follows the shared log file.
func (l *Linux) ViewLogs(ctx context.Context, w io.Writer) error {
	return l.viewLogs(ctx, w)
}

// Status asks systemd for the unit state.
func (l *Linux) Status(ctx context.Context) (*domain.ServiceStatus, error) {
	if !l.exists(l.unitPath()) {
		return &domain.ServiceStatus{State: domain.ServiceStateNotInstalled, Message: "no systemd unit at " + l.unitPath()}, nil
	}

	// is-active exits non-zero for every state except active.
	res, _ := l.run(ctx, "systemctl", "is-active", l.unit())
	state := domain.ServiceStateUnknown
	if res != nil {
		state = systemdState(strings.TrimSpace(res.Stdout))
	}

	status := &domain.ServiceStatus{State: state}
	if state == domain.ServiceStateRunning {
		if res, err := l.run(ctx, "systemctl", "show", "--property", "MainPID", "--value", l.unit()); err == nil {
			if pid, err := strconv.Atoi(strings.TrimSpace(res.Stdout)); err == nil && pid > 0 {
				status.PID = pid
			}
		}
	}
	return status, nil
}

func systemdState(s string) domain.ServiceState {
	switch s {
	case "active", "reloading":
		return domain.ServiceStateRunning
	case "activating":
		return domain.ServiceStateStarting
	case "deactivating":
		return domain.ServiceStateStopping
	case "inactive", "failed":
		return domain.ServiceStateStopped
	default:
		return domain.ServiceStateUnknown
	}
}

var _ domain.Adapter = (*Linux)(nil)
