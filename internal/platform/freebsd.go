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
	"github.com/sharkusmanch/hb-service/internal/servicefile"
)

// FreeBSD manages the bridge with an rc.d script.
type FreeBSD struct {
	base
}

func newFreeBSD(deps Deps) *FreeBSD {
	return &FreeBSD{base: newBase(deps, FreeBSDRestartDelay)}
}

// Name returns "freebsd".
func (f *FreeBSD) Name() string { return "freebsd" }

func (f *FreeBSD) rcName() string {
	return servicefile.RCName(f.settings.ServiceName)
}

func (f *FreeBSD) scriptPath() string {
	return servicefile.RCScriptPath(f.settings.ServiceName)
}

func (f *FreeBSD) service(ctx context.Context, verb string) error {
	_, err := f.run(ctx, "service", f.rcName(), verb)
	return err
}

// installSteps returns the install sequence. FreeBSD ships no default
// firewall, so no rule is added.
func (f *FreeBSD) installSteps() []step {
	var (
		ident *domain.Identity
		cfg   *bridgeconfig.Config
	)

	return []step{
		{name: "check privileges", run: func(context.Context) error {
			return f.Gate.RequireElevated("install", f.installArgs()...)
		}},
		{name: "create service user", run: func(ctx context.Context) error {
			var err error
			ident, err = f.ensureUser(ctx)
			return err
		}},
		{name: "prepare storage path", run: func(ctx context.Context) error {
			return f.prepareStorage(ctx, ident)
		}},
		{name: "ensure config.json", run: func(context.Context) error {
			var err error
			cfg, err = f.Store.EnsureConfigExists()
			return err
		}},
		{name: "write rc script", run: func(context.Context) error {
			script, err := servicefile.RC(f.descriptor(ident, cfg))
			if err != nil {
				return err
			}
			return f.writeFile(f.scriptPath(), script, 0o755)
		}},
		{name: "enable service", run: func(ctx context.Context) error {
			_, err := f.run(ctx, "sysrc", f.rcName()+"_enable=YES")
			return err
		}},
		{name: "start service", run: func(ctx context.Context) error {
			return f.service(ctx, "start")
		}},
		{name: "print guidance", run: func(context.Context) error {
			f.guidance(cfg)
			return nil
		}},
	}
}

// Install writes and enables the rc script and starts the service.
func (f *FreeBSD) Install(ctx context.Context) error {
	return runSteps(ctx, f.Logger, "install", f.installSteps())
}

func (f *FreeBSD) ensureUser(ctx context.Context) (*domain.Identity, error) {
	name, ident, err := f.resolveServiceUser()
	if err == nil {
		return ident, nil
	}
	var privErr *domain.PrivilegeError
	if errors.As(err, &privErr) {
		return nil, err
	}

	f.Printer.Info("Creating service user %s", name)
	if _, err := f.run(ctx, "pw", "useradd", "-n", name, "-m", "-s", "/usr/sbin/nologin",
		"-c", f.settings.ServiceName+" service"); err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", name, err)
	}
	return f.Host.LookupUser(name)
}

// Uninstall stops the service and removes the rc script. A missing script is
// not an error.
func (f *FreeBSD) Uninstall(ctx context.Context) error {
	if err := f.Gate.RequireElevated("uninstall"); err != nil {
		return err
	}
	if !f.exists(f.scriptPath()) {
		f.Printer.Info("No %s service found, nothing to uninstall", f.settings.ServiceName)
		return nil
	}

	return runSteps(ctx, f.Logger, "uninstall", []step{
		{name: "stop service", run: func(ctx context.Context) error {
			if err := f.service(ctx, "stop"); err != nil {
				f.Printer.Warn("Could not stop %s: %v", f.rcName(), err)
			}
			return nil
		}},
		{name: "disable service", run: func(ctx context.Context) error {
			if _, err := f.run(ctx, "sysrc", "-x", f.rcName()+"_enable"); err != nil {
				f.Printer.Warn("Could not remove %s_enable from rc.conf: %v", f.rcName(), err)
			}
			return nil
		}},
		{name: "remove rc script", run: func(context.Context) error {
			if err := f.removeFile(f.scriptPath()); err != nil {
				return err
			}
			f.Printer.Success("%s service removed", f.settings.ServiceName)
			return nil
		}},
	})
}

// Start starts the service, waiting out the restart delay after a stop.
func (f *FreeBSD) Start(ctx context.Context) error {
	if err := f.Gate.RequireElevated("start"); err != nil {
		return err
	}
	if err := f.waitForPorts(ctx); err != nil {
		return err
	}
	if err := f.service(ctx, "start"); err != nil {
		return fmt.Errorf("failed to start %s: %w", f.rcName(), err)
	}
	f.Printer.Success("%s started", f.settings.ServiceName)
	return nil
}

// Stop stops the service.
func (f *FreeBSD) Stop(ctx context.Context) error {
	if err := f.Gate.RequireElevated("stop"); err != nil {
		return err
	}
	if err := f.service(ctx, "stop"); err != nil {
		return fmt.Errorf("failed to stop %s: %w", f.rcName(), err)
	}
	f.markStopped()
	f.Printer.Success("%s stopped", f.settings.ServiceName)
	return nil
}

// Restart stops, waits FreeBSDRestartDelay and starts the service.
func (f *FreeBSD) Restart(ctx context.Context) error {
	if err := f.Stop(ctx); err != nil {
		return err
	}
	return f.Start(ctx)
}

// Rebuild re-links native modules.
func (f *FreeBSD) Rebuild(ctx context.Context, all bool) error {
	if err := f.rebuildGate(all); err != nil {
		return err
	}
	return f.rebuild(ctx, all)
}

// GetID resolves the uid/gid the service runs as.
func (f *FreeBSD) GetID(context.Context) (*domain.Identity, error) {
	return f.Gate.ResolveIdentity(f.settings.User)
}

// GetPidOfPort returns the pid listening on port.
func (f *FreeBSD) GetPidOfPort(ctx context.Context, port int) (int, bool) {
	return f.getPidOfPort(ctx, port)
}

// UpdateRuntime is not available: node comes from pkg on FreeBSD.
func (f *FreeBSD) UpdateRuntime(context.Context, domain.RuntimeUpdateJob) error {
	return &domain.NotImplementedError{Platform: "freebsd", Capability: "update-node (use pkg upgrade node)"}
}

// BeforeStart clears stale update state.
func (f *FreeBSD) BeforeStart(ctx context.Context) error {
	return f.beforeStart(ctx)
}

// ViewLogs follows the shared log file.
func (f *FreeBSD) ViewLogs(ctx context.Context, w io.Writer) error {
	return f.viewLogs(ctx, w)
}

var rcPID = regexp.MustCompile(`pid (\d+)`)

// Status asks rc for the service state.
func (f *FreeBSD) Status(ctx context.Context) (*domain.ServiceStatus, error) {
	if !f.exists(f.scriptPath()) {
		return &domain.ServiceStatus{State: domain.ServiceStateNotInstalled, Message: "no rc script at " + f.scriptPath()}, nil
	}

	res, err := f.run(ctx, "service", f.rcName(), "status")
	if err != nil {
		return &domain.ServiceStatus{State: domain.ServiceStateStopped}, nil
	}

	status := &domain.ServiceStatus{State: domain.ServiceStateRunning}
	if m := rcPID.FindStringSubmatch(res.Stdout); m != nil {
		status.PID, _ = strconv.Atoi(m[1])
	}
	return status, nil
}

var _ domain.Adapter = (*FreeBSD)(nil)
