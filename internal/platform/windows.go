package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sharkusmanch/hb-service/internal/bridgeconfig"
	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/firewall"
	"github.com/sharkusmanch/hb-service/internal/servicefile"
)

// Windows manages the bridge through the nssm service wrapper.
type Windows struct {
	base
	firewall *firewall.Netsh
}

func newWindows(deps Deps) *Windows {
	return &Windows{
		base:     newBase(deps, WindowsRestartDelay),
		firewall: firewall.NewNetsh(deps.Runner),
	}
}

// Name returns "windows".
func (w *Windows) Name() string { return "windows" }

func (w *Windows) nssm(ctx context.Context, args ...string) (string, error) {
	res, err := w.run(ctx, w.settings.Windows.NSSMPath, args...)
	if res == nil {
		return "", err
	}
	return strings.TrimSpace(cleanNSSM(res.Stdout)), err
}

// cleanNSSM drops the NUL bytes nssm leaves in its UTF-16 output.
func cleanNSSM(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// installed reports whether the SCM knows the service.
func (w *Windows) installed(ctx context.Context) bool {
	_, err := w.nssm(ctx, "status", w.settings.ServiceName)
	return err == nil
}

// installSteps returns the install sequence. The service runs as LocalSystem,
// so no run-as user is resolved.
func (w *Windows) installSteps() []step {
	var cfg *bridgeconfig.Config

	return []step{
		{name: "check privileges", run: func(context.Context) error {
			return w.Gate.RequireElevated("install")
		}},
		{name: "prepare storage path", run: func(ctx context.Context) error {
			return w.prepareStorage(ctx, nil)
		}},
		{name: "ensure config.json", run: func(context.Context) error {
			var err error
			cfg, err = w.Store.EnsureConfigExists()
			return err
		}},
		{name: "register service", run: func(ctx context.Context) error {
			if w.installed(ctx) {
				// Reinstall: the wrapper refuses to install over an existing service.
				_, _ = w.nssm(ctx, "stop", w.settings.ServiceName)
				if _, err := w.nssm(ctx, "remove", w.settings.ServiceName, "confirm"); err != nil {
					return fmt.Errorf("failed to remove existing service: %w", err)
				}
			}
			calls, err := servicefile.NSSMInstallArgs(w.descriptor(nil, cfg))
			if err != nil {
				return err
			}
			for _, args := range calls {
				if _, err := w.nssm(ctx, args...); err != nil {
					return err
				}
			}
			return nil
		}},
		{name: "enable service", run: func(ctx context.Context) error {
			_, err := w.nssm(ctx, servicefile.NSSMAutostartArgs(w.settings.ServiceName)...)
			return err
		}},
		{name: "open firewall", run: func(ctx context.Context) error {
			return w.allowFirewall(ctx, w.firewall, w.firewallRule(cfg))
		}},
		{name: "start service", run: func(ctx context.Context) error {
			_, err := w.nssm(ctx, "start", w.settings.ServiceName)
			return err
		}},
		{name: "print guidance", run: func(context.Context) error {
			w.guidance(cfg)
			return nil
		}},
	}
}

// Install registers the service with nssm and starts it.
func (w *Windows) Install(ctx context.Context) error {
	return runSteps(ctx, w.Logger, "install", w.installSteps())
}

// Uninstall stops and removes the service. A missing service is not an error.
func (w *Windows) Uninstall(ctx context.Context) error {
	if err := w.Gate.RequireElevated("uninstall"); err != nil {
		return err
	}
	if !w.installed(ctx) {
		w.Printer.Info("No %s service found, nothing to uninstall", w.settings.ServiceName)
		return nil
	}

	return runSteps(ctx, w.Logger, "uninstall", []step{
		{name: "stop service", run: func(ctx context.Context) error {
			if _, err := w.nssm(ctx, "stop", w.settings.ServiceName); err != nil {
				w.Printer.Warn("Could not stop %s: %v", w.settings.ServiceName, err)
			}
			return nil
		}},
		{name: "remove service", run: func(ctx context.Context) error {
			_, err := w.nssm(ctx, "remove", w.settings.ServiceName, "confirm")
			return err
		}},
		{name: "remove firewall rule", run: func(ctx context.Context) error {
			w.removeFirewall(ctx, w.firewall, w.firewallRule(nil))
			w.Printer.Success("%s service removed", w.settings.ServiceName)
			return nil
		}},
	})
}

// Start starts the service, waiting out the restart delay after a stop.
func (w *Windows) Start(ctx context.Context) error {
	if err := w.Gate.RequireElevated("start"); err != nil {
		return err
	}
	if err := w.waitForPorts(ctx); err != nil {
		return err
	}
	if _, err := w.nssm(ctx, "start", w.settings.ServiceName); err != nil {
		return fmt.Errorf("failed to start %s: %w", w.settings.ServiceName, err)
	}
	w.Printer.Success("%s started", w.settings.ServiceName)
	return nil
}

// Stop stops the service.
func (w *Windows) Stop(ctx context.Context) error {
	if err := w.Gate.RequireElevated("stop"); err != nil {
		return err
	}
	if _, err := w.nssm(ctx, "stop", w.settings.ServiceName); err != nil {
		return fmt.Errorf("failed to stop %s: %w", w.settings.ServiceName, err)
	}
	w.markStopped()
	w.Printer.Success("%s stopped", w.settings.ServiceName)
	return nil
}

// Restart stops, waits WindowsRestartDelay and starts the service.
func (w *Windows) Restart(ctx context.Context) error {
	if err := w.Stop(ctx); err != nil {
		return err
	}
	return w.Start(ctx)
}

// Rebuild re-links native modules.
func (w *Windows) Rebuild(ctx context.Context, all bool) error {
	if err := w.rebuildGate(all); err != nil {
		return err
	}
	return w.rebuild(ctx, all)
}

// GetID is meaningless for a LocalSystem service.
func (w *Windows) GetID(context.Context) (*domain.Identity, error) {
	return nil, &domain.NotImplementedError{Platform: "windows", Capability: "get-id"}
}

// GetPidOfPort returns the pid listening on port.
func (w *Windows) GetPidOfPort(ctx context.Context, port int) (int, bool) {
	return w.getPidOfPort(ctx, port)
}

// UpdateRuntime installs the target runtime from the official MSI.
func (w *Windows) UpdateRuntime(ctx context.Context, job domain.RuntimeUpdateJob) error {
	if err := w.Gate.RequireElevated("update-node", w.updateArgs(job)...); err != nil {
		return err
	}

	target, err := w.resolveRuntime(ctx, "windows", job)
	if err != nil {
		return err
	}
	if target.upToDate() {
		w.Printer.Info("Node.js %s is already installed", target.version)
		return nil
	}

	installed := w.installed(ctx)
	if installed {
		// The installer cannot replace node.exe while the bridge holds it open.
		if _, err := w.nssm(ctx, "stop", w.settings.ServiceName); err != nil {
			w.Printer.Warn("Could not stop %s before updating: %v", w.settings.ServiceName, err)
		}
		w.markStopped()
	}

	w.Printer.Info("Updating Node.js to %s", target.version)
	if err := w.Updater.InstallMSI(ctx, target.version); err != nil {
		return err
	}
	w.Printer.Success("Node.js %s installed", target.version)

	if job.RebuildRequested {
		if err := w.Rebuild(ctx, true); err != nil {
			return err
		}
	}

	if !installed {
		w.Printer.Info("Restart %s to use the new Node.js version", w.settings.ServiceName)
		return nil
	}
	return w.Start(ctx)
}

// BeforeStart has no service manager hook on Windows.
func (w *Windows) BeforeStart(context.Context) error {
	return &domain.NotImplementedError{Platform: "windows", Capability: "before-start"}
}

// ViewLogs follows the shared log file.
func (w *Windows) ViewLogs(ctx context.Context, out io.Writer) error {
	return w.viewLogs(ctx, out)
}

// Status asks the wrapper for the SCM state.
func (w *Windows) Status(ctx context.Context) (*domain.ServiceStatus, error) {
	out, err := w.nssm(ctx, "status", w.settings.ServiceName)
	if err != nil {
		var shellErr *domain.ShellCommandError
		if errors.As(err, &shellErr) {
			return &domain.ServiceStatus{State: domain.ServiceStateNotInstalled, Message: strings.TrimSpace(cleanNSSM(shellErr.Output))}, nil
		}
		return nil, fmt.Errorf("failed to query service: %w", err)
	}

	status := &domain.ServiceStatus{State: scmState(out)}
	if status.State == domain.ServiceStateRunning {
		if pid, ok := w.getPidOfPort(ctx, w.settings.UIPort); ok {
			status.PID = pid
		}
	}
	return status, nil
}

func scmState(s string) domain.ServiceState {
	switch s {
	case "SERVICE_RUNNING":
		return domain.ServiceStateRunning
	case "SERVICE_START_PENDING", "SERVICE_CONTINUE_PENDING":
		return domain.ServiceStateStarting
	case "SERVICE_STOP_PENDING", "SERVICE_PAUSE_PENDING":
		return domain.ServiceStateStopping
	case "SERVICE_STOPPED", "SERVICE_PAUSED":
		return domain.ServiceStateStopped
	default:
		return domain.ServiceStateUnknown
	}
}

var _ domain.Adapter = (*Windows)(nil)
