// Package domain defines core business types and interfaces.
package domain

import (
	"context"
	"io"
	"sort"
)

// ServiceState represents the lifecycle state of the bridge service as reported by the OS.
type ServiceState string

const (
	// ServiceStateUnknown indicates the state cannot be determined.
	ServiceStateUnknown ServiceState = "unknown"
	// ServiceStateNotInstalled indicates no service descriptor is registered.
	ServiceStateNotInstalled ServiceState = "not_installed"
	// ServiceStateInstalled indicates the descriptor exists but the state is not otherwise known.
	ServiceStateInstalled ServiceState = "installed"
	// ServiceStateStopped indicates the service is installed and stopped.
	ServiceStateStopped ServiceState = "stopped"
	// ServiceStateStarting indicates the service manager is starting the service.
	ServiceStateStarting ServiceState = "starting"
	// ServiceStateRunning indicates the service is running.
	ServiceStateRunning ServiceState = "running"
	// ServiceStateStopping indicates the service is stopping.
	ServiceStateStopping ServiceState = "stopping"
)

// String returns the string representation of the service state.
func (s ServiceState) String() string {
	return string(s)
}

// ServiceStatus contains information about the service status.
type ServiceStatus struct {
	// State is the current service state.
	State ServiceState `json:"state"`

	// PID is the process ID if running.
	PID int `json:"pid,omitempty"`

	// Message provides additional status information.
	Message string `json:"message,omitempty"`
}

// Identity is the OS account a service runs as.
type Identity struct {
	Name  string
	UID   int
	GID   int
	// Group is the name of the primary group, empty when it cannot be resolved.
	Group string
	Home  string
}

// ServiceDescriptor holds everything needed to render an OS service descriptor.
// It is built once per lifecycle command and never persisted on its own.
type ServiceDescriptor struct {
	ServiceName string
	Description string
	StoragePath string
	BinaryPath  string
	RunAsUser   string
	Group       string
	Home        string
	Port        int
	UIPort      int
	PathEnv     string
	Environment map[string]string
}

// EnvKeys returns the descriptor's environment keys in sorted order.
func (d ServiceDescriptor) EnvKeys() []string {
	keys := make([]string, 0, len(d.Environment))
	for k := range d.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RuntimeUpdateJob describes one update-node invocation.
type RuntimeUpdateJob struct {
	// TargetVersion is an exact version, "lts", "latest", or a bare major.
	TargetVersion string

	// RebuildRequested triggers rebuild(all=true) after the swap.
	RebuildRequested bool
}

// Adapter is the service lifecycle contract implemented once per OS family.
// Capabilities that make no sense on a platform return a NotImplementedError.
type Adapter interface {
	// Name returns the platform name (linux, darwin, windows, freebsd).
	Name() string

	// Install registers, enables and starts the service.
	Install(ctx context.Context) error

	// Uninstall stops and removes the service. Succeeds when nothing is installed.
	Uninstall(ctx context.Context) error

	// Start starts the installed service.
	Start(ctx context.Context) error

	// Stop stops the installed service.
	Stop(ctx context.Context) error

	// Restart stops the service, waits for the platform delay, and starts it.
	Restart(ctx context.Context) error

	// Rebuild re-links native modules against the installed runtime.
	Rebuild(ctx context.Context, all bool) error

	// GetID resolves the uid/gid the service runs as.
	GetID(ctx context.Context) (*Identity, error)

	// GetPidOfPort returns the pid listening on port, or false when unknown.
	GetPidOfPort(ctx context.Context, port int) (int, bool)

	// UpdateRuntime gates and performs a runtime upgrade.
	UpdateRuntime(ctx context.Context, job RuntimeUpdateJob) error

	// BeforeStart is the pre-start hook run by the OS service manager.
	BeforeStart(ctx context.Context) error

	// ViewLogs follows the service log until ctx is done.
	ViewLogs(ctx context.Context, w io.Writer) error

	// Status queries the OS for the current service state.
	Status(ctx context.Context) (*ServiceStatus, error)
}
