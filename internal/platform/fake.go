package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/spf13/afero"

	"github.com/sharkusmanch/hb-service/internal/config"
	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/firewall"
	"github.com/sharkusmanch/hb-service/internal/output"
	"github.com/sharkusmanch/hb-service/internal/privilege"
	"github.com/sharkusmanch/hb-service/internal/runtime"
	"github.com/sharkusmanch/hb-service/internal/servicefile"
	"github.com/sharkusmanch/hb-service/internal/shell"
)

// FakeHost simulates one machine for adapter tests: its service manager,
// firewall, accounts, filesystem and clock. It answers the commands the
// adapters issue through a shell.MockRunner and never touches the network.
type FakeHost struct {
	GOOS   string
	Fs     afero.Fs
	Runner *shell.MockRunner
	Users  *privilege.MockHost
	Out    bytes.Buffer

	// Glibc is reported by getconf. Empty simulates musl.
	Glibc string
	// Node is reported by node --version.
	Node string
	// UFWActive makes ufw report an active firewall.
	UFWActive bool
	// FailOn makes the first command starting with this prefix exit 1.
	FailOn string

	mu         sync.Mutex
	clock      time.Time
	slept      time.Duration
	running    bool
	registered bool
	startedAt  time.Time
	stoppedAt  time.Time
	downloads  int
	indexCalls int
}

// NewFakeHost returns an elevated host for goos with no service installed.
func NewFakeHost(goos string) *FakeHost {
	f := &FakeHost{
		GOOS:  goos,
		Fs:    afero.NewMemMapFs(),
		Users: &privilege.MockHost{Elevated: true},
		Glibc: "2.35",
		Node:  "v20.11.1",
		clock: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.Runner = &shell.MockRunner{RunFunc: f.run}
	return f
}

// Settings returns settings for a default install on this host.
func (f *FakeHost) Settings() *config.Settings {
	storage := config.DefaultStoragePath(f.GOOS, "/Users/alice")
	return &config.Settings{
		ServiceName:  config.DefaultServiceName,
		StoragePath:  storage,
		ConfigPath:   storage + "/" + config.BridgeConfigFileName,
		Port:         config.DefaultBridgePort,
		UIPort:       config.DefaultUIPort,
		BridgeBinary: config.DefaultBridgeBinary,
		UIBinary:     config.DefaultUIBinary,
		NodePath:     "/usr/local/bin/node",
		NpmPath:      "/usr/local/bin/npm",
		Supervisor: config.SupervisorConfig{
			RestartDelay: config.DefaultRestartDelay,
			StopGrace:    config.DefaultStopGrace,
		},
		Runtime: config.RuntimeConfig{
			DistURL:         config.DefaultDistURL,
			DownloadTimeout: config.DefaultDownloadTimeout,
			SafeRoots:       config.DefaultSafeRoots,
		},
		Windows: config.WindowsConfig{NSSMPath: config.DefaultNSSMPath},
		Log:     config.LogConfig{Level: config.DefaultLogLevel, MaxSizeMB: config.DefaultLogMaxSizeMB},
		Host: config.HostFacts{
			GOOS:       f.GOOS,
			GOARCH:     "amd64",
			BinaryPath: "/usr/local/bin/hb-service",
			PathEnv:    "/usr/local/bin:/usr/bin:/bin",
		},
	}
}

// Deps wires every adapter collaborator to this host.
func (f *FakeHost) Deps(s *config.Settings) Deps {
	return Deps{
		Settings: s,
		Runner:   f.Runner,
		Fs:       f.Fs,
		Host:     f.Users,
		Gate: privilege.NewGate(f.Users,
			privilege.WithGOOS(f.GOOS),
			privilege.WithSudoUser(s.Host.SudoUser),
			privilege.WithAllowRoot(s.AllowRoot),
		),
		Probe: firewall.NewProbe(firewall.WithConnectionLister(f.connections)),
		Index: f,
		Updater: runtime.NewUpdater(f.Runner, f, s.StoragePath, s.NodePath,
			runtime.WithFs(f.Fs),
			runtime.WithPlatform(f.GOOS, s.Host.GOARCH),
		),
		Logs:    f,
		Printer: output.NewPrinter(output.WithWriters(&f.Out, &f.Out), output.WithNoColor(true)),
		Now:     f.Now,
		Sleep:   f.Sleep,
	}
}

// Now returns the simulated clock.
func (f *FakeHost) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

// Sleep advances the simulated clock.
func (f *FakeHost) Sleep(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
	f.slept += d
	return nil
}

// Slept returns the total simulated sleep.
func (f *FakeHost) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}

// Running reports whether the simulated service is running.
func (f *FakeHost) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// StartedAfterStop returns the gap between the last stop and the last start.
func (f *FakeHost) StartedAfterStop() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startedAt.Sub(f.stoppedAt)
}

// NetworkCalls returns how many index lookups and downloads were attempted.
func (f *FakeHost) NetworkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads + f.indexCalls
}

// Register marks the service as installed for the service manager.
func (f *FakeHost) Register(s *config.Settings) error {
	f.mu.Lock()
	f.registered = true
	f.mu.Unlock()

	var path string
	switch f.GOOS {
	case "linux":
		path = servicefile.SystemdUnitPath(s.ServiceName)
	case "darwin":
		path = servicefile.LaunchdPlistPath(s.ServiceName)
	case "freebsd":
		path = servicefile.RCScriptPath(s.ServiceName)
	default:
		return nil
	}
	return afero.WriteFile(f.Fs, path, []byte("installed\n"), 0o644)
}

// GetJSON fails: tests never reach the release index.
func (f *FakeHost) GetJSON(context.Context, string, any) error {
	f.mu.Lock()
	f.indexCalls++
	f.mu.Unlock()
	return errors.New("network access is disabled on the fake host")
}

// Download fails: tests never reach the release mirror.
func (f *FakeHost) Download(context.Context, string, io.Writer) (int64, error) {
	f.mu.Lock()
	f.downloads++
	f.mu.Unlock()
	return 0, errors.New("network access is disabled on the fake host")
}

// Follow writes a marker line instead of tailing a real file.
func (f *FakeHost) Follow(_ context.Context, path string, w io.Writer) error {
	_, err := fmt.Fprintf(w, "following %s\n", path)
	return err
}

func (f *FakeHost) connections(context.Context, string) ([]gopsnet.ConnectionStat, error) {
	if !f.Running() {
		return nil, nil
	}
	return []gopsnet.ConnectionStat{{
		Status: "LISTEN",
		Laddr:  gopsnet.Addr{IP: "0.0.0.0", Port: config.DefaultUIPort},
		Pid:    4242,
	}}, nil
}

func exitErr(cmd shell.Command, code int, output string) (*shell.Result, error) {
	return &shell.Result{ExitCode: code, Stdout: output}, &domain.ShellCommandError{
		Command:  cmd.String(),
		ExitCode: code,
		Output:   output,
	}
}

func (f *FakeHost) setRunning(running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = running
	if running {
		f.startedAt = f.clock
	} else {
		f.stoppedAt = f.clock
	}
}

func (f *FakeHost) run(_ context.Context, cmd shell.Command) (*shell.Result, error) {
	line := cmd.String()
	if f.FailOn != "" && strings.HasPrefix(line, f.FailOn) {
		return exitErr(cmd, 1, "simulated failure")
	}

	args := cmd.Args
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch cmd.Name {
	case "useradd":
		f.Users.AddUser(args[len(args)-1], 1001)
	case "pw":
		f.Users.AddUser(arg(2), 1001)

	case "systemctl":
		switch arg(0) {
		case "start", "restart":
			f.setRunning(true)
		case "stop":
			f.setRunning(false)
		case "is-active":
			if f.Running() {
				return &shell.Result{Stdout: "active"}, nil
			}
			return exitErr(cmd, 3, "inactive")
		case "show":
			return &shell.Result{Stdout: "4242"}, nil
		}

	case "launchctl":
		switch arg(0) {
		case "load":
			f.setRunning(true)
		case "unload":
			f.setRunning(false)
		case "list":
			if !f.Running() {
				return exitErr(cmd, 113, "Could not find service")
			}
			return &shell.Result{Stdout: "{\n\t\"PID\" = 4242;\n};"}, nil
		}

	case "service":
		switch arg(1) {
		case "start":
			f.setRunning(true)
		case "stop":
			f.setRunning(false)
		case "status":
			if !f.Running() {
				return exitErr(cmd, 1, arg(0)+" is not running.")
			}
			return &shell.Result{Stdout: arg(0) + " is running as pid 4242."}, nil
		}

	case config.DefaultNSSMPath:
		f.mu.Lock()
		registered := f.registered
		f.mu.Unlock()
		switch arg(0) {
		case "install":
			f.mu.Lock()
			f.registered = true
			f.mu.Unlock()
		case "remove":
			f.mu.Lock()
			f.registered = false
			f.mu.Unlock()
		case "start":
			f.setRunning(true)
		case "stop":
			f.setRunning(false)
		case "status":
			if !registered {
				return exitErr(cmd, 3, "Can't open service!")
			}
			if f.Running() {
				return &shell.Result{Stdout: "SERVICE_RUNNING"}, nil
			}
			return &shell.Result{Stdout: "SERVICE_STOPPED"}, nil
		}

	case "ufw":
		if arg(0) == "status" {
			if f.UFWActive {
				return &shell.Result{Stdout: "Status: active"}, nil
			}
			return &shell.Result{Stdout: "Status: inactive"}, nil
		}
	case "firewall-cmd":
		if arg(0) == "--state" {
			return exitErr(cmd, 252, "not running")
		}
	case firewall.SocketFilterPath:
		if arg(0) == "--getglobalstate" {
			return &shell.Result{Stdout: "Firewall is enabled. (State = 1)"}, nil
		}

	case "getconf":
		if f.Glibc == "" {
			return exitErr(cmd, 1, "getconf: Unrecognized variable 'GNU_LIBC_VERSION'")
		}
		return &shell.Result{Stdout: "glibc " + f.Glibc}, nil
	case "sw_vers":
		return &shell.Result{Stdout: "14.2"}, nil

	default:
		if strings.HasSuffix(cmd.Name, "node") && arg(0) == "--version" {
			return &shell.Result{Stdout: f.Node}, nil
		}
		if strings.HasSuffix(cmd.Name, "npm") && arg(0) == "root" {
			return &shell.Result{Stdout: "/usr/local/lib/node_modules"}, nil
		}
	}

	return &shell.Result{}, nil
}

var (
	_ runtime.IndexFetcher = (*FakeHost)(nil)
	_ runtime.Downloader   = (*FakeHost)(nil)
	_ LogFollower          = (*FakeHost)(nil)
)
