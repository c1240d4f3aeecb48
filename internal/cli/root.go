// Package cli provides the hb-service command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sharkusmanch/hb-service/internal/config"
	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/output"
	"github.com/sharkusmanch/hb-service/internal/platform"
	"github.com/sharkusmanch/hb-service/pkg/version"
)

// AdapterFactory builds the platform adapter for loaded settings.
type AdapterFactory func(s *config.Settings, p *output.Printer, logger *slog.Logger) (domain.Adapter, error)

// DefaultAdapterFactory selects the adapter for the host OS with real
// collaborators.
func DefaultAdapterFactory(s *config.Settings, p *output.Printer, logger *slog.Logger) (domain.Adapter, error) {
	return platform.New(s.Host.GOOS, platform.Deps{
		Settings: s,
		Printer:  p,
		Logger:   logger,
	})
}

// Option configures a CLI invocation.
type Option func(*app)

// WithIO replaces the process standard streams.
func WithIO(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(a *app) {
		a.stdin = stdin
		a.stdout = stdout
		a.stderr = stderr
	}
}

// WithAdapterFactory replaces DefaultAdapterFactory.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(a *app) {
		a.newAdapter = f
	}
}

// WithLoader replaces config.NewLoader.
func WithLoader(fn func() *config.Loader) Option {
	return func(a *app) {
		a.newLoader = fn
	}
}

// WithLookPath replaces exec.LookPath for validate.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(a *app) {
		a.lookPath = fn
	}
}

// app holds the state of one invocation: injected collaborators and the
// global flags.
type app struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	newAdapter AdapterFactory
	newLoader  func() *config.Loader
	lookPath   func(string) (string, error)

	cfgFile     string
	logLevel    string
	storagePath string
	noColor     bool

	out *output.Printer
}

// Run executes hb-service with args and returns the process exit code.
func Run(args []string, opts ...Option) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, args, opts...)
}

// RunContext is Run with a caller-supplied context, used when the Windows
// service control manager owns the process lifetime.
func RunContext(ctx context.Context, args []string, opts ...Option) int {
	a := &app{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		newAdapter: DefaultAdapterFactory,
		newLoader:  config.NewLoader,
		lookPath:   exec.LookPath,
	}
	for _, opt := range opts {
		opt(a)
	}

	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		a.printer().Fail(err)
		return 1
	}
	return 0
}

func (a *app) newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hb-service",
		Short: "Homebridge service lifecycle manager",
		Long: `hb-service installs Homebridge as an operating system service and manages
its lifecycle on Linux (systemd), macOS (launchd), Windows (nssm) and FreeBSD (rc).

It also runs the bridge and its UI in the foreground under a restarting
supervisor, which is what the installed service executes.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.initLogging()
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&a.storagePath, "storage-path", "U", "", "Homebridge storage path")
	rootCmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(a.newInstallCmd())
	rootCmd.AddCommand(a.newUninstallCmd())
	rootCmd.AddCommand(a.newStartCmd())
	rootCmd.AddCommand(a.newStopCmd())
	rootCmd.AddCommand(a.newRestartCmd())
	rootCmd.AddCommand(a.newStatusCmd())
	rootCmd.AddCommand(a.newRebuildCmd())
	rootCmd.AddCommand(a.newUpdateNodeCmd())
	rootCmd.AddCommand(a.newViewLogsCmd())
	rootCmd.AddCommand(a.newBeforeStartCmd())
	rootCmd.AddCommand(a.newRunCmd())
	rootCmd.AddCommand(a.newValidateCmd())
	rootCmd.AddCommand(a.newVersionCmd())

	return rootCmd
}

// printer returns the operator printer, built once the flags are parsed.
func (a *app) printer() *output.Printer {
	if a.out == nil {
		a.out = output.NewPrinter(
			output.WithWriters(a.stdout, a.stderr),
			output.WithNoColor(a.noColor),
		)
	}
	return a.out
}

// initLogging sets up stderr logging until settings are loaded.
func (a *app) initLogging() {
	slog.SetDefault(slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{
		Level: parseLevel(a.logLevel, slog.LevelWarn),
	})))
}

// setupLogging configures logging to w from the loaded settings.
func (a *app) setupLogging(s *config.Settings, w io.Writer) *slog.Logger {
	level := parseLevel(s.Log.Level, slog.LevelInfo)
	if a.logLevel != "" {
		level = parseLevel(a.logLevel, level)
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

// loadSettings loads the settings with the command's flag overrides applied.
func (a *app) loadSettings(overrides map[string]any) (*config.Settings, error) {
	loader := a.newLoader()

	if a.cfgFile != "" {
		loader = loader.WithConfigPath(a.cfgFile)
	}
	if a.storagePath != "" {
		loader.Set("storage_path", a.storagePath)
	}
	if a.logLevel != "" {
		loader.Set("log.level", a.logLevel)
	}
	for k, v := range overrides {
		loader.Set(k, v)
	}

	s, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return s, nil
}

// adapter loads settings and builds the platform adapter. Lifecycle commands
// log to stderr.
func (a *app) adapter(overrides map[string]any) (domain.Adapter, *config.Settings, error) {
	s, err := a.loadSettings(overrides)
	if err != nil {
		return nil, nil, err
	}

	logger := a.setupLogging(s, a.stderr)
	ad, err := a.newAdapter(s, a.printer(), logger)
	if err != nil {
		return nil, nil, err
	}
	return ad, s, nil
}

// isCanceled reports whether err only reflects the operator interrupting a
// streaming command.
func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}
