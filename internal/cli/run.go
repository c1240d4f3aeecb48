package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sharkusmanch/hb-service/internal/config"
	"github.com/sharkusmanch/hb-service/internal/domain"
	hbhttp "github.com/sharkusmanch/hb-service/internal/http"
	"github.com/sharkusmanch/hb-service/internal/metrics"
	"github.com/sharkusmanch/hb-service/internal/notify"
	"github.com/sharkusmanch/hb-service/internal/supervisor"
)

func (a *app) newRunCmd() *cobra.Command {
	var stdinIPC bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run Homebridge in the foreground",
		Long: `Run the bridge and the UI in the foreground and restart either of them
whenever it exits. This is what the installed service executes.

Output from both goes to the shared log file under the storage path. Outside
service mode (UIX_SERVICE_MODE unset) it is also printed to stdout.

run exits when interrupted, or when its parent process goes away. With
--stdin-ipc, end of input on stdin counts as the parent going away.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSettings(nil)
			if err != nil {
				return err
			}
			return a.runSupervisor(cmd.Context(), s, stdinIPC)
		},
	}

	cmd.Flags().BoolVar(&stdinIPC, "stdin-ipc", false, "exit when stdin is closed")

	return cmd
}

func (a *app) runSupervisor(ctx context.Context, s *config.Settings, stdinIPC bool) error {
	sink, err := supervisor.NewLogSink(s, a.stdout)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer sink.Close()

	logger := a.setupLogging(s, sink)
	logger.Info("starting hb-service in foreground mode",
		"storage_path", s.StoragePath,
		"service_mode", s.ServiceMode,
	)

	httpClient := hbhttp.NewClient(
		hbhttp.WithRetryConfig(hbhttp.RetryConfig{
			MaxAttempts:  s.Retry.MaxAttempts,
			InitialDelay: s.Retry.InitialDelay,
			MaxDelay:     s.Retry.MaxDelay,
		}),
		hbhttp.WithLogger(logger),
	)

	opts := []supervisor.Option{
		supervisor.WithOutput(sink),
		supervisor.WithRestartDelay(s.Supervisor.RestartDelay),
		supervisor.WithStopGrace(s.Supervisor.StopGrace),
		supervisor.WithLogger(logger),
	}

	if s.Apprise.Enabled {
		var notifier domain.Notifier = notify.NewAppriseClient(
			s.Apprise.URL,
			s.Apprise.Key,
			notify.WithHTTPClient(httpClient),
			notify.WithTag(s.Apprise.Tag),
			notify.WithTargets(s.Apprise.URLs),
			notify.WithLogger(logger),
		)
		opts = append(opts, supervisor.WithNotifier(notify.NewLevelFilter(notifier, s.Apprise.Notify)))
	}

	if s.Metrics.Enabled {
		opts = append(opts, supervisor.WithMetricsPusher(metrics.NewPushgatewayClient(
			s.Metrics.PushgatewayURL,
			metrics.WithHTTPClient(httpClient),
			metrics.WithJob(s.Metrics.Job),
			metrics.WithLogger(logger),
		)))
	}

	if ppid := supervisor.NewPPIDWatcher(); !ppid.Orphaned() {
		opts = append(opts, supervisor.WithParentWatcher(ppid))
	}
	if stdinIPC {
		opts = append(opts, supervisor.WithParentWatcher(supervisor.NewReaderWatcher(a.stdin)))
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer func() {
		signal.Stop(hup)
		close(hup)
	}()
	go func() {
		for range hup {
			if err := sink.Rotate(); err != nil {
				logger.Warn("failed to rotate log", "error", err)
			}
		}
	}()

	sup := supervisor.New(supervisor.ChildSpecs(s, os.Environ()), opts...)
	err = sup.Run(ctx)
	if errors.Is(err, supervisor.ErrParentLost) {
		logger.Info("parent process went away, exiting", "reason", err)
		return nil
	}
	return err
}
