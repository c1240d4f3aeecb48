package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sharkusmanch/hb-service/internal/bridgeconfig"
	"github.com/sharkusmanch/hb-service/internal/config"
	hbhttp "github.com/sharkusmanch/hb-service/internal/http"
	"github.com/sharkusmanch/hb-service/internal/metrics"
	"github.com/sharkusmanch/hb-service/internal/notify"
)

func (a *app) newValidateCmd() *cobra.Command {
	var initConfig bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and test connectivity",
		Long: `Validate the configuration and test connectivity to external services.

This checks:
- Config file syntax
- config.json in the storage path
- Homebridge and UI binaries
- Pushgateway connectivity (if enabled)
- Apprise server connectivity (if enabled)

With --init, an example config file is written first if none exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if initConfig {
				if err := a.writeExampleConfig(); err != nil {
					return err
				}
			}
			return a.runValidate(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&initConfig, "init", false, "write an example config file if none exists")

	return cmd
}

func (a *app) writeExampleConfig() error {
	path := a.cfgFile
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(a.stdout, "Config file already exists: %s\n\n", path)
		return nil
	}
	if err := config.WriteExampleConfig(path); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Wrote example config: %s\n\n", path)
	return nil
}

func (a *app) runValidate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out := a.stdout
	failed := 0
	check := func(name string, err error, ok string) {
		if err != nil {
			failed++
			fmt.Fprintf(out, "  ✗ %s: %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "  ✓ %s\n", ok)
	}

	fmt.Fprintln(out, "Configuration:")
	s, err := a.loadSettings(nil)
	if err != nil {
		fmt.Fprintf(out, "  ✗ Config file: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "  ✓ Config file syntax valid\n")

	logger := a.setupLogging(s, a.stderr)

	fmt.Fprintf(out, "  Service name: %s\n", s.ServiceName)
	fmt.Fprintf(out, "  Storage path: %s\n", s.StoragePath)
	fmt.Fprintf(out, "  Log file: %s\n", s.LogPath())
	fmt.Fprintf(out, "  Restart delay: %s\n", s.Supervisor.RestartDelay)
	if s.Metrics.Enabled {
		fmt.Fprintf(out, "  Metrics: enabled\n")
		fmt.Fprintf(out, "  Pushgateway URL: %s\n", s.Metrics.PushgatewayURL)
	} else {
		fmt.Fprintf(out, "  Metrics: disabled\n")
	}
	if s.Apprise.Enabled {
		fmt.Fprintf(out, "  Notifications: enabled\n")
		fmt.Fprintf(out, "  Apprise URL: %s\n", s.Apprise.URL)
		fmt.Fprintf(out, "  Notification level: %s\n", s.Apprise.Notify)
	} else {
		fmt.Fprintf(out, "  Notifications: disabled\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Checks:")

	store := bridgeconfig.NewStore(s.StoragePath, s.ConfigPath, bridgeconfig.WithLogger(logger))
	if cfg, err := store.Load(); err != nil {
		check("config.json", err, "")
	} else {
		check("config.json", nil, fmt.Sprintf("config.json valid (bridge port %d, UI port %d)", cfg.BridgePort(), cfg.UIPort()))
	}

	for _, bin := range []string{s.BridgeBinary, s.UIBinary} {
		if path, err := a.lookPath(bin); err != nil {
			check(bin, fmt.Errorf("not found in PATH"), "")
		} else {
			check(bin, nil, fmt.Sprintf("%s found: %s", bin, path))
		}
	}

	if s.NodePath == "" {
		check("node", fmt.Errorf("not found in PATH"), "")
	} else {
		check("node", nil, fmt.Sprintf("node found: %s", s.NodePath))
	}

	httpClient := hbhttp.NewClient(
		hbhttp.WithRetryConfig(hbhttp.RetryConfig{
			MaxAttempts:  1, // No retries for validation
			InitialDelay: time.Second,
			MaxDelay:     time.Second,
		}),
		hbhttp.WithLogger(logger),
	)

	if s.Metrics.Enabled {
		pushgateway := metrics.NewPushgatewayClient(
			s.Metrics.PushgatewayURL,
			metrics.WithHTTPClient(httpClient),
			metrics.WithLogger(logger),
		)
		check("Pushgateway", pushgateway.Validate(ctx), "Pushgateway reachable")
	}

	if s.Apprise.Enabled {
		apprise := notify.NewAppriseClient(
			s.Apprise.URL,
			s.Apprise.Key,
			notify.WithHTTPClient(httpClient),
			notify.WithTargets(s.Apprise.URLs),
			notify.WithLogger(logger),
		)
		check("Apprise server", apprise.Validate(ctx), "Apprise server reachable")
	}

	fmt.Fprintln(out)
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	fmt.Fprintln(out, "Validation complete.")
	return nil
}
