package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// newInstallCmd creates the install command.
func (a *app) newInstallCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install Homebridge as a system service",
		Long: `Install Homebridge as a system service, enable it at boot and start it.

Linux uses a systemd unit, macOS a launchd daemon, Windows an nssm service
and FreeBSD an rc.d script. Requires root (or Administrator on Windows).

install is safe to repeat; a failed install can be re-run as is.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{}
			if user != "" {
				overrides["user"] = user
			}
			ad, _, err := a.adapter(overrides)
			if err != nil {
				return err
			}
			return ad.Install(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user the service runs as (defaults to the sudo user)")

	return cmd
}

func (a *app) newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the system service",
		Long: `Stop and remove the Homebridge system service and its firewall rules.

The storage path is kept. Uninstalling when nothing is installed succeeds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ad, _, err := a.adapter(nil)
			if err != nil {
				return err
			}
			return ad.Uninstall(cmd.Context())
		},
	}
}

func (a *app) newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the system service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ad, _, err := a.adapter(nil)
			if err != nil {
				return err
			}
			return ad.Start(cmd.Context())
		},
	}
}

func (a *app) newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the system service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ad, _, err := a.adapter(nil)
			if err != nil {
				return err
			}
			return ad.Stop(cmd.Context())
		},
	}
}

func (a *app) newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the system service",
		Long: `Stop the service, wait for the platform restart delay so the bridge ports
are released, and start it again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ad, _, err := a.adapter(nil)
			if err != nil {
				return err
			}
			return ad.Restart(cmd.Context())
		},
	}
}

func (a *app) newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the service state",
		Long:  `Query the operating system service manager for the current service state.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ad, s, err := a.adapter(nil)
			if err != nil {
				return err
			}

			status, err := ad.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			if asJSON {
				data, err := json.MarshalIndent(status, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal status: %w", err)
				}
				fmt.Fprintln(a.stdout, string(data))
				return nil
			}

			p := a.printer()
			line := fmt.Sprintf("%s: %s", s.ServiceName, status.State)
			if status.PID > 0 {
				line += fmt.Sprintf(" (pid %d)", status.PID)
			}
			if status.State == domain.ServiceStateRunning {
				p.Success("%s", line)
			} else {
				p.Info("%s", line)
			}
			if status.Message != "" {
				p.Info("  %s", status.Message)
			}
			if pid, ok := ad.GetPidOfPort(cmd.Context(), s.UIPort); ok {
				p.Info("  UI port %d is held by pid %d", s.UIPort, pid)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")

	return cmd
}
