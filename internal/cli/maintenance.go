package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/platform"
)

func (a *app) newRebuildCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild native modules against the installed Node.js",
		Long: `Rebuild the UI's native modules against the installed Node.js runtime.

With --all, every global module is rebuilt as well. Failures of the extra
modules are reported as warnings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ad, _, err := a.adapter(nil)
			if err != nil {
				return err
			}
			return ad.Rebuild(cmd.Context(), all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "rebuild every global module")

	return cmd
}

func (a *app) newUpdateNodeCmd() *cobra.Command {
	var (
		target  string
		rebuild bool
	)

	cmd := &cobra.Command{
		Use:   "update-node [version]",
		Short: "Update the Node.js runtime",
		Long: `Update the Node.js runtime the service runs on.

The target is an exact version (20.11.1), a major (20), "lts" or "latest".
The host is checked for compatibility with the target before anything is
downloaded, and the service is restarted around the swap.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if cmd.Flags().Changed("target") && args[0] != target {
					return fmt.Errorf("target given twice: %q and %q", args[0], target)
				}
				target = args[0]
			}

			ad, _, err := a.adapter(nil)
			if err != nil {
				return err
			}
			return ad.UpdateRuntime(cmd.Context(), domain.RuntimeUpdateJob{
				TargetVersion:    target,
				RebuildRequested: rebuild,
			})
		},
	}

	cmd.Flags().StringVar(&target, "target", "lts", "version to install")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "rebuild all native modules after the update")

	return cmd
}

func (a *app) newViewLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view-logs",
		Short: "Follow the Homebridge log",
		Long:  `Print the end of the shared log file and follow it until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ad, _, err := a.adapter(nil)
			if err != nil {
				return err
			}
			err = ad.ViewLogs(cmd.Context(), a.stdout)
			if err != nil && isCanceled(cmd.Context(), err) {
				return nil
			}
			return err
		},
	}
}

func (a *app) newBeforeStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "before-start",
		Short:  "Pre-start hook run by the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ad, _, err := a.adapter(nil)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), platform.BeforeStartTimeout)
			defer cancel()

			return ad.BeforeStart(ctx)
		},
	}
}
