// Package main is the entry point for hb-service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sharkusmanch/hb-service/internal/cli"
	"github.com/sharkusmanch/hb-service/internal/config"
	"github.com/sharkusmanch/hb-service/internal/winsvc"
)

func main() {
	// Started directly by the Windows service control manager.
	if winsvc.IsWindowsService() {
		if err := winsvc.Run(config.DefaultServiceName, runService); err != nil {
			fmt.Fprintf(os.Stderr, "service failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	os.Exit(cli.Run(os.Args[1:]))
}

// runService runs the foreground supervisor until the SCM stops the service.
func runService(ctx context.Context) error {
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"run"}
	}
	if code := cli.RunContext(ctx, args); code != 0 {
		return fmt.Errorf("hb-service run exited with code %d", code)
	}
	return nil
}
