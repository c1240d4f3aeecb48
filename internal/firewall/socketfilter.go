package firewall

import (
	"context"
	"fmt"
	"strings"

	"github.com/sharkusmanch/hb-service/internal/shell"
)

// SocketFilterPath is the macOS application firewall tool.
const SocketFilterPath = "/usr/libexec/ApplicationFirewall/socketfilterfw"

// SocketFilter manages the macOS application firewall. It is program based,
// so Rule.Ports is ignored.
type SocketFilter struct {
	runner shell.Runner
}

// NewSocketFilter creates a new SocketFilter manager.
func NewSocketFilter(runner shell.Runner) *SocketFilter {
	return &SocketFilter{runner: runner}
}

// Name returns "socketfilterfw".
func (s *SocketFilter) Name() string { return "socketfilterfw" }

// Enabled reports whether the application firewall is on.
func (s *SocketFilter) Enabled(ctx context.Context) bool {
	res, err := s.runner.Run(ctx, shell.Command{Name: SocketFilterPath, Args: []string{"--getglobalstate"}})
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(res.Stdout), "enabled")
}

// Allow registers and unblocks rule.Program when the firewall is on.
func (s *SocketFilter) Allow(ctx context.Context, rule Rule) error {
	if rule.Program == "" {
		return fmt.Errorf("socketfilterfw rules need a program path")
	}
	if !s.Enabled(ctx) {
		return nil
	}

	for _, args := range [][]string{{"--add", rule.Program}, {"--unblockapp", rule.Program}} {
		if _, err := s.runner.Run(ctx, shell.Command{Name: SocketFilterPath, Args: args}); err != nil {
			return fmt.Errorf("failed to allow %s through the application firewall: %w", rule.Program, err)
		}
	}
	return nil
}

// Remove unregisters rule.Program.
func (s *SocketFilter) Remove(ctx context.Context, rule Rule) error {
	if rule.Program == "" {
		return nil
	}
	if _, err := s.runner.Run(ctx, shell.Command{Name: SocketFilterPath, Args: []string{"--remove", rule.Program}}); err != nil {
		return fmt.Errorf("failed to remove %s from the application firewall: %w", rule.Program, err)
	}
	return nil
}
