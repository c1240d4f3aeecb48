package firewall

import (
	"context"
	"fmt"

	"github.com/sharkusmanch/hb-service/internal/shell"
)

// Netsh manages Windows Defender Firewall rules through netsh advfirewall.
type Netsh struct {
	runner shell.Runner
}

// NewNetsh creates a new Netsh manager.
func NewNetsh(runner shell.Runner) *Netsh {
	return &Netsh{runner: runner}
}

// Name returns "netsh".
func (n *Netsh) Name() string { return "netsh" }

// Allow replaces any rule with the same name by a single inbound TCP rule.
func (n *Netsh) Allow(ctx context.Context, rule Rule) error {
	// netsh adds duplicate rules on re-run; a missing rule is not an error here.
	_, _ = n.runner.Run(ctx, n.deleteCommand(rule))

	args := []string{
		"advfirewall", "firewall", "add", "rule",
		"name=" + rule.Name,
		"dir=in",
		"action=allow",
		"protocol=TCP",
		"localport=" + rule.portList(),
	}
	if rule.Program != "" {
		args = append(args, "program="+rule.Program)
	}

	if _, err := n.runner.Run(ctx, shell.Command{Name: "netsh", Args: args}); err != nil {
		return fmt.Errorf("failed to add firewall rule %q: %w", rule.Name, err)
	}
	return nil
}

// Remove deletes the named rule.
func (n *Netsh) Remove(ctx context.Context, rule Rule) error {
	if _, err := n.runner.Run(ctx, n.deleteCommand(rule)); err != nil {
		return fmt.Errorf("failed to delete firewall rule %q: %w", rule.Name, err)
	}
	return nil
}

func (n *Netsh) deleteCommand(rule Rule) shell.Command {
	return shell.Command{
		Name: "netsh",
		Args: []string{"advfirewall", "firewall", "delete", "rule", "name=" + rule.Name},
	}
}
