// Package firewall opens and removes inbound rules for the bridge and UI ports
// and maps listening ports back to processes.
package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sharkusmanch/hb-service/internal/shell"
)

// Rule describes the inbound traffic to allow.
type Rule struct {
	// Name labels the rule where the firewall supports names.
	Name string

	// Ports are TCP ports to open.
	Ports []int

	// Program is the executable to allow on program-based firewalls.
	Program string
}

func (r Rule) portList() string {
	parts := make([]string, len(r.Ports))
	for i, p := range r.Ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// Manager is one host firewall frontend.
type Manager interface {
	// Name identifies the frontend in logs.
	Name() string

	// Allow opens rule. Re-applying an existing rule must succeed.
	Allow(ctx context.Context, rule Rule) error

	// Remove deletes rule.
	Remove(ctx context.Context, rule Rule) error
}

// UFW manages rules through ufw.
type UFW struct {
	runner shell.Runner
}

// NewUFW creates a new UFW manager.
func NewUFW(runner shell.Runner) *UFW {
	return &UFW{runner: runner}
}

// Name returns "ufw".
func (u *UFW) Name() string { return "ufw" }

// Allow runs ufw allow for each port.
func (u *UFW) Allow(ctx context.Context, rule Rule) error {
	for _, port := range rule.Ports {
		if _, err := u.runner.Run(ctx, shell.Command{Name: "ufw", Args: []string{"allow", fmt.Sprintf("%d/tcp", port)}}); err != nil {
			return fmt.Errorf("failed to open port %d with ufw: %w", port, err)
		}
	}
	return nil
}

// Remove runs ufw delete allow for each port.
func (u *UFW) Remove(ctx context.Context, rule Rule) error {
	for _, port := range rule.Ports {
		if _, err := u.runner.Run(ctx, shell.Command{Name: "ufw", Args: []string{"delete", "allow", fmt.Sprintf("%d/tcp", port)}}); err != nil {
			return fmt.Errorf("failed to close port %d with ufw: %w", port, err)
		}
	}
	return nil
}

// Firewalld manages permanent rules through firewall-cmd.
type Firewalld struct {
	runner shell.Runner
}

// NewFirewalld creates a new Firewalld manager.
func NewFirewalld(runner shell.Runner) *Firewalld {
	return &Firewalld{runner: runner}
}

// Name returns "firewalld".
func (f *Firewalld) Name() string { return "firewalld" }

// Allow adds each port permanently and reloads.
func (f *Firewalld) Allow(ctx context.Context, rule Rule) error {
	return f.apply(ctx, "--add-port", rule)
}

// Remove removes each port permanently and reloads.
func (f *Firewalld) Remove(ctx context.Context, rule Rule) error {
	return f.apply(ctx, "--remove-port", rule)
}

func (f *Firewalld) apply(ctx context.Context, flag string, rule Rule) error {
	for _, port := range rule.Ports {
		arg := fmt.Sprintf("%s=%d/tcp", flag, port)
		if _, err := f.runner.Run(ctx, shell.Command{Name: "firewall-cmd", Args: []string{"--permanent", arg}}); err != nil {
			return fmt.Errorf("failed to update port %d with firewalld: %w", port, err)
		}
	}
	if _, err := f.runner.Run(ctx, shell.Command{Name: "firewall-cmd", Args: []string{"--reload"}}); err != nil {
		return fmt.Errorf("failed to reload firewalld: %w", err)
	}
	return nil
}

// DetectLinux returns the active Linux firewall frontend, or nil when none is active.
func DetectLinux(ctx context.Context, runner shell.Runner) Manager {
	if res, err := runner.Run(ctx, shell.Command{Name: "ufw", Args: []string{"status"}}); err == nil {
		if strings.Contains(res.Stdout, "Status: active") {
			return NewUFW(runner)
		}
	}
	if res, err := runner.Run(ctx, shell.Command{Name: "firewall-cmd", Args: []string{"--state"}}); err == nil {
		if strings.TrimSpace(res.Stdout) == "running" {
			return NewFirewalld(runner)
		}
	}
	return nil
}
