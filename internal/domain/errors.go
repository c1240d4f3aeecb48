package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Remediator is implemented by errors that carry an exact corrective invocation.
type Remediator interface {
	Remediation() string
}

// RemediationFor returns the remediation text of the first error in the chain that has one.
func RemediationFor(err error) string {
	var r Remediator
	if errors.As(err, &r) {
		return r.Remediation()
	}
	return ""
}

// PrivilegeError reports that the effective user is wrong for the requested operation.
type PrivilegeError struct {
	// Operation is the verb that was refused.
	Operation string

	// Reason describes the failed check.
	Reason string

	// Fix is the corrected invocation, if known.
	Fix string
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, e.Reason)
}

// Remediation returns the corrected invocation.
func (e *PrivilegeError) Remediation() string {
	return e.Fix
}

// UnsupportedPlatformError reports an OS/architecture combination the adapter cannot serve.
type UnsupportedPlatformError struct {
	OS        string
	Arch      string
	Operation string
	Supported []string
}

func (e *UnsupportedPlatformError) Error() string {
	target := e.OS
	if e.Arch != "" {
		target += "/" + e.Arch
	}
	if e.Operation != "" {
		return fmt.Sprintf("%s is not supported on %s", e.Operation, target)
	}
	return fmt.Sprintf("platform %s is not supported", target)
}

// Remediation names the supported set.
func (e *UnsupportedPlatformError) Remediation() string {
	if len(e.Supported) == 0 {
		return ""
	}
	return "supported: " + strings.Join(e.Supported, ", ")
}

// NotImplementedError reports a capability that has no meaning on a platform.
// Callers must treat it as a hard failure.
type NotImplementedError struct {
	Platform   string
	Capability string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s is not implemented on %s", e.Capability, e.Platform)
}

// ShellCommandError reports an OS utility that exited non-zero or could not be started.
type ShellCommandError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *ShellCommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *ShellCommandError) Unwrap() error {
	return e.Err
}

// CompatibilityGateError reports a runtime target the host cannot run.
type CompatibilityGateError struct {
	Target      string
	Requirement string
	Required    string
	Found       string
}

func (e *CompatibilityGateError) Error() string {
	found := e.Found
	if found == "" {
		found = "unknown"
	}
	return fmt.Sprintf("runtime %s requires %s >= %s, host has %s", e.Target, e.Requirement, e.Required, found)
}

// TransientIOError reports a download, extract or filesystem failure.
type TransientIOError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// Remediation tells the operator whether re-running is expected to help.
func (e *TransientIOError) Remediation() string {
	if e.Retryable {
		return "this error may be temporary; re-run the command"
	}
	return ""
}

// ErrServiceNotInstalled is returned when an operation needs an installed service.
var ErrServiceNotInstalled = errors.New("service is not installed")
