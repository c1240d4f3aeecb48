package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemediationFor_Wrapped(t *testing.T) {
	err := fmt.Errorf("install failed: %w", &PrivilegeError{
		Operation: "install",
		Reason:    "root privileges required",
		Fix:       "sudo hb-service install",
	})

	assert.Equal(t, "sudo hb-service install", RemediationFor(err))
}

func TestRemediationFor_None(t *testing.T) {
	assert.Empty(t, RemediationFor(errors.New("plain")))
}

func TestShellCommandError_Message(t *testing.T) {
	err := &ShellCommandError{Command: "systemctl enable homebridge", ExitCode: 1, Output: "  Failed to enable unit\n"}

	assert.Equal(t, `command "systemctl enable homebridge" exited with code 1: Failed to enable unit`, err.Error())
}

func TestCompatibilityGateError_NamesThreshold(t *testing.T) {
	err := &CompatibilityGateError{Target: "18.0.0", Requirement: "glibc", Required: "2.28", Found: "2.20"}

	assert.Contains(t, err.Error(), "glibc >= 2.28")
	assert.Contains(t, err.Error(), "2.20")
}

func TestUnsupportedPlatformError(t *testing.T) {
	err := &UnsupportedPlatformError{OS: "plan9", Supported: []string{"linux", "darwin"}}

	assert.Equal(t, "platform plan9 is not supported", err.Error())
	assert.Equal(t, "supported: linux, darwin", err.Remediation())
}

func TestServiceDescriptor_EnvKeysSorted(t *testing.T) {
	d := ServiceDescriptor{Environment: map[string]string{"Z": "1", "A": "2", "M": "3"}}

	assert.Equal(t, []string{"A", "M", "Z"}, d.EnvKeys())
}

func TestCrashNotification(t *testing.T) {
	n := CrashNotification("pi", "homebridge", 1, "SIGSEGV")

	assert.Equal(t, NotificationLevelWarning, n.Level)
	assert.Contains(t, n.Body, "signal SIGSEGV")
	assert.Contains(t, n.Body, "pi")
}
