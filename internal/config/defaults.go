// Package config handles application configuration loading and validation.
package config

import "time"

// Default configuration values.
const (
	DefaultServiceName = "Homebridge"
	DefaultBridgePort  = 51826
	DefaultUIPort      = 8581

	DefaultBridgeBinary = "homebridge"
	DefaultUIBinary     = "homebridge-config-ui-x"

	DefaultRestartDelay = 5 * time.Second
	DefaultStopGrace    = 10 * time.Second

	DefaultDistURL         = "https://nodejs.org/dist"
	DefaultDownloadTimeout = 10 * time.Minute

	DefaultMetricsEnabled        = false
	DefaultMetricsPushgatewayURL = ""
	DefaultMetricsJob            = "hb-service"

	DefaultRetryMaxAttempts  = 3
	DefaultRetryInitialDelay = 5 * time.Second
	DefaultRetryMaxDelay     = 30 * time.Second

	DefaultAppriseEnabled = false
	DefaultAppriseURL     = ""
	DefaultAppriseKey     = ""
	DefaultAppriseNotify  = NotifyError

	DefaultLogLevel     = "info"
	DefaultLogMaxSizeMB = 10

	DefaultNSSMPath = "nssm.exe"
)

// DefaultSafeRoots are the runtime install roots the updater may overwrite.
var DefaultSafeRoots = []string{"/usr/local", "/opt/homebridge"}

// NotifyLevel represents when to send supervisor notifications.
type NotifyLevel string

const (
	// NotifyError sends notifications only when a child is crash looping.
	NotifyError NotifyLevel = "error"
	// NotifyWarning also sends the first crash of every streak.
	NotifyWarning NotifyLevel = "warning"
	// NotifyAlways also reports recovery after a crash streak.
	NotifyAlways NotifyLevel = "always"
)

// IsValid returns true if the notify level is valid.
func (n NotifyLevel) IsValid() bool {
	switch n {
	case NotifyError, NotifyWarning, NotifyAlways:
		return true
	default:
		return false
	}
}

// String returns the string representation of the notify level.
func (n NotifyLevel) String() string {
	return string(n)
}
