package domain

import (
	"context"
	"fmt"
)

// NotificationLevel represents the severity of a notification.
type NotificationLevel string

const (
	// NotificationLevelInfo is for informational messages.
	NotificationLevelInfo NotificationLevel = "info"
	// NotificationLevelWarning is for warning messages.
	NotificationLevelWarning NotificationLevel = "warning"
	// NotificationLevelError is for error messages.
	NotificationLevelError NotificationLevel = "error"
)

// Notification represents a notification to be sent.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Level NotificationLevel `json:"level"`
}

// CrashNotification describes an unexpected child exit seen by the supervisor.
func CrashNotification(hostname, child string, exitCode int, signal string) *Notification {
	body := fmt.Sprintf("%s exited unexpectedly on %s (code %d", child, hostname, exitCode)
	if signal != "" {
		body += ", signal " + signal
	}
	body += "). It will be restarted."
	return &Notification{
		Title: fmt.Sprintf("%s crashed", child),
		Body:  body,
		Level: NotificationLevelWarning,
	}
}

// CrashLoopNotification reports a child that keeps exiting without staying up.
func CrashLoopNotification(hostname, child string, restarts int) *Notification {
	return &Notification{
		Title: fmt.Sprintf("%s is crash looping", child),
		Body:  fmt.Sprintf("%s on %s has exited %d times in a row. Check %s logs.", child, hostname, restarts, child),
		Level: NotificationLevelError,
	}
}

// RecoveredNotification reports a child that has stayed up after a crash streak.
func RecoveredNotification(hostname, child string, restarts int) *Notification {
	return &Notification{
		Title: fmt.Sprintf("%s recovered", child),
		Body:  fmt.Sprintf("%s on %s is running again after %d restart(s).", child, hostname, restarts),
		Level: NotificationLevelInfo,
	}
}

// Notifier defines the interface for sending notifications.
type Notifier interface {
	// Notify sends a notification.
	Notify(ctx context.Context, notification *Notification) error

	// Validate checks if the notifier is properly configured.
	Validate(ctx context.Context) error
}

// NopNotifier is a no-op notifier that does nothing.
type NopNotifier struct{}

// Notify does nothing.
func (n *NopNotifier) Notify(_ context.Context, _ *Notification) error {
	return nil
}

// Validate always returns nil.
func (n *NopNotifier) Validate(_ context.Context) error {
	return nil
}
