package notify

import (
	"context"

	"github.com/sharkusmanch/hb-service/internal/config"
	"github.com/sharkusmanch/hb-service/internal/domain"
)

// LevelFilter forwards only notifications the configured notify level asks for:
// "error" passes crash loops, "warning" adds single crashes, "always" adds
// recoveries.
type LevelFilter struct {
	next domain.Notifier
	min  domain.NotificationLevel
}

// NewLevelFilter wraps next.
func NewLevelFilter(next domain.Notifier, level config.NotifyLevel) *LevelFilter {
	min := domain.NotificationLevelError
	switch level {
	case config.NotifyWarning:
		min = domain.NotificationLevelWarning
	case config.NotifyAlways:
		min = domain.NotificationLevelInfo
	}
	return &LevelFilter{next: next, min: min}
}

func rank(level domain.NotificationLevel) int {
	switch level {
	case domain.NotificationLevelError:
		return 2
	case domain.NotificationLevelWarning:
		return 1
	default:
		return 0
	}
}

// Allows reports whether a notification at level would be forwarded.
func (f *LevelFilter) Allows(level domain.NotificationLevel) bool {
	return rank(level) >= rank(f.min)
}

// Notify forwards notification when its level is at or above the threshold.
func (f *LevelFilter) Notify(ctx context.Context, notification *domain.Notification) error {
	if !f.Allows(notification.Level) {
		return nil
	}
	return f.next.Notify(ctx, notification)
}

// Validate validates the wrapped notifier.
func (f *LevelFilter) Validate(ctx context.Context) error {
	return f.next.Validate(ctx)
}

// Ensure LevelFilter implements domain.Notifier.
var _ domain.Notifier = (*LevelFilter)(nil)
