package domain

import (
	"context"
	"time"
)

// ChildStats is a snapshot of one supervised child.
type ChildStats struct {
	Name      string
	PID       int
	Running   bool
	Restarts  int
	LastExit  int
	StartedAt time.Time
}

// Metrics contains supervisor metrics to be pushed.
type Metrics struct {
	// Timestamp when metrics were collected.
	Timestamp time.Time

	// Hostname of the machine.
	Hostname string

	// ServiceUp indicates if the supervisor is running.
	ServiceUp bool

	// Children holds per-child counters.
	Children []ChildStats
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(hostname string) *Metrics {
	return &Metrics{
		Timestamp: time.Now(),
		Hostname:  hostname,
		ServiceUp: true,
		Children:  make([]ChildStats, 0),
	}
}

// MetricsPusher defines the interface for pushing metrics to a remote endpoint.
type MetricsPusher interface {
	// Push sends metrics to the remote endpoint.
	Push(ctx context.Context, metrics *Metrics) error

	// Validate checks if the pusher is properly configured.
	Validate(ctx context.Context) error
}
