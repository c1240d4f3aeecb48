package metrics

import (
	"context"
	"sync"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// MockPusher records pushed snapshots for supervisor tests.
type MockPusher struct {
	PushFunc     func(ctx context.Context, metrics *domain.Metrics) error
	ValidateFunc func(ctx context.Context) error

	mu     sync.Mutex
	pushed []*domain.Metrics
}

// Push calls the mock PushFunc and stores the metrics.
func (m *MockPusher) Push(ctx context.Context, metrics *domain.Metrics) error {
	m.mu.Lock()
	m.pushed = append(m.pushed, metrics)
	m.mu.Unlock()

	if m.PushFunc != nil {
		return m.PushFunc(ctx, metrics)
	}
	return nil
}

// Validate calls the mock ValidateFunc.
func (m *MockPusher) Validate(ctx context.Context) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx)
	}
	return nil
}

// Pushed returns every snapshot pushed so far.
func (m *MockPusher) Pushed() []*domain.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Metrics(nil), m.pushed...)
}

// Reset clears all stored metrics.
func (m *MockPusher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = nil
}

// Ensure MockPusher implements domain.MetricsPusher.
var _ domain.MetricsPusher = (*MockPusher)(nil)
