// Package metrics pushes supervisor restart metrics to a Prometheus Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/http"
	"github.com/sharkusmanch/hb-service/pkg/version"
)

// DefaultJob is the Pushgateway job label.
const DefaultJob = "hb-service"

// PushgatewayClient pushes metrics to a Prometheus Pushgateway.
type PushgatewayClient struct {
	url        string
	job        string
	httpClient *http.Client
	logger     *slog.Logger
}

// PushgatewayOption configures a PushgatewayClient.
type PushgatewayOption func(*PushgatewayClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) PushgatewayOption {
	return func(p *PushgatewayClient) {
		p.httpClient = client
	}
}

// WithJob sets the job label.
func WithJob(job string) PushgatewayOption {
	return func(p *PushgatewayClient) {
		if job != "" {
			p.job = job
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PushgatewayOption {
	return func(p *PushgatewayClient) {
		p.logger = logger
	}
}

// NewPushgatewayClient creates a new PushgatewayClient.
func NewPushgatewayClient(url string, opts ...PushgatewayOption) *PushgatewayClient {
	p := &PushgatewayClient{
		url:        strings.TrimSuffix(url, "/"),
		job:        DefaultJob,
		httpClient: http.NewClient(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Push replaces the metric group for this host with a fresh snapshot.
func (p *PushgatewayClient) Push(ctx context.Context, m *domain.Metrics) error {
	reg := p.collect(m)

	p.logger.Debug("pushing metrics to pushgateway",
		"url", p.url,
		"job", p.job,
		"children", len(m.Children),
	)

	err := push.New(p.url, p.job).
		Grouping("instance", m.Hostname).
		Gatherer(reg).
		Client(p.httpClient.HTTPClient()).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}

	p.logger.Debug("metrics pushed successfully")
	return nil
}

// Validate checks if the Pushgateway is reachable.
func (p *PushgatewayClient) Validate(ctx context.Context) error {
	readyURL := fmt.Sprintf("%s/-/ready", p.url)

	if err := p.httpClient.CheckConnectivity(ctx, readyURL); err != nil {
		if err2 := p.httpClient.CheckConnectivity(ctx, p.url); err2 != nil {
			return fmt.Errorf("pushgateway not reachable at %s: %w", p.url, err)
		}
	}

	return nil
}

// collect builds a private registry holding one snapshot.
func (p *PushgatewayClient) collect(m *domain.Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	up := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hb_service_up",
		Help: "Supervisor is running",
	})
	if m.ServiceUp {
		up.Set(1)
	}

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hb_service_info",
		Help: "Build information",
	}, []string{"version", "go_version"})
	info.WithLabelValues(version.Get().Version, runtime.Version()).Set(1)

	childUp := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hb_service_child_up",
		Help: "Whether the supervised child is running",
	}, []string{"child"})
	restarts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hb_service_child_restarts",
		Help: "Restarts since the supervisor started",
	}, []string{"child"})
	lastExit := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hb_service_child_last_exit_code",
		Help: "Exit code of the last child exit",
	}, []string{"child"})
	started := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hb_service_child_start_timestamp_seconds",
		Help: "Unix timestamp of the last child start",
	}, []string{"child"})

	for _, c := range m.Children {
		running := 0.0
		if c.Running {
			running = 1
		}
		childUp.WithLabelValues(c.Name).Set(running)
		restarts.WithLabelValues(c.Name).Set(float64(c.Restarts))
		lastExit.WithLabelValues(c.Name).Set(float64(c.LastExit))
		if !c.StartedAt.IsZero() {
			started.WithLabelValues(c.Name).Set(float64(c.StartedAt.Unix()))
		}
	}

	reg.MustRegister(up, info, childUp, restarts, lastExit, started)
	return reg
}

// Ensure PushgatewayClient implements domain.MetricsPusher.
var _ domain.MetricsPusher = (*PushgatewayClient)(nil)
