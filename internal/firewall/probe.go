package firewall

import (
	"context"
	"log/slog"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// ConnectionLister enumerates sockets. It matches gopsutil's signature.
type ConnectionLister func(ctx context.Context, kind string) ([]gopsnet.ConnectionStat, error)

// Probe finds the process bound to a port.
type Probe struct {
	list   ConnectionLister
	logger *slog.Logger
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithConnectionLister replaces the socket enumerator.
func WithConnectionLister(list ConnectionLister) ProbeOption {
	return func(p *Probe) {
		p.list = list
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProbeOption {
	return func(p *Probe) {
		p.logger = logger
	}
}

// NewProbe creates a Probe backed by gopsutil.
func NewProbe(opts ...ProbeOption) *Probe {
	p := &Probe{
		list:   gopsnet.ConnectionsWithContext,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PidOfPort returns the pid listening on TCP port. It is diagnostic only: any
// failure yields false.
func (p *Probe) PidOfPort(ctx context.Context, port int) (int, bool) {
	if port <= 0 || port > 65535 {
		return 0, false
	}

	conns, err := p.list(ctx, "tcp")
	if err != nil {
		p.logger.Debug("failed to enumerate sockets", "error", err)
		return 0, false
	}

	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == uint32(port) && c.Pid > 0 {
			return int(c.Pid), true
		}
	}
	return 0, false
}
