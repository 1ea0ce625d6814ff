package heartbeat

import (
	"context"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// Prober measures round-trip latency to the router with ICMP echo.
type Prober struct {
	host    string
	count   int
	timeout time.Duration
	logger  *zap.Logger
}

// NewProber creates a prober for the given host (no scheme or port).
func NewProber(host string, count int, timeout time.Duration, logger *zap.Logger) *Prober {
	return &Prober{
		host:    host,
		count:   count,
		timeout: timeout,
		logger:  logger,
	}
}

// Latency returns the average RTT in milliseconds, or nil when the
// probe fails. A failed probe never fails the heartbeat iteration.
func (p *Prober) Latency(ctx context.Context) *float64 {
	pinger, err := probing.NewPinger(p.host)
	if err != nil {
		p.logger.Debug("failed to create pinger", zap.String("host", p.host), zap.Error(err))
		return nil
	}

	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			p.logger.Debug("ping failed", zap.String("host", p.host), zap.Error(runErr))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		return nil
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return nil
	}
	ms := float64(stats.AvgRtt) / float64(time.Millisecond)
	return &ms
}
