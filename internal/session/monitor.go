package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HealthTarget is what the monitor watches.
type HealthTarget interface {
	IsRunning() bool
	HealthCheck(ctx context.Context) bool
	Recover(ctx context.Context) error
}

// Monitor probes a running session on a fixed interval and recovers it when
// the probe fails. A session that is not running is left alone; the next
// operation starts it lazily.
type Monitor struct {
	target   HealthTarget
	interval time.Duration
	logger   *zap.Logger
}

func NewMonitor(target HealthTarget, interval time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{target: target, interval: interval, logger: logger.Named("health_monitor")}
}

// Run blocks until ctx is done. A non-positive interval disables checking.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		m.logger.Info("Health monitor disabled.")
		<-ctx.Done()
		return nil
	}

	m.logger.Info("Health monitor started.", zap.Duration("interval", m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped.")
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one probe and recovery cycle. It reports whether the session
// is healthy afterwards.
func (m *Monitor) Check(ctx context.Context) bool {
	if !m.target.IsRunning() {
		return false
	}
	if m.target.HealthCheck(ctx) {
		return true
	}
	m.logger.Warn("Periodic health check failed, recovering session.")
	if err := m.target.Recover(ctx); err != nil {
		m.logger.Error("Background recovery failed.", zap.Error(err))
		return false
	}
	return true
}
