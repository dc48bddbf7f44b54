package usecase

import (
	"context"
	"log/slog"
	"time"

	"telestream/internal/domain"
	"telestream/internal/metrics"
)

// PoolMonitor polls the backend's client pool on a fixed interval and
// classifies occupancy into advisory warning levels. It runs only while
// playback is active (its context is session-scoped) and never pauses or
// alters playback; poll failures are silent and retried on the next cycle.
type PoolMonitor struct {
	Backend  PoolBackend
	Logger   *slog.Logger
	Interval time.Duration

	// Notify receives every change of warning level, including the return
	// to no-warning.
	Notify func(warning domain.PoolWarning, status domain.PoolStatus)
}

// Run blocks until ctx is cancelled.
func (m PoolMonitor) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	last := domain.PoolWarningNone

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := m.Backend.PoolStatus(ctx)
			if err != nil {
				m.Logger.Debug("pool: status poll failed", slog.String("error", err.Error()))
				continue
			}

			metrics.PoolPressure.Set(status.Pressure())

			warning := domain.ClassifyPool(status)
			if warning == last {
				continue
			}
			last = warning

			if warning != domain.PoolWarningNone {
				metrics.PoolWarningsTotal.WithLabelValues(string(warning)).Inc()
				m.Logger.Warn("pool: advisory raised",
					slog.String("level", string(warning)),
					slog.Int("total", status.TotalClients),
					slog.Int("inUse", status.ClientsInUse),
					slog.Int("available", status.ClientsAvailable),
				)
			} else {
				m.Logger.Info("pool: advisory cleared")
			}

			if m.Notify != nil {
				m.Notify(warning, status)
			}
		}
	}
}
