package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"telestream/internal/domain"
	"telestream/internal/metrics"
)

// ProgressRelay forwards watch positions to the backend as idempotent
// upserts. Observations are throttled to one upsert per interval;
// everything is fire-and-forget and failures only cost resume accuracy.
type ProgressRelay struct {
	Backend     ProgressBackend
	Logger      *slog.Logger
	MinInterval time.Duration

	mu       sync.Mutex
	lastSent time.Time
}

// Observe records a position sample from a timeupdate event, relaying it
// upstream if the throttle interval has elapsed.
func (r *ProgressRelay) Observe(ctx context.Context, id domain.MediaID, positionSeconds, durationSeconds float64) {
	interval := r.MinInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	r.mu.Lock()
	if time.Since(r.lastSent) < interval {
		r.mu.Unlock()
		return
	}
	r.lastSent = time.Now()
	r.mu.Unlock()

	r.send(ctx, id, positionSeconds, durationSeconds)
}

// Flush relays the position immediately, ignoring the throttle. Used on
// pause, ended and session teardown so the final position is not lost.
func (r *ProgressRelay) Flush(ctx context.Context, id domain.MediaID, positionSeconds, durationSeconds float64) {
	r.mu.Lock()
	r.lastSent = time.Now()
	r.mu.Unlock()

	r.send(ctx, id, positionSeconds, durationSeconds)
}

func (r *ProgressRelay) send(ctx context.Context, id domain.MediaID, positionSeconds, durationSeconds float64) {
	// Detached from the caller's cancellation: a seek that replaces the
	// session must not abort the final position write.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)

	go func() {
		defer cancel()
		err := r.Backend.PutProgress(sendCtx, domain.WatchProgress{
			MediaID:         id,
			PositionSeconds: positionSeconds,
			DurationSeconds: durationSeconds,
		})
		if err != nil {
			r.Logger.Debug("progress: upsert failed",
				slog.String("mediaId", string(id)),
				slog.String("error", err.Error()),
			)
			return
		}
		metrics.ProgressUpsertsTotal.Inc()
	}()
}
