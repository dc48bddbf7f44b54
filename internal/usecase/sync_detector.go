package usecase

import (
	"context"
	"sync"
	"time"

	"telestream/internal/domain"
	"telestream/internal/metrics"
)

const (
	// frameAdvanceHysteresis rejects re-delivery of the same decoded frame:
	// only a timestamp advance beyond it counts as real video output.
	frameAdvanceHysteresis = 0.01

	// syncPollInterval drives the fallback loop for engines without
	// per-frame callbacks.
	syncPollInterval = 50 * time.Millisecond
)

// SyncDetector decides when playback is truly visible to the user. Every
// session starts in muted-waiting; the single transition to synced-playing
// fires once a newly decoded frame has advanced past the previous one and the
// local timeline has reached the session's seek offset. While held (session
// negotiation in flight, probed offset not yet known) all observations are
// dropped, so frames still arriving from the superseded source can never
// fire the transition. Detection never errors: the worst case is that it
// never transitions and the loading indicator persists.
type SyncDetector struct {
	mu        sync.Mutex
	state     domain.SyncState
	offset    float64
	armed     bool
	seenFrame bool
	synced    bool
	onSynced  func()
}

// NewSyncDetector creates an armed detector in muted-waiting. onSynced runs
// exactly once per session, on the transition to synced-playing.
func NewSyncDetector(localSeekOffsetSeconds float64, onSynced func()) *SyncDetector {
	return &SyncDetector{offset: localSeekOffsetSeconds, onSynced: onSynced, armed: true}
}

// Hold puts the detector into the non-firing negotiation state. Observations
// are ignored until Reset arms it with the session's real offset.
func (d *SyncDetector) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = domain.SyncState{}
	d.armed = false
	d.seenFrame = false
	d.synced = false
}

// Reset arms the detector for a new session at the probed offset.
func (d *SyncDetector) Reset(localSeekOffsetSeconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = domain.SyncState{}
	d.offset = localSeekOffsetSeconds
	d.armed = true
	d.seenFrame = false
	d.synced = false
}

// Rearm clears observation state for a fresh load of the current session's
// source, keeping the armed offset. A no-op while held, so a stale loadstart
// from the previous source cannot arm the detector early.
func (d *SyncDetector) Rearm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed {
		return
	}
	d.state = domain.SyncState{}
	d.seenFrame = false
	d.synced = false
}

// Synced reports whether the detector has reached synced-playing.
func (d *SyncDetector) Synced() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.synced
}

// State returns a copy of the detector's frame-observation state.
func (d *SyncDetector) State() domain.SyncState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ObserveFrame feeds one decoded-frame callback: the frame's presentation
// timestamp and the video element's local time at delivery.
func (d *SyncDetector) ObserveFrame(frameTime, localTime float64) {
	d.mu.Lock()

	if !d.armed || d.synced {
		d.mu.Unlock()
		return
	}

	if !d.seenFrame {
		d.seenFrame = true
		d.state.LastObservedFrameTime = frameTime
		d.mu.Unlock()
		return
	}

	if frameTime-d.state.LastObservedFrameTime > frameAdvanceHysteresis {
		d.state.IsMoving = true
	}
	d.state.LastObservedFrameTime = frameTime

	if d.state.IsMoving && localTime >= d.offset {
		d.synced = true
		fire := d.onSynced
		d.mu.Unlock()
		metrics.SyncTransitionsTotal.Inc()
		if fire != nil {
			fire()
		}
		return
	}
	d.mu.Unlock()
}

// ObservePoll is the fallback observation for engines without per-frame
// callbacks: the element's current time stands in for the frame timestamp.
// Ignored while paused, since a paused clock cannot advance.
func (d *SyncDetector) ObservePoll(currentTime float64, paused bool) {
	if paused {
		return
	}
	d.ObserveFrame(currentTime, currentTime)
}

// Poll runs the fallback loop, sampling the player clock until the detector
// syncs or ctx is cancelled.
func (d *SyncDetector) Poll(ctx context.Context, sample func() (currentTime float64, paused bool)) {
	ticker := time.NewTicker(syncPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.Synced() {
				return
			}
			d.ObservePoll(sample())
		}
	}
}
