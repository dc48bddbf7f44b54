package usecase

import (
	"fmt"
	"sync"

	"telestream/internal/domain"
	"telestream/internal/metrics"
)

// NextEpisodePhase is the overlay state machine's phase.
type NextEpisodePhase int

const (
	NextIdle      NextEpisodePhase = iota
	NextArmed                      // candidate exists and position is inside the trigger window
	NextCancelled                  // user dismissed; re-arms only on a backward seek past the cancel point
	NextFired                      // countdown hit zero, transition triggered
)

var nextPhaseNames = [...]string{"idle", "armed", "cancelled", "fired"}

func (p NextEpisodePhase) String() string {
	if int(p) < len(nextPhaseNames) {
		return nextPhaseNames[p]
	}
	return fmt.Sprintf("unknown(%d)", int(p))
}

// NextEpisodeScheduler decides when to surface the next-episode overlay and
// when to auto-trigger the transition. Tick is called once per second with
// the latest playback telemetry; the countdown freezes while the user has
// paused, except when playback reached its natural end — an ended stream is
// paused by the engine, not by the user, and must still fire.
type NextEpisodeScheduler struct {
	CountdownSeconds int     // fixed countdown length, measured from the first tick after arming
	WindowSeconds    float64 // trailing window before the end in which the overlay arms

	// OnFire runs exactly once per arm cycle, when the countdown reaches zero.
	OnFire func(candidate domain.NextEpisodeCandidate)

	// OnUpdate runs on every phase or countdown change, for UI pushes.
	OnUpdate func(phase NextEpisodePhase, countdownRemaining int)

	mu          sync.Mutex
	candidate   *domain.NextEpisodeCandidate
	duration    float64
	phase       NextEpisodePhase
	countdown   int
	cancelledAt *float64
}

// SetCandidate installs the follow-up episode, fetched once per playback
// session. A nil candidate keeps the scheduler idle for the whole session.
func (s *NextEpisodeScheduler) SetCandidate(candidate *domain.NextEpisodeCandidate, durationSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate = candidate
	s.duration = durationSeconds
	s.phase = NextIdle
	s.countdown = 0
	s.cancelledAt = nil
}

// SetDuration records the playing item's duration once metadata reports it.
// The trigger window is measured from the end, so arming needs it.
func (s *NextEpisodeScheduler) SetDuration(durationSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = durationSeconds
}

// Phase returns the current phase.
func (s *NextEpisodeScheduler) Phase() NextEpisodePhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Countdown returns the remaining seconds while armed.
func (s *NextEpisodeScheduler) Countdown() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countdown
}

// Cancel dismisses the overlay at the given playback position. The scheduler
// re-arms only once current time moves backward below that position; a later
// forward seek past it does not re-trigger.
func (s *NextEpisodeScheduler) Cancel(positionSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != NextArmed {
		return
	}
	pos := positionSeconds
	s.cancelledAt = &pos
	s.setPhase(NextCancelled)
}

// Tick advances the state machine by one second of wall time.
func (s *NextEpisodeScheduler) Tick(positionSeconds float64, paused, ended bool) {
	s.mu.Lock()

	switch s.phase {
	case NextIdle:
		if s.candidate != nil && s.duration > 0 && positionSeconds >= s.duration-s.WindowSeconds {
			s.countdown = s.CountdownSeconds
			s.setPhase(NextArmed)
		}
		s.mu.Unlock()

	case NextArmed:
		// Seeking back out of the trigger window disarms without a cancel
		// marker, so re-entering the window arms again.
		if positionSeconds < s.duration-s.WindowSeconds {
			s.countdown = 0
			s.setPhase(NextIdle)
			s.mu.Unlock()
			return
		}
		if paused && !ended {
			s.mu.Unlock()
			return
		}
		s.countdown--
		if s.countdown > 0 {
			s.notifyLocked()
			s.mu.Unlock()
			return
		}
		s.countdown = 0
		s.setPhase(NextFired)
		fire := s.OnFire
		candidate := s.candidate
		s.mu.Unlock()

		metrics.NextEpisodeFiredTotal.Inc()
		if fire != nil && candidate != nil {
			fire(*candidate)
		}

	case NextCancelled:
		if s.cancelledAt != nil && positionSeconds < *s.cancelledAt {
			s.cancelledAt = nil
			s.setPhase(NextIdle)
		}
		s.mu.Unlock()

	default: // NextFired: terminal for this playback session
		s.mu.Unlock()
	}
}

// setPhase must be called with the mutex held.
func (s *NextEpisodeScheduler) setPhase(p NextEpisodePhase) {
	if s.phase == p {
		return
	}
	s.phase = p
	s.notifyLocked()
}

// notifyLocked must be called with the mutex held.
func (s *NextEpisodeScheduler) notifyLocked() {
	if s.OnUpdate != nil {
		s.OnUpdate(s.phase, s.countdown)
	}
}
