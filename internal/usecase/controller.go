package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"telestream/internal/domain"
)

// PlayerTelemetry is the latest raw state reported by the player surface.
type PlayerTelemetry struct {
	CurrentTime float64
	Duration    float64
	ReadyState  int
	Paused      bool
	Playing     bool
	Ended       bool
}

// PlayerState is the session-scoped holder of player telemetry. Async loops
// read it through Snapshot instead of capturing values in closures, so a
// stale callback can never act on a superseded clock.
type PlayerState struct {
	mu sync.Mutex
	t  PlayerTelemetry
}

func (s *PlayerState) Update(fn func(*PlayerTelemetry)) {
	s.mu.Lock()
	fn(&s.t)
	s.mu.Unlock()
}

func (s *PlayerState) Snapshot() PlayerTelemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

// Directives is the downstream half of the player protocol: everything the
// controller pushes back at the player surface.
type Directives interface {
	SessionReady(sess domain.StreamSession, url string)
	SetMuted(muted bool)
	SetLoading(active bool)
	Geometry(g domain.CanvasGeometry)
	SubtitlesChanged(enabled bool, trackIndex int)
	NextEpisode(phase string, countdownRemaining int, candidate *domain.NextEpisodeCandidate)
	PoolAdvisory(warning domain.PoolWarning, status domain.PoolStatus)
}

// ControllerConfig carries the tunables the controller hands to its engines.
type ControllerConfig struct {
	PoolPollInterval    time.Duration
	ProgressPutInterval time.Duration
	CountdownSeconds    int
	WindowSeconds       float64
}

// StartInput describes one playback (or seek/track-change) request from the
// player surface.
type StartInput struct {
	MediaID         domain.MediaID
	AudioTrackIndex *int // nil = use the stored preference
	SeekSeconds     float64
	FrameCallbacks  bool // player supports per-frame callbacks
}

// Controller owns one player's playback orchestration: session negotiation,
// sync detection, the subtitle engine, the next-episode scheduler, pool
// advisories and progress relay. All engines hang off the current session's
// context and are cancelled and re-armed when the session is replaced.
type Controller struct {
	backend    Backend
	prefs      PreferenceStore
	directives Directives
	logger     *slog.Logger
	cfg        ControllerConfig

	sessions  *SessionManager
	detector  *SyncDetector
	subtitles *SubtitleEngine
	next      *NextEpisodeScheduler
	progress  *ProgressRelay
	state     *PlayerState

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu            sync.Mutex
	sessionCancel context.CancelFunc
	userMuted     bool
	poolStarted   bool
}

func NewController(
	backend Backend,
	prefs PreferenceStore,
	newCompositor CompositorFactory,
	directives Directives,
	cfg ControllerConfig,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = 30
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 60
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())

	c := &Controller{
		backend:    backend,
		prefs:      prefs,
		directives: directives,
		logger:     logger,
		cfg:        cfg,
		sessions:   NewSessionManager(backend, logger),
		subtitles:  NewSubtitleEngine(backend, newCompositor, logger),
		progress:   &ProgressRelay{Backend: backend, Logger: logger, MinInterval: cfg.ProgressPutInterval},
		state:      &PlayerState{},
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
	c.detector = NewSyncDetector(0, c.onSynced)
	c.next = &NextEpisodeScheduler{
		CountdownSeconds: cfg.CountdownSeconds,
		WindowSeconds:    cfg.WindowSeconds,
		OnFire:           c.onNextEpisodeFire,
		OnUpdate:         c.onNextEpisodeUpdate,
	}
	return c
}

// Start begins playback of a media item, replacing any active session.
// Negotiation (warm-up and probe) runs asynchronously; the session directive
// is pushed once offsets are known. Stale negotiations are dropped by session
// identity.
func (c *Controller) Start(input StartInput) {
	prefs := c.loadPrefs(input.MediaID)
	audioTrack := prefs.AudioTrackIndex
	if input.AudioTrackIndex != nil {
		audioTrack = *input.AudioTrackIndex
	}

	prevMedia := domain.MediaID("")
	if cur := c.sessions.Current(); cur != nil {
		prevMedia = cur.MediaID
	}

	sessionCtx := c.replaceSessionContext()

	c.directives.SetLoading(true)
	c.directives.SetMuted(true)
	// Frames from the superseded source keep arriving until the player swaps
	// its src; the detector stays held so they cannot fire the transition.
	// Arming happens in negotiate, once the probed offset is known.
	c.detector.Hold()

	go c.negotiate(sessionCtx, input, audioTrack, prefs, prevMedia)
}

func (c *Controller) negotiate(ctx context.Context, input StartInput, audioTrack int, prefs domain.MediaPreferences, prevMedia domain.MediaID) {
	sess, err := c.sessions.Begin(ctx, input.MediaID, audioTrack, input.SeekSeconds)
	if err != nil {
		if !errors.Is(err, ErrSuperseded) {
			c.logger.Warn("playback: session negotiation failed", slog.String("error", err.Error()))
		}
		return
	}
	if ctx.Err() != nil {
		return
	}

	c.detector.Reset(sess.LocalSeekOffsetSeconds)
	c.directives.SessionReady(sess.StreamSession, sess.URL)

	mediaChanged := sess.MediaID != prevMedia
	if mediaChanged {
		c.subtitles.Disable()
		if prefs.SubtitlesEnabled {
			if c.subtitles.Enable(ctx, sess.MediaID, prefs.SubtitleTrackIndex, sess.StreamStartSeconds) {
				c.subtitles.SetManualOffset(prefs.ManualOffsetSeconds, 0)
				c.directives.SubtitlesChanged(true, prefs.SubtitleTrackIndex)
			} else {
				c.directives.SubtitlesChanged(false, -1)
			}
		}
		c.fetchNextEpisode(ctx, sess.MediaID)
	} else {
		// Seek or audio-track change within the same media: the compositor
		// survives, only the stream clock moved.
		c.subtitles.SetStreamStart(sess.StreamStartSeconds)
		c.subtitles.ForceRender(0)
	}

	c.startSessionLoops(ctx, input.FrameCallbacks)
}

// Loadstart clears sync observation state when the player begins loading the
// session's source. While negotiation is still in flight the detector stays
// held; the negotiation goroutine arms it with the probed offset.
func (c *Controller) Loadstart() {
	c.detector.Rearm()
}

// Frame feeds one decoded-frame callback from the player.
func (c *Controller) Frame(mediaTime, localTime float64) {
	c.detector.ObserveFrame(mediaTime, localTime)
	t := c.state.Snapshot()
	c.subtitles.Tick(localTime, t.Playing, t.ReadyState)
}

// TimeUpdate records a telemetry sample from the player clock.
func (c *Controller) TimeUpdate(t PlayerTelemetry) {
	c.state.Update(func(cur *PlayerTelemetry) { *cur = t })
	c.next.SetDuration(t.Duration)
	c.subtitles.Tick(t.CurrentTime, t.Playing, t.ReadyState)

	if sess := c.sessions.Current(); sess != nil && t.Duration > 0 {
		position := t.CurrentTime + sess.StreamStartSeconds
		c.progress.Observe(c.rootCtx, sess.MediaID, position, t.Duration)
	}
}

// Play and Pause track the user's transport controls.
func (c *Controller) Play() {
	c.state.Update(func(t *PlayerTelemetry) {
		t.Playing = true
		t.Paused = false
		t.Ended = false
	})
}

func (c *Controller) Pause() {
	c.state.Update(func(t *PlayerTelemetry) {
		t.Playing = false
		t.Paused = true
	})
	c.flushProgress()
}

// Ended marks natural end of content. The player reports paused too, but the
// next-episode countdown must keep running.
func (c *Controller) Ended() {
	c.state.Update(func(t *PlayerTelemetry) {
		t.Playing = false
		t.Paused = true
		t.Ended = true
	})
	c.flushProgress()
}

// Resize recomputes canvas geometry for a new container box or intrinsic
// video size and pushes it to the player surface.
func (c *Controller) Resize(containerWidth, containerHeight, videoWidth, videoHeight float64) {
	g := c.subtitles.Resize(containerWidth, containerHeight, videoWidth, videoHeight)
	c.directives.Geometry(g)
}

// Seek replaces the session at a new position within the same media.
func (c *Controller) Seek(seconds float64) {
	sess := c.sessions.Current()
	if sess == nil {
		return
	}
	audio := sess.AudioTrackIndex
	c.Start(StartInput{
		MediaID:         sess.MediaID,
		AudioTrackIndex: &audio,
		SeekSeconds:     seconds,
		FrameCallbacks:  true,
	})
}

// SetAudioTrack replaces the session with a new audio track at the current
// position and persists the choice.
func (c *Controller) SetAudioTrack(index int) {
	sess := c.sessions.Current()
	if sess == nil {
		return
	}
	t := c.state.Snapshot()
	position := t.CurrentTime + sess.StreamStartSeconds

	c.savePrefs(sess.MediaID, func(p *domain.MediaPreferences) { p.AudioTrackIndex = index })
	c.Start(StartInput{
		MediaID:         sess.MediaID,
		AudioTrackIndex: &index,
		SeekSeconds:     position,
		FrameCallbacks:  true,
	})
}

// EnableSubtitles turns the overlay on for the given track.
func (c *Controller) EnableSubtitles(trackIndex int) {
	sess := c.sessions.Current()
	if sess == nil {
		return
	}

	ok := c.subtitles.Enable(c.rootCtx, sess.MediaID, trackIndex, sess.StreamStartSeconds)
	if ok {
		t := c.state.Snapshot()
		c.subtitles.ForceRender(t.CurrentTime)
		c.savePrefs(sess.MediaID, func(p *domain.MediaPreferences) {
			p.SubtitlesEnabled = true
			p.SubtitleTrackIndex = trackIndex
		})
	}
	c.directives.SubtitlesChanged(ok, trackIndex)
}

// DisableSubtitles disposes the compositor and persists the choice.
func (c *Controller) DisableSubtitles() {
	c.subtitles.Disable()
	if sess := c.sessions.Current(); sess != nil {
		c.savePrefs(sess.MediaID, func(p *domain.MediaPreferences) { p.SubtitlesEnabled = false })
	}
	c.directives.SubtitlesChanged(false, -1)
}

// SetSubtitleTrack switches tracks on the live compositor, no teardown.
func (c *Controller) SetSubtitleTrack(trackIndex int) {
	sess := c.sessions.Current()
	if sess == nil {
		return
	}
	if !c.subtitles.Enabled() {
		c.EnableSubtitles(trackIndex)
		return
	}

	t := c.state.Snapshot()
	if c.subtitles.SetTrack(c.rootCtx, trackIndex, t.CurrentTime) {
		c.savePrefs(sess.MediaID, func(p *domain.MediaPreferences) {
			p.SubtitlesEnabled = true
			p.SubtitleTrackIndex = trackIndex
		})
		c.directives.SubtitlesChanged(true, trackIndex)
	}
}

// SetManualOffset applies a live subtitle sync adjustment. Renders
// immediately even while paused.
func (c *Controller) SetManualOffset(seconds float64) {
	t := c.state.Snapshot()
	c.subtitles.SetManualOffset(seconds, t.CurrentTime)
	if sess := c.sessions.Current(); sess != nil {
		c.savePrefs(sess.MediaID, func(p *domain.MediaPreferences) { p.ManualOffsetSeconds = seconds })
	}
}

// SetUserMuted records the user's own mute preference. While the detector is
// still waiting, audio stays suppressed regardless.
func (c *Controller) SetUserMuted(muted bool) {
	c.mu.Lock()
	c.userMuted = muted
	c.mu.Unlock()

	if c.detector.Synced() {
		c.directives.SetMuted(muted)
	}
}

// CancelNextEpisode dismisses the overlay at the current playback position.
func (c *Controller) CancelNextEpisode() {
	sess := c.sessions.Current()
	t := c.state.Snapshot()
	position := t.CurrentTime
	if sess != nil {
		position += sess.StreamStartSeconds
	}
	c.next.Cancel(position)
}

// Close tears the controller down: cancels every loop, disposes the
// compositor, flushes progress and releases the backend stream.
func (c *Controller) Close() {
	c.flushProgress()
	c.rootCancel()
	c.subtitles.Disable()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c.sessions.Close(ctx)
}

// onSynced runs on the single transition to synced-playing: restore the
// user's mute preference and clear the fake-loading state.
func (c *Controller) onSynced() {
	c.mu.Lock()
	muted := c.userMuted
	c.mu.Unlock()

	c.directives.SetMuted(muted)
	c.directives.SetLoading(false)
}

func (c *Controller) onNextEpisodeFire(candidate domain.NextEpisodeCandidate) {
	c.directives.NextEpisode(NextFired.String(), 0, &candidate)
}

func (c *Controller) onNextEpisodeUpdate(phase NextEpisodePhase, countdown int) {
	if phase == NextFired {
		return // the fire callback carries the candidate
	}
	c.directives.NextEpisode(phase.String(), countdown, nil)
}

// replaceSessionContext cancels the previous session's loops and installs a
// fresh context for the new one.
func (c *Controller) replaceSessionContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionCancel != nil {
		c.sessionCancel()
	}
	ctx, cancel := context.WithCancel(c.rootCtx)
	c.sessionCancel = cancel
	return ctx
}

// startSessionLoops arms the per-session timers: the 1 Hz next-episode
// countdown, the sync polling fallback, and (once per controller) the pool
// monitor, which runs for as long as playback is active.
func (c *Controller) startSessionLoops(ctx context.Context, frameCallbacks bool) {
	go c.runCountdown(ctx)

	if !frameCallbacks {
		go c.detector.Poll(ctx, func() (float64, bool) {
			t := c.state.Snapshot()
			return t.CurrentTime, t.Paused
		})
	}

	c.mu.Lock()
	startPool := !c.poolStarted
	c.poolStarted = true
	c.mu.Unlock()
	if startPool {
		monitor := PoolMonitor{
			Backend:  c.backend,
			Logger:   c.logger,
			Interval: c.cfg.PoolPollInterval,
			Notify:   c.directives.PoolAdvisory,
		}
		go monitor.Run(c.rootCtx)
	}
}

func (c *Controller) runCountdown(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess := c.sessions.Current()
			if sess == nil {
				continue
			}
			t := c.state.Snapshot()
			position := t.CurrentTime + sess.StreamStartSeconds
			c.next.Tick(position, t.Paused, t.Ended)
		}
	}
}

func (c *Controller) fetchNextEpisode(ctx context.Context, id domain.MediaID) {
	candidate, err := c.backend.NextEpisode(ctx, id)
	if err != nil {
		c.logger.Debug("playback: next-episode lookup failed",
			slog.String("mediaId", string(id)),
			slog.String("error", err.Error()),
		)
		candidate = nil
	}
	t := c.state.Snapshot()
	c.next.SetCandidate(candidate, t.Duration)
}

func (c *Controller) flushProgress() {
	sess := c.sessions.Current()
	t := c.state.Snapshot()
	if sess == nil || t.Duration <= 0 {
		return
	}
	c.progress.Flush(c.rootCtx, sess.MediaID, t.CurrentTime+sess.StreamStartSeconds, t.Duration)
}

func (c *Controller) loadPrefs(id domain.MediaID) domain.MediaPreferences {
	defaults := domain.MediaPreferences{MediaID: id, SubtitleTrackIndex: -1}
	if c.prefs == nil {
		return defaults
	}

	ctx, cancel := context.WithTimeout(c.rootCtx, 2*time.Second)
	defer cancel()

	prefs, ok, err := c.prefs.Get(ctx, id)
	if err != nil {
		c.logger.Debug("playback: preference load failed",
			slog.String("mediaId", string(id)),
			slog.String("error", err.Error()),
		)
		return defaults
	}
	if !ok {
		return defaults
	}
	return prefs
}

func (c *Controller) savePrefs(id domain.MediaID, apply func(*domain.MediaPreferences)) {
	if c.prefs == nil {
		return
	}
	prefs := c.loadPrefs(id)
	apply(&prefs)
	prefs.MediaID = id
	prefs.UpdatedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(c.rootCtx, 2*time.Second)
	defer cancel()

	if err := c.prefs.Put(ctx, prefs); err != nil {
		c.logger.Debug("playback: preference save failed",
			slog.String("mediaId", string(id)),
			slog.String("error", err.Error()),
		)
	}
}
