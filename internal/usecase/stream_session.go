package usecase

import (
	"context"
	"log/slog"
	"sync"

	"telestream/internal/domain"
	"telestream/internal/metrics"
)

// ActiveSession is one negotiated stream plus the identity token that guards
// against stale probe results. Sessions are replaced wholesale on any track
// change or seek; the generation number, not a boolean flag, decides whether
// a late probe may still be applied.
type ActiveSession struct {
	Gen uint64
	URL string
	domain.StreamSession
}

// SessionManager negotiates stream sessions: it builds the playable URL,
// warms the backend cache and probes the true stream start offset. At most
// one session is active at a time.
type SessionManager struct {
	Backend SessionBackend
	Logger  *slog.Logger

	mu      sync.Mutex
	gen     uint64
	current *ActiveSession
	warmed  map[domain.MediaID]struct{}
}

func NewSessionManager(backend SessionBackend, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		Backend: backend,
		Logger:  logger,
		warmed:  make(map[domain.MediaID]struct{}),
	}
}

// Begin replaces the active session with a new one for the given media, audio
// track and seek position. Warm-up failures are swallowed (playback proceeds,
// only startup latency suffers) and probe failures fall back to a zero local
// offset. The returned session already carries its final offsets unless it
// was superseded mid-probe, in which case ErrSuperseded is returned.
func (m *SessionManager) Begin(ctx context.Context, id domain.MediaID, audioTrackIndex int, seekSeconds float64) (*ActiveSession, error) {
	m.mu.Lock()
	m.gen++
	prev := m.current
	sess := &ActiveSession{
		Gen: m.gen,
		URL: m.Backend.StreamURL(id, audioTrackIndex, seekSeconds),
		StreamSession: domain.StreamSession{
			MediaID:              id,
			AudioTrackIndex:      audioTrackIndex,
			RequestedSeekSeconds: seekSeconds,
			// Until the probe answers, assume the backend serves exactly
			// from the requested time.
			StreamStartSeconds: seekSeconds,
		},
	}
	m.current = sess
	m.mu.Unlock()

	if prev != nil && prev.MediaID != id {
		m.releaseQuietly(ctx, prev.MediaID)
	}

	sess.Warmed = m.warm(ctx, id)
	m.probe(ctx, sess)

	m.mu.Lock()
	superseded := m.current != sess
	m.mu.Unlock()
	if superseded {
		return nil, ErrSuperseded
	}
	return sess, nil
}

// Current returns the active session, or nil when none has begun.
func (m *SessionManager) Current() *ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close releases the active session on the backend, best-effort.
func (m *SessionManager) Close(ctx context.Context) {
	m.mu.Lock()
	sess := m.current
	m.current = nil
	m.mu.Unlock()

	if sess != nil {
		m.releaseQuietly(ctx, sess.MediaID)
	}
}

// warm triggers backend cache warm-up once per media id. Only successes are
// remembered so a failed warm-up is retried naturally on the next session.
func (m *SessionManager) warm(ctx context.Context, id domain.MediaID) bool {
	m.mu.Lock()
	_, done := m.warmed[id]
	m.mu.Unlock()
	if done {
		return true
	}

	if err := m.Backend.Warm(ctx, id); err != nil {
		m.Logger.Debug("session: warm-up failed",
			slog.String("mediaId", string(id)),
			slog.String("error", err.Error()),
		)
		return false
	}

	m.mu.Lock()
	m.warmed[id] = struct{}{}
	m.mu.Unlock()
	return true
}

// probe reads the stream-start headers and applies the resulting offsets to
// sess, unless a newer session has replaced it in the meantime.
func (m *SessionManager) probe(ctx context.Context, sess *ActiveSession) {
	res, err := m.Backend.ProbeStreamStart(ctx, sess.URL)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != sess {
		metrics.SessionProbesTotal.WithLabelValues("stale").Inc()
		return
	}

	if err != nil || !res.HeadersPresent {
		if err != nil {
			m.Logger.Debug("session: probe failed, assuming zero offset",
				slog.String("mediaId", string(sess.MediaID)),
				slog.String("error", err.Error()),
			)
		}
		sess.StreamStartSeconds = sess.RequestedSeekSeconds
		sess.LocalSeekOffsetSeconds = 0
		metrics.SessionProbesTotal.WithLabelValues("fallback").Inc()
		return
	}

	sess.StreamStartSeconds = res.StreamStartSeconds
	sess.LocalSeekOffsetSeconds = domain.LocalSeekOffset(sess.RequestedSeekSeconds, res.StreamStartSeconds)
	if res.StreamStartSeconds > sess.RequestedSeekSeconds {
		// Backend served from a keyframe after the requested time; the raw
		// offset is negative and clamped. Surfaced at debug level only.
		m.Logger.Debug("session: stream start past requested time",
			slog.String("mediaId", string(sess.MediaID)),
			slog.Float64("requested", sess.RequestedSeekSeconds),
			slog.Float64("streamStart", res.StreamStartSeconds),
		)
	}
	metrics.SessionProbesTotal.WithLabelValues("headers").Inc()
}

func (m *SessionManager) releaseQuietly(ctx context.Context, id domain.MediaID) {
	if err := m.Backend.Release(ctx, id); err != nil {
		m.Logger.Debug("session: release failed",
			slog.String("mediaId", string(id)),
			slog.String("error", err.Error()),
		)
	}
}
