package usecase

import (
	"context"

	"telestream/internal/domain"
)

// ProbeResult is the outcome of a HEAD probe against a freshly built stream
// URL. HeadersPresent is false for non-seekable streams, in which case the
// session falls back to the requested time with a zero local offset.
type ProbeResult struct {
	StreamStartSeconds float64
	RequestedSeconds   float64
	HeadersPresent     bool
}

// SessionBackend is the slice of the backend API that stream negotiation
// needs.
type SessionBackend interface {
	StreamURL(id domain.MediaID, audioTrackIndex int, seekSeconds float64) string
	Warm(ctx context.Context, id domain.MediaID) error
	Release(ctx context.Context, id domain.MediaID) error
	ProbeStreamStart(ctx context.Context, streamURL string) (ProbeResult, error)
}

// SubtitleBackend fetches subtitle documents and font assets per media item.
type SubtitleBackend interface {
	SubtitleContent(ctx context.Context, id domain.MediaID, streamIndex int) (string, error)
	FontManifest(ctx context.Context, id domain.MediaID) ([]domain.FontAsset, error)
	FontData(ctx context.Context, id domain.MediaID, filename string) ([]byte, error)
}

// PoolBackend exposes the backend's upstream client pool snapshot.
type PoolBackend interface {
	PoolStatus(ctx context.Context) (domain.PoolStatus, error)
}

// EpisodeBackend looks up the follow-up episode of a media item.
type EpisodeBackend interface {
	NextEpisode(ctx context.Context, id domain.MediaID) (*domain.NextEpisodeCandidate, error)
}

// ProgressBackend accepts idempotent watch-position upserts.
type ProgressBackend interface {
	PutProgress(ctx context.Context, wp domain.WatchProgress) error
}

// Backend is the full gateway the playback controller wires into its engines.
type Backend interface {
	SessionBackend
	SubtitleBackend
	PoolBackend
	EpisodeBackend
	ProgressBackend
}

// PreferenceStore persists per-media playback choices. Lookups and writes are
// advisory; failures degrade to defaults and are never surfaced to the user.
type PreferenceStore interface {
	Get(ctx context.Context, id domain.MediaID) (domain.MediaPreferences, bool, error)
	Put(ctx context.Context, prefs domain.MediaPreferences) error
}
