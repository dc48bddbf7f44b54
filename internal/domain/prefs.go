package domain

import "time"

// MediaPreferences are the per-media playback choices that survive across
// sessions: selected audio and subtitle tracks and the manual subtitle offset
// the user dialed in by ear. Keyed by media id.
type MediaPreferences struct {
	MediaID             MediaID   `json:"mediaId"`
	AudioTrackIndex     int       `json:"audioTrackIndex"`
	SubtitlesEnabled    bool      `json:"subtitlesEnabled"`
	SubtitleTrackIndex  int       `json:"subtitleTrackIndex"`
	ManualOffsetSeconds float64   `json:"manualOffsetSeconds"`
	UpdatedAt           time.Time `json:"updatedAt"`
}
