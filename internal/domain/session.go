package domain

// StreamSession describes one negotiated stream of a media item. The backend
// begins the byte-stream at the nearest keyframe at or before the requested
// time, so the local video timeline starts StreamStartSeconds into the
// content and playback must advance LocalSeekOffsetSeconds before audio,
// video and subtitles line up.
//
// A session is replaced wholesale on any track change or seek request; it is
// never mutated in place by more than one writer.
type StreamSession struct {
	MediaID                MediaID `json:"mediaId"`
	AudioTrackIndex        int     `json:"audioTrackIndex"`
	RequestedSeekSeconds   float64 `json:"requestedSeekSeconds"`
	StreamStartSeconds     float64 `json:"streamStartSeconds"`
	LocalSeekOffsetSeconds float64 `json:"localSeekOffsetSeconds"`
	Warmed                 bool    `json:"warmed"`
}

// LocalSeekOffset returns how far into the local video timeline playback must
// reach before it is considered synchronized. The backend is expected to serve
// from a keyframe at or before the requested time; if it ever serves from a
// later keyframe the raw offset goes negative and is clamped to zero.
func LocalSeekOffset(requestedSeconds, streamStartSeconds float64) float64 {
	if d := requestedSeconds - streamStartSeconds; d > 0 {
		return d
	}
	return 0
}

// SyncState is the sync detector's view of decoded video output. Owned
// exclusively by the detector and reset whenever a new session begins.
type SyncState struct {
	IsMoving              bool    `json:"isMoving"`
	LastObservedFrameTime float64 `json:"lastObservedFrameTime"`
}

// WatchProgress is one idempotent position upsert relayed to the backend.
type WatchProgress struct {
	MediaID         MediaID `json:"mediaId"`
	PositionSeconds float64 `json:"positionSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
}
