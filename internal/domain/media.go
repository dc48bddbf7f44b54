package domain

// MediaID identifies one playable item in the library.
type MediaID string

// SubtitleTrack describes one embedded subtitle stream of a media item.
// Immutable, sourced from media metadata.
type SubtitleTrack struct {
	StreamIndex int    `json:"streamIndex"`
	Language    string `json:"language"`
	Title       string `json:"title"`
	Default     bool   `json:"default"`
}

// FontAsset is one entry of a media item's font manifest: the file to fetch
// plus the internal family names it must be registered under so the subtitle
// compositor can resolve style references by alias.
type FontAsset struct {
	Filename string   `json:"filename"`
	Names    []string `json:"names"`
}

// NextEpisodeCandidate is the episode that follows the currently playing one,
// fetched once per playback session. Absence means playback has no follow-up
// (movie, last episode of a season without a successor).
type NextEpisodeCandidate struct {
	ID              MediaID `json:"id"`
	Title           string  `json:"title"`
	SeasonNumber    int     `json:"seasonNumber"`
	EpisodeNumber   int     `json:"episodeNumber"`
	DurationSeconds float64 `json:"durationSeconds"`
	StillPath       string  `json:"stillPath"`
}
