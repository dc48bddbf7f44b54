package apihttp

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"telestream/internal/domain"
)

type preferencesResponse struct {
	MediaID             string    `json:"mediaId"`
	AudioTrackIndex     int       `json:"audioTrackIndex"`
	SubtitlesEnabled    bool      `json:"subtitlesEnabled"`
	SubtitleTrackIndex  int       `json:"subtitleTrackIndex"`
	ManualOffsetSeconds float64   `json:"manualOffsetSeconds"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

type preferencesRequest struct {
	AudioTrackIndex     int     `json:"audioTrackIndex"`
	SubtitlesEnabled    bool    `json:"subtitlesEnabled"`
	SubtitleTrackIndex  int     `json:"subtitleTrackIndex"`
	ManualOffsetSeconds float64 `json:"manualOffsetSeconds"`
}

func (s *Server) handlePreferencesByID(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		writeError(w, http.StatusServiceUnavailable, "prefs_unavailable", "preference store not configured")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/preferences/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "media not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getPreferences(w, r, domain.MediaID(id))
	case http.MethodPut:
		s.putPreferences(w, r, domain.MediaID(id))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request, id domain.MediaID) {
	prefs, found, err := s.prefs.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !found {
		// Fresh media: answer with the defaults instead of a 404 so players
		// need no special casing on first watch.
		prefs = domain.MediaPreferences{MediaID: id, SubtitleTrackIndex: -1}
	}
	writeJSON(w, http.StatusOK, preferencesToResponse(prefs))
}

func (s *Server) putPreferences(w http.ResponseWriter, r *http.Request, id domain.MediaID) {
	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.AudioTrackIndex < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "audioTrackIndex must be >= 0")
		return
	}
	if req.SubtitleTrackIndex < -1 {
		writeError(w, http.StatusBadRequest, "invalid_request", "subtitleTrackIndex must be >= -1")
		return
	}

	prefs := domain.MediaPreferences{
		MediaID:             id,
		AudioTrackIndex:     req.AudioTrackIndex,
		SubtitlesEnabled:    req.SubtitlesEnabled,
		SubtitleTrackIndex:  req.SubtitleTrackIndex,
		ManualOffsetSeconds: req.ManualOffsetSeconds,
		UpdatedAt:           time.Now().UTC(),
	}
	if err := s.prefs.Put(r.Context(), prefs); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preferencesToResponse(prefs))
}

func preferencesToResponse(prefs domain.MediaPreferences) preferencesResponse {
	return preferencesResponse{
		MediaID:             string(prefs.MediaID),
		AudioTrackIndex:     prefs.AudioTrackIndex,
		SubtitlesEnabled:    prefs.SubtitlesEnabled,
		SubtitleTrackIndex:  prefs.SubtitleTrackIndex,
		ManualOffsetSeconds: prefs.ManualOffsetSeconds,
		UpdatedAt:           prefs.UpdatedAt,
	}
}
