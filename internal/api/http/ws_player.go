package apihttp

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"telestream/internal/domain"
	"telestream/internal/metrics"
	"telestream/internal/usecase"
)

// playerSocket is one connected player: the upstream half receives raw player
// events, the downstream half pushes directives. It implements
// usecase.Directives, so the playback controller talks straight to the wire.
type playerSocket struct {
	hub    *wsHub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	controller *usecase.Controller
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.newController == nil {
		writeError(w, http.StatusServiceUnavailable, "playback_unavailable", "playback engine not configured")
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	sock := &playerSocket{
		hub:    s.wsHub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: s.logger,
	}
	sock.controller = s.newController(sock, func(width, height int) (usecase.Compositor, error) {
		return &wsCompositor{sock: sock}, nil
	})

	s.wsHub.register <- sock
	metrics.ActivePlaybackSessions.Inc()

	go sock.writePump()
	go sock.readPump()
}

func (p *playerSocket) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *playerSocket) readPump() {
	defer func() {
		p.controller.Close()
		p.hub.unregister <- p
		p.conn.Close()
		metrics.ActivePlaybackSessions.Dec()
	}()
	p.conn.SetReadLimit(4096)
	_ = p.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		p.dispatch(raw)
	}
}

// Upstream event payloads.
type startEvent struct {
	MediaID         string  `json:"mediaId"`
	AudioTrackIndex *int    `json:"audioTrackIndex"`
	SeekSeconds     float64 `json:"seekSeconds"`
	FrameCallbacks  bool    `json:"frameCallbacks"`
}

type frameEvent struct {
	MediaTime float64 `json:"mediaTime"`
	LocalTime float64 `json:"localTime"`
}

type timeUpdateEvent struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	ReadyState  int     `json:"readyState"`
	Paused      bool    `json:"paused"`
	Playing     bool    `json:"playing"`
	Ended       bool    `json:"ended"`
}

type resizeEvent struct {
	ContainerWidth  float64 `json:"containerWidth"`
	ContainerHeight float64 `json:"containerHeight"`
	VideoWidth      float64 `json:"videoWidth"`
	VideoHeight     float64 `json:"videoHeight"`
}

type seekEvent struct {
	Seconds float64 `json:"seconds"`
}

type trackEvent struct {
	Index int `json:"index"`
}

type subtitlesEvent struct {
	Enabled    bool `json:"enabled"`
	TrackIndex int  `json:"trackIndex"`
}

type offsetEvent struct {
	Seconds float64 `json:"seconds"`
}

type mutedEvent struct {
	Muted bool `json:"muted"`
}

func (p *playerSocket) dispatch(raw []byte) {
	var event wsEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		p.logger.Debug("player event unreadable", slog.String("error", err.Error()))
		return
	}

	switch event.Type {
	case "start":
		var e startEvent
		if !p.decode(event, &e) {
			return
		}
		p.controller.Start(usecase.StartInput{
			MediaID:         domain.MediaID(e.MediaID),
			AudioTrackIndex: e.AudioTrackIndex,
			SeekSeconds:     e.SeekSeconds,
			FrameCallbacks:  e.FrameCallbacks,
		})
	case "loadstart":
		p.controller.Loadstart()
	case "frame":
		var e frameEvent
		if p.decode(event, &e) {
			p.controller.Frame(e.MediaTime, e.LocalTime)
		}
	case "timeupdate":
		var e timeUpdateEvent
		if p.decode(event, &e) {
			p.controller.TimeUpdate(usecase.PlayerTelemetry{
				CurrentTime: e.CurrentTime,
				Duration:    e.Duration,
				ReadyState:  e.ReadyState,
				Paused:      e.Paused,
				Playing:     e.Playing,
				Ended:       e.Ended,
			})
		}
	case "play":
		p.controller.Play()
	case "pause":
		p.controller.Pause()
	case "ended":
		p.controller.Ended()
	case "resize":
		var e resizeEvent
		if p.decode(event, &e) {
			p.controller.Resize(e.ContainerWidth, e.ContainerHeight, e.VideoWidth, e.VideoHeight)
		}
	case "seek":
		var e seekEvent
		if p.decode(event, &e) {
			p.controller.Seek(e.Seconds)
		}
	case "audio_track":
		var e trackEvent
		if p.decode(event, &e) {
			p.controller.SetAudioTrack(e.Index)
		}
	case "subtitles":
		var e subtitlesEvent
		if p.decode(event, &e) {
			if e.Enabled {
				p.controller.EnableSubtitles(e.TrackIndex)
			} else {
				p.controller.DisableSubtitles()
			}
		}
	case "subtitle_track":
		var e trackEvent
		if p.decode(event, &e) {
			p.controller.SetSubtitleTrack(e.Index)
		}
	case "subtitle_offset":
		var e offsetEvent
		if p.decode(event, &e) {
			p.controller.SetManualOffset(e.Seconds)
		}
	case "muted":
		var e mutedEvent
		if p.decode(event, &e) {
			p.controller.SetUserMuted(e.Muted)
		}
	case "next_cancel":
		p.controller.CancelNextEpisode()
	default:
		p.logger.Debug("unknown player event", slog.String("type", event.Type))
	}
}

func (p *playerSocket) decode(event wsEvent, out interface{}) bool {
	if err := json.Unmarshal(event.Data, out); err != nil {
		p.logger.Debug("player event payload unreadable",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// push enqueues a directive. A full send buffer drops the frame; the write
// pump's disconnect handling deals with players that stopped reading.
func (p *playerSocket) push(msgType string, data interface{}) {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		p.logger.Error("directive marshal failed",
			slog.String("type", msgType),
			slog.String("error", err.Error()),
		)
		return
	}
	select {
	case p.send <- payload:
	default:
	}
}

// Downstream directive payloads.
type sessionDirective struct {
	domain.StreamSession
	URL string `json:"url"`
}

type mutedDirective struct {
	Muted bool `json:"muted"`
}

type loadingDirective struct {
	Active bool `json:"active"`
}

type subtitlesDirective struct {
	Enabled    bool `json:"enabled"`
	TrackIndex int  `json:"trackIndex"`
}

type nextEpisodeDirective struct {
	Phase     string                       `json:"phase"`
	Countdown int                          `json:"countdown"`
	Candidate *domain.NextEpisodeCandidate `json:"candidate,omitempty"`
}

type poolDirective struct {
	Warning          string  `json:"warning"`
	TotalClients     int     `json:"totalClients"`
	ClientsInUse     int     `json:"clientsInUse"`
	ClientsAvailable int     `json:"clientsAvailable"`
	Pressure         float64 `json:"pressure"`
}

func (p *playerSocket) SessionReady(sess domain.StreamSession, url string) {
	p.push("session", sessionDirective{StreamSession: sess, URL: url})
}

func (p *playerSocket) SetMuted(muted bool) {
	p.push("muted", mutedDirective{Muted: muted})
}

func (p *playerSocket) SetLoading(active bool) {
	p.push("loading", loadingDirective{Active: active})
}

func (p *playerSocket) Geometry(g domain.CanvasGeometry) {
	p.push("geometry", g)
}

func (p *playerSocket) SubtitlesChanged(enabled bool, trackIndex int) {
	p.push("subtitles", subtitlesDirective{Enabled: enabled, TrackIndex: trackIndex})
}

func (p *playerSocket) NextEpisode(phase string, countdownRemaining int, candidate *domain.NextEpisodeCandidate) {
	p.push("next_episode", nextEpisodeDirective{Phase: phase, Countdown: countdownRemaining, Candidate: candidate})
}

func (p *playerSocket) PoolAdvisory(warning domain.PoolWarning, status domain.PoolStatus) {
	p.push("pool", poolDirective{
		Warning:          string(warning),
		TotalClients:     status.TotalClients,
		ClientsInUse:     status.ClientsInUse,
		ClientsAvailable: status.ClientsAvailable,
		Pressure:         status.Pressure(),
	})
}

// wsCompositor drives the player-side WASM subtitle rasterizer by directive.
// The engine decides what the compositor does and when; the browser end only
// executes the ops against its canvas.
type wsCompositor struct {
	sock *playerSocket
}

type compositorDirective struct {
	Op      string           `json:"op"`
	Content string           `json:"content,omitempty"`
	Fonts   []compositorFont `json:"fonts,omitempty"`
	Width   int              `json:"width,omitempty"`
	Height  int              `json:"height,omitempty"`
	Seconds float64          `json:"seconds,omitempty"`
}

type compositorFont struct {
	Filename string   `json:"filename"`
	Names    []string `json:"names"`
	Data     string   `json:"data"` // base64
}

func (c *wsCompositor) SetTrack(content string, fonts []usecase.FontBlob) error {
	out := make([]compositorFont, 0, len(fonts))
	for _, f := range fonts {
		out = append(out, compositorFont{
			Filename: f.Filename,
			Names:    f.Names,
			Data:     base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	c.sock.push("compositor", compositorDirective{Op: "set_track", Content: content, Fonts: out})
	return nil
}

func (c *wsCompositor) Resize(width, height int) {
	c.sock.push("compositor", compositorDirective{Op: "resize", Width: width, Height: height})
}

func (c *wsCompositor) SetTime(seconds float64) {
	c.sock.push("compositor", compositorDirective{Op: "set_time", Seconds: seconds})
}

func (c *wsCompositor) Render() {
	c.sock.push("compositor", compositorDirective{Op: "render"})
}

func (c *wsCompositor) Dispose() {
	c.sock.push("compositor", compositorDirective{Op: "dispose"})
}
