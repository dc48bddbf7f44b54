package apihttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"telestream/internal/domain"
	"telestream/internal/storage/memory"
	"telestream/internal/usecase"
)

// playbackBackend fakes the stream backend gateway for full-stack player
// tests.
type playbackBackend struct {
	probe usecase.ProbeResult
}

func (b *playbackBackend) StreamURL(id domain.MediaID, audioTrackIndex int, seekSeconds float64) string {
	return fmt.Sprintf("/stream/%s?audio=%d&seek=%.3f", id, audioTrackIndex, seekSeconds)
}

func (b *playbackBackend) Warm(context.Context, domain.MediaID) error      { return nil }
func (b *playbackBackend) Release(context.Context, domain.MediaID) error   { return nil }
func (b *playbackBackend) ProbeStreamStart(context.Context, string) (usecase.ProbeResult, error) {
	return b.probe, nil
}

func (b *playbackBackend) SubtitleContent(_ context.Context, _ domain.MediaID, streamIndex int) (string, error) {
	return fmt.Sprintf("[Script Info]\nTitle: track %d", streamIndex), nil
}

func (b *playbackBackend) FontManifest(context.Context, domain.MediaID) ([]domain.FontAsset, error) {
	return nil, nil
}

func (b *playbackBackend) FontData(context.Context, domain.MediaID, string) ([]byte, error) {
	return nil, domain.ErrNotFound
}

func (b *playbackBackend) PoolStatus(context.Context) (domain.PoolStatus, error) {
	return domain.PoolStatus{TotalClients: 4, ClientsAvailable: 4}, nil
}

func (b *playbackBackend) NextEpisode(context.Context, domain.MediaID) (*domain.NextEpisodeCandidate, error) {
	return nil, nil
}

func (b *playbackBackend) PutProgress(context.Context, domain.WatchProgress) error { return nil }

type rawDirective struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialPlayer(t *testing.T, backend usecase.Backend) *websocket.Conn {
	t.Helper()

	prefs := memory.NewPreferenceStore()
	s := NewServer(
		WithLogger(discardLogger()),
		WithPreferences(prefs),
		WithControllerFactory(func(directives usecase.Directives, newCompositor usecase.CompositorFactory) *usecase.Controller {
			return usecase.NewController(backend, prefs, newCompositor, directives, usecase.ControllerConfig{}, discardLogger())
		}),
	)
	t.Cleanup(s.Close)

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/player"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"type": msgType, "data": data})
	if err != nil {
		t.Fatalf("marshal %s: %v", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// awaitDirective reads frames until one of the wanted type arrives.
func awaitDirective(t *testing.T, conn *websocket.Conn, msgType string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q directive: %v", msgType, err)
		}
		var d rawDirective
		if err := json.Unmarshal(raw, &d); err != nil {
			t.Fatalf("directive unreadable: %v", err)
		}
		if d.Type == msgType {
			return d.Data
		}
	}
}

func TestPlayerSocketStartToSync(t *testing.T) {
	backend := &playbackBackend{
		probe: usecase.ProbeResult{StreamStartSeconds: 980, HeadersPresent: true},
	}
	conn := dialPlayer(t, backend)

	sendEvent(t, conn, "start", map[string]interface{}{
		"mediaId":        "ep-1",
		"seekSeconds":    1000,
		"frameCallbacks": true,
	})

	data := awaitDirective(t, conn, "session")
	var sess struct {
		MediaID                string  `json:"mediaId"`
		StreamStartSeconds     float64 `json:"streamStartSeconds"`
		LocalSeekOffsetSeconds float64 `json:"localSeekOffsetSeconds"`
		URL                    string  `json:"url"`
	}
	if err := json.Unmarshal(data, &sess); err != nil {
		t.Fatalf("session decode: %v", err)
	}
	if sess.MediaID != "ep-1" {
		t.Fatalf("session mediaId = %q, want ep-1", sess.MediaID)
	}
	if sess.StreamStartSeconds != 980 || sess.LocalSeekOffsetSeconds != 20 {
		t.Fatalf("session offsets = %v/%v, want 980/20", sess.StreamStartSeconds, sess.LocalSeekOffsetSeconds)
	}
	if !strings.Contains(sess.URL, "seek=1000.000") {
		t.Fatalf("session url = %q, want requested seek", sess.URL)
	}

	// Feed frames until the engine unmutes: hysteresis-passing advances with
	// the local clock at the seek offset.
	frames := [][2]float64{{0.00, 19.0}, {0.04, 19.5}, {0.08, 20.0}}
	for _, f := range frames {
		sendEvent(t, conn, "frame", map[string]interface{}{"mediaTime": f[0], "localTime": f[1]})
	}

	for {
		data := awaitDirective(t, conn, "muted")
		var m struct {
			Muted bool `json:"muted"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("muted decode: %v", err)
		}
		if !m.Muted {
			break // the sync transition restored the user's (unmuted) state
		}
	}

	data = awaitDirective(t, conn, "loading")
	var l struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(data, &l); err != nil {
		t.Fatalf("loading decode: %v", err)
	}
	if l.Active {
		t.Fatal("loading directive still active after sync")
	}
}

func TestPlayerSocketSubtitleDirectives(t *testing.T) {
	backend := &playbackBackend{probe: usecase.ProbeResult{HeadersPresent: false}}
	conn := dialPlayer(t, backend)

	sendEvent(t, conn, "start", map[string]interface{}{
		"mediaId":        "ep-1",
		"frameCallbacks": true,
	})
	awaitDirective(t, conn, "session")

	sendEvent(t, conn, "subtitles", map[string]interface{}{"enabled": true, "trackIndex": 0})

	// The compositor op stream arrives before the confirmation.
	data := awaitDirective(t, conn, "compositor")
	var op struct {
		Op      string `json:"op"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		t.Fatalf("compositor decode: %v", err)
	}
	if op.Op != "set_track" {
		t.Fatalf("compositor op = %q, want set_track", op.Op)
	}
	if !strings.Contains(op.Content, "track 0") {
		t.Fatalf("compositor content = %q, want track 0 document", op.Content)
	}

	data = awaitDirective(t, conn, "subtitles")
	var sub struct {
		Enabled    bool `json:"enabled"`
		TrackIndex int  `json:"trackIndex"`
	}
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("subtitles decode: %v", err)
	}
	if !sub.Enabled || sub.TrackIndex != 0 {
		t.Fatalf("subtitles directive = %+v, want enabled track 0", sub)
	}
}

func TestPlayerSocketResizeGeometry(t *testing.T) {
	backend := &playbackBackend{probe: usecase.ProbeResult{HeadersPresent: false}}
	conn := dialPlayer(t, backend)

	sendEvent(t, conn, "start", map[string]interface{}{
		"mediaId":        "ep-1",
		"frameCallbacks": true,
	})
	awaitDirective(t, conn, "session")

	sendEvent(t, conn, "resize", map[string]interface{}{
		"containerWidth":  1600,
		"containerHeight": 1200,
		"videoWidth":      1920,
		"videoHeight":     1080,
	})

	data := awaitDirective(t, conn, "geometry")
	var g domain.CanvasGeometry
	if err := json.Unmarshal(data, &g); err != nil {
		t.Fatalf("geometry decode: %v", err)
	}
	want := domain.CanvasGeometry{Width: 1600, Height: 900, OffsetX: 0, OffsetY: 150}
	if g != want {
		t.Fatalf("geometry = %+v, want %+v", g, want)
	}
}
