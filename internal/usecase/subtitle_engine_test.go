package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"telestream/internal/domain"
)

type fakeCompositor struct {
	setTrackCalls int
	setTrackErr   error
	lastContent   string
	lastFonts     []FontBlob
	resizes       [][2]int
	times         []float64
	renders       int
	disposed      bool
}

func (c *fakeCompositor) SetTrack(content string, fonts []FontBlob) error {
	c.setTrackCalls++
	if c.setTrackErr != nil {
		return c.setTrackErr
	}
	c.lastContent = content
	c.lastFonts = fonts
	return nil
}

func (c *fakeCompositor) Resize(width, height int) { c.resizes = append(c.resizes, [2]int{width, height}) }
func (c *fakeCompositor) SetTime(seconds float64)  { c.times = append(c.times, seconds) }
func (c *fakeCompositor) Render()                  { c.renders++ }
func (c *fakeCompositor) Dispose()                 { c.disposed = true }

type fakeSubtitleBackend struct {
	content      map[int]string
	contentErr   error
	contentGate  chan struct{} // blocks SubtitleContent until closed
	manifest     []domain.FontAsset
	manifestErr  error
	fontData     map[string][]byte
	manifestHits int
}

func (f *fakeSubtitleBackend) SubtitleContent(_ context.Context, _ domain.MediaID, streamIndex int) (string, error) {
	if f.contentGate != nil {
		<-f.contentGate
	}
	if f.contentErr != nil {
		return "", f.contentErr
	}
	return f.content[streamIndex], nil
}

func (f *fakeSubtitleBackend) FontManifest(_ context.Context, _ domain.MediaID) ([]domain.FontAsset, error) {
	f.manifestHits++
	return f.manifest, f.manifestErr
}

func (f *fakeSubtitleBackend) FontData(_ context.Context, _ domain.MediaID, filename string) ([]byte, error) {
	data, ok := f.fontData[filename]
	if !ok {
		return nil, errors.New("font missing")
	}
	return data, nil
}

func newTestSubtitleEngine(backend *fakeSubtitleBackend, comps *[]*fakeCompositor, factoryErr error) *SubtitleEngine {
	factory := func(width, height int) (Compositor, error) {
		if factoryErr != nil {
			return nil, factoryErr
		}
		c := &fakeCompositor{}
		*comps = append(*comps, c)
		return c, nil
	}
	return NewSubtitleEngine(backend, factory, discardLogger())
}

func defaultSubtitleBackend() *fakeSubtitleBackend {
	return &fakeSubtitleBackend{
		content: map[int]string{
			0: "[Script Info]\nTitle: track zero",
			1: "[Script Info]\nTitle: track one",
		},
		manifest: []domain.FontAsset{{Filename: "main.ttf", Names: []string{"Main Sans"}}},
		fontData: map[string][]byte{"main.ttf": []byte("font-bytes")},
	}
}

func TestSubtitleEngineEnableLoadsTrackAndFonts(t *testing.T) {
	backend := defaultSubtitleBackend()
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, nil)

	if !e.Enable(context.Background(), "ep-1", 0, 120) {
		t.Fatal("Enable = false, want true")
	}
	if !e.Enabled() || e.TrackIndex() != 0 {
		t.Fatalf("Enabled/TrackIndex = %v/%d, want true/0", e.Enabled(), e.TrackIndex())
	}
	if len(comps) != 1 {
		t.Fatalf("compositors created = %d, want 1", len(comps))
	}
	if comps[0].lastContent != backend.content[0] {
		t.Fatalf("compositor content = %q, want track zero", comps[0].lastContent)
	}
	if len(comps[0].lastFonts) != 1 || comps[0].lastFonts[0].Filename != "main.ttf" {
		t.Fatalf("compositor fonts = %+v, want main.ttf", comps[0].lastFonts)
	}
}

func TestSubtitleEngineDisableDisposes(t *testing.T) {
	backend := defaultSubtitleBackend()
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, nil)

	e.Enable(context.Background(), "ep-1", 0, 0)
	e.Disable()

	if e.Enabled() {
		t.Fatal("Enabled = true after Disable")
	}
	if e.TrackIndex() != -1 {
		t.Fatalf("TrackIndex = %d after Disable, want -1", e.TrackIndex())
	}
	if !comps[0].disposed {
		t.Fatal("compositor was not disposed")
	}

	e.Disable() // idempotent
}

func TestSubtitleEngineReEnableNeverSharesCanvas(t *testing.T) {
	backend := defaultSubtitleBackend()
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, nil)

	e.Enable(context.Background(), "ep-1", 0, 0)
	e.Enable(context.Background(), "ep-1", 1, 0)

	if len(comps) != 2 {
		t.Fatalf("compositors created = %d, want 2", len(comps))
	}
	if !comps[0].disposed {
		t.Fatal("first compositor still live after re-enable")
	}
	if comps[1].disposed {
		t.Fatal("second compositor disposed")
	}
}

func TestSubtitleEngineConcurrentEnableNeverLeaksCompositor(t *testing.T) {
	backend := defaultSubtitleBackend()
	backend.contentGate = make(chan struct{})

	var mu sync.Mutex
	var comps []*fakeCompositor
	factory := func(width, height int) (Compositor, error) {
		c := &fakeCompositor{}
		mu.Lock()
		comps = append(comps, c)
		mu.Unlock()
		return c, nil
	}
	e := NewSubtitleEngine(backend, factory, discardLogger())

	var wg sync.WaitGroup
	for track := 0; track < 2; track++ {
		wg.Add(1)
		go func(track int) {
			defer wg.Done()
			e.Enable(context.Background(), "ep-1", track, 0)
		}(track)
	}
	close(backend.contentGate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	live := 0
	for _, c := range comps {
		if !c.disposed {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("live compositors after concurrent enables = %d, want 1", live)
	}
	if !e.Enabled() {
		t.Fatal("Enabled = false after concurrent enables")
	}
}

func TestSubtitleEngineSetTrackKeepsCompositor(t *testing.T) {
	backend := defaultSubtitleBackend()
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, nil)

	e.Enable(context.Background(), "ep-1", 0, 100)
	if !e.SetTrack(context.Background(), 1, 50) {
		t.Fatal("SetTrack = false, want true")
	}

	if len(comps) != 1 {
		t.Fatalf("compositors created = %d, want 1 (no teardown on track switch)", len(comps))
	}
	if comps[0].disposed {
		t.Fatal("compositor disposed on a plain track switch")
	}
	if comps[0].setTrackCalls != 2 {
		t.Fatalf("SetTrack calls = %d, want 2", comps[0].setTrackCalls)
	}
	if e.TrackIndex() != 1 {
		t.Fatalf("TrackIndex = %d, want 1", e.TrackIndex())
	}
	if comps[0].renders != 1 {
		t.Fatalf("renders = %d after track switch, want 1 (forced)", comps[0].renders)
	}
}

func TestSubtitleEngineCompositorInitFailureIsContained(t *testing.T) {
	backend := defaultSubtitleBackend()
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, errors.New("wasm init failed"))

	if e.Enable(context.Background(), "ep-1", 0, 0) {
		t.Fatal("Enable = true despite compositor init failure")
	}
	if e.Enabled() {
		t.Fatal("Enabled = true despite init failure")
	}

	// Ticking a failed engine is a no-op, never a panic.
	e.Tick(10, true, 4)
	e.ForceRender(10)
}

func TestSubtitleEngineContentFetchFailureIsContained(t *testing.T) {
	backend := defaultSubtitleBackend()
	backend.contentErr = errors.New("backend down")
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, nil)

	if e.Enable(context.Background(), "ep-1", 0, 0) {
		t.Fatal("Enable = true despite content fetch failure")
	}
	if len(comps) != 0 {
		t.Fatal("compositor created despite missing track content")
	}
}

func TestSubtitleEngineFontManifestCachedPerMedia(t *testing.T) {
	backend := defaultSubtitleBackend()
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, nil)

	e.Enable(context.Background(), "ep-1", 0, 0)
	e.SetTrack(context.Background(), 1, 0)
	if backend.manifestHits != 1 {
		t.Fatalf("manifest fetches = %d for one media, want 1", backend.manifestHits)
	}

	e.Enable(context.Background(), "ep-2", 0, 0)
	if backend.manifestHits != 2 {
		t.Fatalf("manifest fetches = %d after media change, want 2", backend.manifestHits)
	}
}

func TestSubtitleEngineTickGatesOnPlaybackState(t *testing.T) {
	backend := defaultSubtitleBackend()
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, nil)
	e.Enable(context.Background(), "ep-1", 0, 100)

	e.Tick(10, false, 4) // not playing
	e.Tick(10, true, 2)  // buffering
	if len(comps[0].times) != 0 {
		t.Fatalf("SetTime calls = %d while gated, want 0", len(comps[0].times))
	}

	e.Tick(10, true, 3)
	if len(comps[0].times) != 1 || comps[0].times[0] != 110 {
		t.Fatalf("SetTime = %v, want [110] (local 10 + stream start 100)", comps[0].times)
	}
}

func TestSubtitleEngineManualOffsetRendersWhilePaused(t *testing.T) {
	backend := defaultSubtitleBackend()
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, nil)
	e.Enable(context.Background(), "ep-1", 0, 100)

	renders := comps[0].renders
	e.SetManualOffset(1.5, 10)

	if comps[0].renders != renders+1 {
		t.Fatal("SetManualOffset did not force a render")
	}
	last := comps[0].times[len(comps[0].times)-1]
	if last != 111.5 {
		t.Fatalf("rendered time = %v, want 111.5 (10 + 100 + 1.5)", last)
	}
	if e.ManualOffset() != 1.5 {
		t.Fatalf("ManualOffset = %v, want 1.5", e.ManualOffset())
	}
}

func TestSubtitleEngineResizeLetterboxes(t *testing.T) {
	backend := defaultSubtitleBackend()
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, nil)
	e.Enable(context.Background(), "ep-1", 0, 0)

	// 16:9 video inside a 4:3 container: full width, horizontal bars.
	g := e.Resize(1600, 1200, 1920, 1080)
	if g.Width != 1600 || g.Height != 900 {
		t.Fatalf("geometry = %+v, want 1600x900", g)
	}
	if g.OffsetX != 0 || g.OffsetY != 150 {
		t.Fatalf("offsets = (%v, %v), want (0, 150)", g.OffsetX, g.OffsetY)
	}

	last := comps[0].resizes[len(comps[0].resizes)-1]
	if last != [2]int{1600, 900} {
		t.Fatalf("compositor resized to %v, want [1600 900]", last)
	}
	if e.Geometry() != g {
		t.Fatalf("Geometry() = %+v, want %+v", e.Geometry(), g)
	}
}

func TestSubtitleEngineSetStreamStartAfterSeek(t *testing.T) {
	backend := defaultSubtitleBackend()
	var comps []*fakeCompositor
	e := newTestSubtitleEngine(backend, &comps, nil)
	e.Enable(context.Background(), "ep-1", 0, 100)

	// Seek replaced the session; same media, new stream start.
	e.SetStreamStart(600)
	e.Tick(5, true, 4)

	last := comps[0].times[len(comps[0].times)-1]
	if last != 605 {
		t.Fatalf("rendered time = %v, want 605", last)
	}
}
