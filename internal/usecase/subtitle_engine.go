package usecase

import (
	"context"
	"log/slog"
	"sync"

	"telestream/internal/domain"
	"telestream/internal/metrics"
)

// FontBlob is a downloaded font file plus the internal family names it must
// be registered under inside the compositor.
type FontBlob struct {
	Filename string
	Names    []string
	Data     []byte
}

// Compositor is the narrow control surface of the subtitle rasterizer. It
// runs detached: it never reads the player directly, the engine pushes
// presentation time into it. Rasterization internals are opaque.
type Compositor interface {
	SetTrack(content string, fonts []FontBlob) error
	Resize(width, height int)
	SetTime(seconds float64)
	Render()
	Dispose()
}

// CompositorFactory creates one compositor instance sized to the current
// canvas. The factory itself is constructed once per process and reused
// across sessions; only instances come and go.
type CompositorFactory func(width, height int) (Compositor, error)

// SubtitleEngine keeps the overlay canvas geometrically aligned to the
// letterboxed video and drives the compositor's presentation clock. A full
// dispose/reinit is reserved for enable/disable transitions and media
// changes; plain track switches re-point the live compositor instead, since
// disposal tears down the rasterizer worker.
type SubtitleEngine struct {
	Backend       SubtitleBackend
	NewCompositor CompositorFactory
	Logger        *slog.Logger

	// lifecycle serializes the dispose/create/install sequence of Enable and
	// Disable, so two racing Enables can never both install a compositor.
	lifecycle sync.Mutex

	mu           sync.Mutex
	comp         Compositor
	mediaID      domain.MediaID
	trackIndex   int
	streamStart  float64
	manualOffset float64
	geometry     domain.CanvasGeometry
	fonts        []FontBlob
	fontsFor     domain.MediaID
	failed       bool
}

func NewSubtitleEngine(backend SubtitleBackend, factory CompositorFactory, logger *slog.Logger) *SubtitleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubtitleEngine{
		Backend:       backend,
		NewCompositor: factory,
		Logger:        logger,
		trackIndex:    -1,
	}
}

// Enable initializes a compositor for the given media and track. Compositor
// or asset failures disable the feature for this session without affecting
// video playback; Enable reports them as a false return, never as an error
// that could interrupt the player. Any live compositor is disposed first, and
// concurrent Enable/Disable calls are serialized, so two instances never
// share a canvas.
func (e *SubtitleEngine) Enable(ctx context.Context, id domain.MediaID, trackIndex int, streamStartSeconds float64) bool {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.dispose()

	content, fonts, ok := e.loadTrackAssets(ctx, id, trackIndex)
	if !ok {
		return false
	}

	e.mu.Lock()
	width, height := int(e.geometry.Width), int(e.geometry.Height)
	e.mu.Unlock()
	if width <= 0 || height <= 0 {
		// No layout yet; a raster target must still exist so the first
		// resize only scales it.
		width, height = 1, 1
	}

	comp, err := e.NewCompositor(width, height)
	if err != nil {
		metrics.SubtitleCompositorFailures.Inc()
		e.Logger.Warn("subtitles: compositor init failed, overlay disabled",
			slog.String("mediaId", string(id)),
			slog.String("error", err.Error()),
		)
		e.mu.Lock()
		e.failed = true
		e.mu.Unlock()
		return false
	}

	if err := comp.SetTrack(content, fonts); err != nil {
		comp.Dispose()
		metrics.SubtitleCompositorFailures.Inc()
		e.Logger.Warn("subtitles: track load failed, overlay disabled",
			slog.String("mediaId", string(id)),
			slog.Int("trackIndex", trackIndex),
			slog.String("error", err.Error()),
		)
		return false
	}

	e.mu.Lock()
	e.comp = comp
	e.mediaID = id
	e.trackIndex = trackIndex
	e.streamStart = streamStartSeconds
	e.failed = false
	e.mu.Unlock()
	return true
}

// SetTrack switches the subtitle track without tearing the compositor down,
// then forces an immediate render so the overlay never shows the old track.
func (e *SubtitleEngine) SetTrack(ctx context.Context, trackIndex int, localTime float64) bool {
	e.mu.Lock()
	comp := e.comp
	id := e.mediaID
	e.mu.Unlock()
	if comp == nil {
		return false
	}

	content, fonts, ok := e.loadTrackAssets(ctx, id, trackIndex)
	if !ok {
		return false
	}
	if err := comp.SetTrack(content, fonts); err != nil {
		e.Logger.Warn("subtitles: track switch failed",
			slog.String("mediaId", string(id)),
			slog.Int("trackIndex", trackIndex),
			slog.String("error", err.Error()),
		)
		return false
	}

	e.mu.Lock()
	e.trackIndex = trackIndex
	e.mu.Unlock()

	e.ForceRender(localTime)
	return true
}

// Disable disposes the compositor. Safe to call repeatedly.
func (e *SubtitleEngine) Disable() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.dispose()
}

// dispose tears down the live compositor. Caller holds lifecycle.
func (e *SubtitleEngine) dispose() {
	e.mu.Lock()
	comp := e.comp
	e.comp = nil
	e.trackIndex = -1
	e.mu.Unlock()

	if comp != nil {
		comp.Dispose()
	}
}

// Enabled reports whether a compositor is live.
func (e *SubtitleEngine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.comp != nil
}

// TrackIndex returns the active track, or -1 when disabled.
func (e *SubtitleEngine) TrackIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trackIndex
}

// SetStreamStart updates the session's stream start offset, e.g. after a
// seek replaced the session but the media (and compositor) stayed.
func (e *SubtitleEngine) SetStreamStart(seconds float64) {
	e.mu.Lock()
	e.streamStart = seconds
	e.mu.Unlock()
}

// SetManualOffset applies a live sync adjustment and renders immediately,
// even while paused: users dial in the offset by ear after pausing.
func (e *SubtitleEngine) SetManualOffset(seconds, localTime float64) {
	e.mu.Lock()
	e.manualOffset = seconds
	e.mu.Unlock()
	e.ForceRender(localTime)
}

// ManualOffset returns the current manual adjustment.
func (e *SubtitleEngine) ManualOffset() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manualOffset
}

// Resize recomputes the letterboxed content rectangle for the new container
// box and intrinsic video size, and resizes the compositor's raster target to
// match. The geometry is recomputed from scratch every time.
func (e *SubtitleEngine) Resize(containerWidth, containerHeight, videoWidth, videoHeight float64) domain.CanvasGeometry {
	g := domain.FitCanvas(containerWidth, containerHeight, videoWidth, videoHeight)

	e.mu.Lock()
	e.geometry = g
	comp := e.comp
	e.mu.Unlock()

	if comp != nil && g.Width > 0 && g.Height > 0 {
		comp.Resize(int(g.Width), int(g.Height))
	}
	return g
}

// Geometry returns the last computed canvas geometry.
func (e *SubtitleEngine) Geometry() domain.CanvasGeometry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.geometry
}

// Tick pushes the presentation time for one render-loop iteration. Skipped
// unless the video is playing with enough buffered data for the current and
// next frame (readyState >= 3), so rasterization never competes with the
// decoder under buffering pressure.
func (e *SubtitleEngine) Tick(localTime float64, playing bool, readyState int) {
	if !playing || readyState < 3 {
		return
	}
	e.mu.Lock()
	comp := e.comp
	t := localTime + e.streamStart + e.manualOffset
	e.mu.Unlock()

	if comp != nil {
		comp.SetTime(t)
	}
}

// ForceRender renders out-of-band, without waiting for the next loop tick.
// Used on seeks, track switches and offset changes so the overlay never
// shows a stale frame.
func (e *SubtitleEngine) ForceRender(localTime float64) {
	e.mu.Lock()
	comp := e.comp
	t := localTime + e.streamStart + e.manualOffset
	e.mu.Unlock()

	if comp == nil {
		return
	}
	comp.SetTime(t)
	comp.Render()
	metrics.SubtitleRendersTotal.Inc()
}

// loadTrackAssets fetches the subtitle document and, once per media, its font
// manifest. Font download failures are advisory: the compositor falls back to
// its default face.
func (e *SubtitleEngine) loadTrackAssets(ctx context.Context, id domain.MediaID, trackIndex int) (string, []FontBlob, bool) {
	content, err := e.Backend.SubtitleContent(ctx, id, trackIndex)
	if err != nil {
		e.Logger.Warn("subtitles: content fetch failed",
			slog.String("mediaId", string(id)),
			slog.Int("trackIndex", trackIndex),
			slog.String("error", err.Error()),
		)
		return "", nil, false
	}

	e.mu.Lock()
	cached := e.fontsFor == id
	fonts := e.fonts
	e.mu.Unlock()
	if cached {
		return content, fonts, true
	}

	fonts = e.fetchFonts(ctx, id)
	e.mu.Lock()
	e.fonts = fonts
	e.fontsFor = id
	e.mu.Unlock()
	return content, fonts, true
}

func (e *SubtitleEngine) fetchFonts(ctx context.Context, id domain.MediaID) []FontBlob {
	manifest, err := e.Backend.FontManifest(ctx, id)
	if err != nil {
		e.Logger.Debug("subtitles: font manifest fetch failed",
			slog.String("mediaId", string(id)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	blobs := make([]FontBlob, 0, len(manifest))
	for _, asset := range manifest {
		data, err := e.Backend.FontData(ctx, id, asset.Filename)
		if err != nil {
			e.Logger.Debug("subtitles: font fetch failed",
				slog.String("mediaId", string(id)),
				slog.String("filename", asset.Filename),
				slog.String("error", err.Error()),
			)
			continue
		}
		blobs = append(blobs, FontBlob{Filename: asset.Filename, Names: asset.Names, Data: data})
	}
	return blobs
}
