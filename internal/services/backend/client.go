package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"telestream/internal/domain"
	"telestream/internal/usecase"
)

// Response headers announcing where the backend actually began serving from.
// Present only when seeking a non-zero offset on a seekable stream.
const (
	HeaderStreamStartTime = "X-Stream-Start-Time"
	HeaderRequestedTime   = "X-Requested-Time"
)

// Client talks to the media backend: stream negotiation, cache warm-up,
// advisory status and per-media assets. All calls are bounded by the
// configured timeout; callers decide which failures are fatal.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// StreamURL builds the playable URL for a media item. Pure and deterministic:
// the same inputs always yield the same URL.
func (c *Client) StreamURL(id domain.MediaID, audioTrackIndex int, seekSeconds float64) string {
	q := url.Values{}
	q.Set("audio", strconv.Itoa(audioTrackIndex))
	q.Set("seek", strconv.FormatFloat(seekSeconds, 'f', 3, 64))
	return fmt.Sprintf("%s/stream/%s?%s", c.baseURL, url.PathEscape(string(id)), q.Encode())
}

// Warm asks the backend to pre-open its file handle for the media item so the
// first byte arrives faster. Idempotent on the backend side.
func (c *Client) Warm(ctx context.Context, id domain.MediaID) error {
	return c.post(ctx, fmt.Sprintf("%s/cache/warm/%s", c.baseURL, url.PathEscape(string(id))))
}

// Release tells the backend the stream is no longer needed. Idempotent,
// best-effort on navigation and unload.
func (c *Client) Release(ctx context.Context, id domain.MediaID) error {
	return c.post(ctx, fmt.Sprintf("%s/stream/%s/release", c.baseURL, url.PathEscape(string(id))))
}

// ProbeStreamStart issues a HEAD against the playable URL and reads the
// stream-start and requested-time headers. HeadersPresent is false when the
// stream is not seekable and the backend sent no timing headers.
func (c *Client) ProbeStreamStart(ctx context.Context, streamURL string) (usecase.ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, streamURL, nil)
	if err != nil {
		return usecase.ProbeResult{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return usecase.ProbeResult{}, err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 400 {
		return usecase.ProbeResult{}, fmt.Errorf("probe: backend returned %d", resp.StatusCode)
	}

	start, startErr := strconv.ParseFloat(resp.Header.Get(HeaderStreamStartTime), 64)
	requested, reqErr := strconv.ParseFloat(resp.Header.Get(HeaderRequestedTime), 64)
	if startErr != nil || reqErr != nil {
		return usecase.ProbeResult{HeadersPresent: false}, nil
	}
	return usecase.ProbeResult{
		StreamStartSeconds: start,
		RequestedSeconds:   requested,
		HeadersPresent:     true,
	}, nil
}

// PoolStatus fetches the backend's upstream client pool snapshot. Lightweight,
// no session required.
func (c *Client) PoolStatus(ctx context.Context) (domain.PoolStatus, error) {
	var status domain.PoolStatus
	if err := c.getJSON(ctx, fmt.Sprintf("%s/status/pool", c.baseURL), &status); err != nil {
		return domain.PoolStatus{}, err
	}
	return status, nil
}

// SubtitleContent fetches one subtitle document as text. Content is delivered
// by value rather than by URL so the compositor's worker never performs
// cross-origin fetches itself.
func (c *Client) SubtitleContent(ctx context.Context, id domain.MediaID, streamIndex int) (string, error) {
	u := fmt.Sprintf("%s/subtitles/%s/%d", c.baseURL, url.PathEscape(string(id)), streamIndex)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", domain.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("subtitles: backend returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FontManifest lists the font files a media item's subtitles reference, with
// the internal family names each file must be registered under.
func (c *Client) FontManifest(ctx context.Context, id domain.MediaID) ([]domain.FontAsset, error) {
	var assets []domain.FontAsset
	u := fmt.Sprintf("%s/fonts/%s", c.baseURL, url.PathEscape(string(id)))
	if err := c.getJSON(ctx, u, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// FontData downloads one font file from the manifest.
func (c *Client) FontData(ctx context.Context, id domain.MediaID, filename string) ([]byte, error) {
	u := fmt.Sprintf("%s/fonts/%s/%s", c.baseURL, url.PathEscape(string(id)), url.PathEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("font %q: backend returned %d", filename, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// NextEpisode looks up the episode following the given one. Returns nil
// without error when there is no follow-up.
func (c *Client) NextEpisode(ctx context.Context, id domain.MediaID) (*domain.NextEpisodeCandidate, error) {
	u := fmt.Sprintf("%s/next-episode/%s", c.baseURL, url.PathEscape(string(id)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("next-episode: backend returned %d", resp.StatusCode)
	}

	var candidate domain.NextEpisodeCandidate
	if err := json.NewDecoder(resp.Body).Decode(&candidate); err != nil {
		return nil, err
	}
	if candidate.ID == "" {
		return nil, nil
	}
	return &candidate, nil
}

// PutProgress upserts the watch position. Idempotent; callers fire and forget.
func (c *Client) PutProgress(ctx context.Context, wp domain.WatchProgress) error {
	body, err := json.Marshal(wp)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/watch-progress", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("watch-progress: backend returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// drainAndClose empties the body so the underlying connection is reusable.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4<<10))
	_ = body.Close()
}
