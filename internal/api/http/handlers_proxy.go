package apihttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"telestream/internal/metrics"
)

// statusClientClosedRequest is the nginx convention for "the client went away
// before the response completed". Not an error: seeks and track changes abort
// the previous stream request by design of the player protocol.
const statusClientClosedRequest = 499

const (
	defaultProxyTimeout = 45 * time.Second
	relayChunkSize      = 64 * 1024
)

// streamProxy relays media bytes from the stream backend to the player. The
// upstream request lives under the inbound request's context, so a client
// disconnect (seek, track change, tab close) tears the upstream transfer down
// immediately and frees the backend's pooled client.
type streamProxy struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func newStreamProxy(baseURL string, timeout time.Duration, logger *slog.Logger) *streamProxy {
	return &streamProxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client-level timeout: bodies stream for the length of playback.
		// Cancellation comes from the request context instead.
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: timeout,
		logger:  logger,
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.proxy == nil {
		writeError(w, http.StatusServiceUnavailable, "proxy_unavailable", "stream backend not configured")
		return
	}

	mediaID := strings.TrimPrefix(r.URL.Path, "/stream/")
	if mediaID == "" || strings.Contains(mediaID, "/") {
		writeError(w, http.StatusNotFound, "not_found", "media not found")
		return
	}

	s.proxy.serve(w, r, mediaID)
}

func (p *streamProxy) serve(w http.ResponseWriter, r *http.Request, mediaID string) {
	timeout := p.timeout
	if timeout <= 0 {
		timeout = defaultProxyTimeout
	}
	// Combined cancellation: whichever of client disconnect and upstream
	// timeout happens first wins.
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	target := p.baseURL + "/stream/" + url.PathEscape(mediaID)
	if raw := r.URL.RawQuery; raw != "" {
		target += "?" + raw
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, nil)
	if err != nil {
		p.finish(r, http.StatusBadGateway)
		writeError(w, http.StatusBadGateway, "upstream_unreachable", "failed to build upstream request")
		return
	}
	// Only the headers the backend needs cross the boundary; cookies and the
	// rest of the browser's baggage stay on this side.
	if v := r.Header.Get("Range"); v != "" {
		req.Header.Set("Range", v)
	}
	if v := r.Header.Get("Authorization"); v != "" {
		req.Header.Set("Authorization", v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.dialFailed(w, r, mediaID, err)
		return
	}
	defer resp.Body.Close()

	copyStreamHeaders(w.Header(), resp.Header)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Accel-Buffering", "no")

	status := resp.StatusCode
	if r.Method == http.MethodGet && status == http.StatusOK && resp.ContentLength == 0 {
		// The backend answered before producing any bytes; an empty 200 would
		// wedge the player in a loading loop.
		status = http.StatusNoContent
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead || status == http.StatusNoContent {
		p.finish(r, status)
		return
	}

	written, relayErr := relayBody(w, resp.Body)
	metrics.ProxyRelayedBytes.Add(float64(written))
	if relayErr != nil {
		if r.Context().Err() != nil {
			metrics.ProxyClientCancelsTotal.Inc()
			p.logger.Debug("proxy: client went away mid-stream",
				slog.String("mediaId", mediaID),
				slog.Int64("relayedBytes", written),
			)
		} else {
			metrics.ProxyUpstreamFailuresTotal.Inc()
			p.logger.Warn("proxy: relay interrupted",
				slog.String("mediaId", mediaID),
				slog.Int64("relayedBytes", written),
				slog.String("error", relayErr.Error()),
			)
		}
	}
	p.finish(r, status)
}

// dialFailed classifies a failure to obtain any upstream response.
func (p *streamProxy) dialFailed(w http.ResponseWriter, r *http.Request, mediaID string, err error) {
	switch {
	case r.Context().Err() != nil:
		metrics.ProxyClientCancelsTotal.Inc()
		p.logger.Debug("proxy: client cancelled before upstream answered",
			slog.String("mediaId", mediaID),
		)
		w.WriteHeader(statusClientClosedRequest)
		p.finish(r, statusClientClosedRequest)
	case errors.Is(err, context.DeadlineExceeded):
		metrics.ProxyUpstreamFailuresTotal.Inc()
		p.logger.Warn("proxy: upstream timed out", slog.String("mediaId", mediaID))
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout", "stream backend timed out")
		p.finish(r, http.StatusGatewayTimeout)
	default:
		metrics.ProxyUpstreamFailuresTotal.Inc()
		p.logger.Warn("proxy: upstream request failed",
			slog.String("mediaId", mediaID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "upstream_unreachable", "stream backend unreachable")
		p.finish(r, http.StatusBadGateway)
	}
}

func (p *streamProxy) finish(r *http.Request, status int) {
	metrics.ProxyRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
}

// relayBody pumps the upstream body to the player in chunks, flushing each
// one so the decoder sees bytes as soon as they exist.
func relayBody(w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, relayChunkSize)
	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			return written, readErr
		}
	}
}

// streamHeaders are the upstream response headers forwarded to the player.
var streamHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"X-Stream-Start-Time",
	"X-Requested-Time",
}

func copyStreamHeaders(dst, src http.Header) {
	for _, name := range streamHeaders {
		if v := src.Get(name); v != "" {
			dst.Set(name, v)
		}
	}
}
