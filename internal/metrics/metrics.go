package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "playback",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActivePlaybackSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playback",
		Name:      "active_sessions",
		Help:      "Number of currently connected playback sessions.",
	})

	SessionProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "session_probes_total",
		Help:      "Total stream-start probes by outcome (headers, fallback, stale).",
	}, []string{"outcome"})

	SyncTransitionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "sync_transitions_total",
		Help:      "Total transitions from muted-waiting to synced-playing.",
	})

	ProxyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "proxy_requests_total",
		Help:      "Total stream proxy requests by method and status code.",
	}, []string{"method", "status"})

	ProxyRelayedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "proxy_relayed_bytes_total",
		Help:      "Total stream bytes relayed from the backend to clients.",
	})

	ProxyClientCancelsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "proxy_client_cancels_total",
		Help:      "Total stream proxy requests abandoned by the client.",
	})

	ProxyUpstreamFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "proxy_upstream_failures_total",
		Help:      "Total stream proxy requests that failed upstream.",
	})

	PoolPressure = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playback",
		Name:      "pool_pressure",
		Help:      "Fraction of backend client pool capacity in use (last poll).",
	})

	PoolWarningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "pool_warnings_total",
		Help:      "Total pool advisory warnings raised, by level.",
	}, []string{"level"})

	SubtitleRendersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "subtitle_renders_total",
		Help:      "Total out-of-band subtitle renders forced by seeks, track switches and offset changes.",
	})

	SubtitleCompositorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "subtitle_compositor_failures_total",
		Help:      "Total subtitle compositor initialization failures.",
	})

	NextEpisodeFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "next_episode_fired_total",
		Help:      "Total auto-triggered next-episode transitions.",
	})

	ProgressUpsertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "progress_upserts_total",
		Help:      "Total watch-progress upserts relayed to the backend.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActivePlaybackSessions,
		SessionProbesTotal,
		SyncTransitionsTotal,
		ProxyRequestsTotal,
		ProxyRelayedBytes,
		ProxyClientCancelsTotal,
		ProxyUpstreamFailuresTotal,
		PoolPressure,
		PoolWarningsTotal,
		SubtitleRendersTotal,
		SubtitleCompositorFailures,
		NextEpisodeFiredTotal,
		ProgressUpsertsTotal,
	)
}
