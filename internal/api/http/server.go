package apihttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"telestream/internal/usecase"
)

// ControllerFactory builds one playback controller per connected player. The
// server supplies the player's directive channel and a compositor factory
// bound to the same socket.
type ControllerFactory func(directives usecase.Directives, newCompositor usecase.CompositorFactory) *usecase.Controller

type Server struct {
	prefs          usecase.PreferenceStore
	pool           usecase.PoolBackend
	newController  ControllerFactory
	proxy          *streamProxy
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

// WithPreferences wires the store behind GET/PUT /preferences/{mediaId}.
func WithPreferences(store usecase.PreferenceStore) ServerOption {
	return func(s *Server) {
		s.prefs = store
	}
}

// WithPoolBackend wires the backend pool snapshot into the health endpoint.
func WithPoolBackend(pool usecase.PoolBackend) ServerOption {
	return func(s *Server) {
		s.pool = pool
	}
}

// WithControllerFactory enables the player websocket endpoint.
func WithControllerFactory(factory ControllerFactory) ServerOption {
	return func(s *Server) {
		s.newController = factory
	}
}

// WithStreamBackend enables the edge stream proxy against the given backend
// base URL.
func WithStreamBackend(baseURL string, timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.proxy = newStreamProxy(baseURL, timeout, s.logger)
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if s.proxy != nil {
		// Option order must not matter: rebind to the final logger.
		s.proxy.logger = s.logger
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/stream/", s.handleStream)
	mux.HandleFunc("/preferences/", s.handlePreferencesByID)
	mux.HandleFunc("/internal/health/player", s.handlePlayerHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/player", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "playback-engine",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/internal/health/player" && p != "/ws/player"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close shuts the WebSocket hub down, disconnecting all players. In-flight
// proxy requests drain through the http.Server's own shutdown.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
