package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "telestream/internal/api/http"
	"telestream/internal/app"
	"telestream/internal/metrics"
	mongorepo "telestream/internal/repository/mongo"
	"telestream/internal/services/backend"
	"telestream/internal/services/session/player"
	"telestream/internal/storage/memory"
	"telestream/internal/telemetry"
	"telestream/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "playback-engine")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "playback-engine"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("backendBaseURL", cfg.BackendBaseURL),
		slog.Duration("proxyTimeout", cfg.ProxyTimeout),
		slog.Duration("poolPollInterval", cfg.PoolPollInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	// Preferences persist in Mongo when configured; otherwise an in-process
	// store carries them for the lifetime of the process.
	var prefsRepo player.PreferenceRepository = memory.NewPreferenceStore()
	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		mongoMonitor := otelmongo.NewMonitor()
		client, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(mongoMonitor))
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		mongoClient = client
		prefsRepo = mongorepo.NewPreferencesRepository(mongoClient, cfg.MongoDatabase)
	} else {
		logger.Info("MONGO_URI not set, preferences held in memory")
	}
	prefs := player.NewPreferencesManager(prefsRepo)

	gateway := backend.New(cfg.BackendBaseURL, cfg.BackendTimeout, logger)

	controllerCfg := usecase.ControllerConfig{
		PoolPollInterval:    cfg.PoolPollInterval,
		ProgressPutInterval: cfg.ProgressPutInterval,
		CountdownSeconds:    cfg.NextEpisodeCountdownSeconds,
		WindowSeconds:       cfg.NextEpisodeWindowSeconds,
	}

	handler := apihttp.NewServer(
		apihttp.WithLogger(logger),
		apihttp.WithPreferences(prefs),
		apihttp.WithPoolBackend(gateway),
		apihttp.WithStreamBackend(cfg.BackendBaseURL, cfg.ProxyTimeout),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithControllerFactory(func(directives usecase.Directives, newCompositor usecase.CompositorFactory) *usecase.Controller {
			return usecase.NewController(gateway, prefs, newCompositor, directives, controllerCfg, logger)
		}),
	)

	// Periodic health pushes to connected players.
	go broadcastHealth(rootCtx, handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Stream relays run for the length of playback.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

func broadcastHealth(ctx context.Context, handler *apihttp.Server) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handler.BroadcastHealth(ctx)
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
