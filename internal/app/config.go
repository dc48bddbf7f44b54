package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr      string
	MongoURI      string // empty = preferences held in memory only
	MongoDatabase string
	LogLevel      string
	LogFormat     string

	BackendBaseURL string
	BackendTimeout time.Duration // warm-up, probe and advisory calls
	ProxyTimeout   time.Duration // stream relay upper bound, covers slow upstream probes

	PoolPollInterval    time.Duration
	ProgressPutInterval time.Duration

	NextEpisodeCountdownSeconds int
	NextEpisodeWindowSeconds    float64

	CORSAllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getEnv("MONGO_DB", "telestream"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "text")),

		BackendBaseURL: strings.TrimRight(getEnv("BACKEND_BASE_URL", "http://localhost:9000"), "/"),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT_SECONDS", 10*time.Second),
		ProxyTimeout:   getEnvDuration("PROXY_TIMEOUT_SECONDS", 45*time.Second),

		PoolPollInterval:    getEnvDuration("POOL_POLL_INTERVAL_SECONDS", 15*time.Second),
		ProgressPutInterval: getEnvDuration("PROGRESS_PUT_INTERVAL_SECONDS", 5*time.Second),

		NextEpisodeCountdownSeconds: int(getEnvInt64("NEXT_EPISODE_COUNTDOWN_SECONDS", 30)),
		NextEpisodeWindowSeconds:    float64(getEnvInt64("NEXT_EPISODE_WINDOW_SECONDS", 60)),

		CORSAllowedOrigins: parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration reads a whole number of seconds; zero keeps the fallback so
// a misconfigured interval can never disable a loop outright.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	seconds := getEnvInt64(key, 0)
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func parseCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
