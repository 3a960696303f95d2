// Package config provides engine configuration loaded from environment
// variables with defaults and validation. It centralizes backend endpoints,
// cache location, reconciliation tuning, rate limiting, logging, and
// observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-thread-sync")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the engine.
type Config struct {
	// Backend endpoints
	BackendURL string // http(s)://host[:port] of the managed backend
	WSURL      string // ws(s)://host[:port] of the change feed; derived from BackendURL when empty
	APIKey     string // optional X-API-Key credential

	// Reconciliation tuning
	PageSize        int           // historical fetch page size
	PendingTimeout  time.Duration // optimistic mutation deadline
	MaxContentRunes int           // create content cap; 0 disables
	FetchTries      int           // attempts per page fetch

	// Offline cache
	CachePath string // SQLite path; "" disables persistence

	// Mutation throttle (client-side token bucket)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the environment (optionally seeded from a
// dotenv file named by ENV_FILE), applies defaults, normalizes values, and
// validates the result.
func Load() (Config, error) {
	if f := os.Getenv("ENV_FILE"); f != "" {
		if err := godotenv.Load(f); err != nil {
			return Config{}, errors.New("ENV_FILE points to an unreadable dotenv file")
		}
	}

	cfg := Config{
		// Backend
		BackendURL: strings.TrimRight(getenv("BACKEND_URL", "http://localhost:8080"), "/"),
		WSURL:      strings.TrimRight(getenv("WS_URL", ""), "/"),
		APIKey:     getenv("API_KEY", ""),

		// Reconciliation
		PageSize:        getint("PAGE_SIZE", 20),
		PendingTimeout:  getdur("PENDING_TIMEOUT", 30*time.Second),
		MaxContentRunes: getint("MAX_CONTENT_RUNES", 4000),
		FetchTries:      getint("FETCH_TRIES", 4),

		// Cache
		CachePath: getenv("CACHE_PATH", "threads.db"),

		// Throttle
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-thread-sync"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(cfg.BackendURL)
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.BackendURL) == "" {
		return cfg, errors.New("BACKEND_URL must not be empty")
	}
	if !strings.HasPrefix(cfg.BackendURL, "http://") && !strings.HasPrefix(cfg.BackendURL, "https://") {
		return cfg, errors.New("BACKEND_URL must be an http(s) URL")
	}
	if !strings.HasPrefix(cfg.WSURL, "ws://") && !strings.HasPrefix(cfg.WSURL, "wss://") {
		return cfg, errors.New("WS_URL must be a ws(s) URL")
	}
	if cfg.PageSize < 1 {
		return cfg, errors.New("PAGE_SIZE must be >= 1")
	}
	if cfg.PendingTimeout <= 0 {
		return cfg, errors.New("PENDING_TIMEOUT must be a positive duration")
	}
	if cfg.MaxContentRunes < 0 {
		return cfg, errors.New("MAX_CONTENT_RUNES must be >= 0")
	}
	if cfg.FetchTries < 1 {
		return cfg, errors.New("FETCH_TRIES must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// deriveWSURL maps the REST origin onto the websocket scheme.
func deriveWSURL(backendURL string) string {
	switch {
	case strings.HasPrefix(backendURL, "https://"):
		return "wss://" + strings.TrimPrefix(backendURL, "https://")
	case strings.HasPrefix(backendURL, "http://"):
		return "ws://" + strings.TrimPrefix(backendURL, "http://")
	default:
		return backendURL
	}
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
