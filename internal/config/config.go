package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the discussion service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	TraceExporter string
	OTLPEndpoint  string

	AllowAnyOrigin bool

	DatabaseURL      string
	RedisURL         string
	ThrottleStateTTL time.Duration

	CompletionMode       string
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	CompletionHTTPURL    string
	CompletionTimeout    time.Duration
	CompletionRatePerSec float64
	CompletionBurst      int

	PolicyFile string
	CrossPoll  CrossPoll
}

// CrossPoll holds the cross-pollination policy magnitudes.
type CrossPoll struct {
	Enabled           bool
	Cooldown          time.Duration
	SuppressionTurns  int
	MinMessages       int
	CompletionTimeout time.Duration
}

func DefaultCrossPoll() CrossPoll {
	return CrossPoll{
		Enabled:           true,
		Cooldown:          3 * time.Minute,
		SuppressionTurns:  2,
		MinMessages:       3,
		CompletionTimeout: 20 * time.Second,
	}
}

// Load reads environment variables and applies safe defaults. A policy file
// named by CROSSPOLL_POLICY_FILE is applied before the CROSSPOLL_* variables,
// so the environment wins.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "agora"),
		LogLevel:          envOrDefault("APP_LOG_LEVEL", "info"),
		TraceExporter:     envOrDefault("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint:      stringsTrimSpace("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AllowAnyOrigin:    false,
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		RedisURL:          stringsTrimSpace("REDIS_URL"),
		ThrottleStateTTL:  2 * time.Hour,
		CompletionMode:    envOrDefault("COMPLETION_MODE", "auto"),
		OpenAIAPIKey:      stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:     stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:       stringsTrimSpace("OPENAI_MODEL"),
		CompletionHTTPURL: stringsTrimSpace("COMPLETION_HTTP_URL"),
		CompletionTimeout: 20 * time.Second,
		CompletionBurst:   1,
		PolicyFile:        stringsTrimSpace("CROSSPOLL_POLICY_FILE"),
		ShutdownTimeout:   15 * time.Second,
		CrossPoll:         DefaultCrossPoll(),
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ThrottleStateTTL, err = durationFromEnv("THROTTLE_STATE_TTL", cfg.ThrottleStateTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionRatePerSec, err = floatFromEnv("COMPLETION_RATE_PER_SEC", cfg.CompletionRatePerSec)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionBurst, err = intFromEnv("COMPLETION_BURST", cfg.CompletionBurst)
	if err != nil {
		return Config{}, err
	}

	// The policy call timeout follows COMPLETION_TIMEOUT unless overridden.
	cfg.CrossPoll.CompletionTimeout = cfg.CompletionTimeout
	if cfg.PolicyFile != "" {
		file, err := LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return Config{}, err
		}
		cfg.CrossPoll, err = file.Apply(cfg.CrossPoll)
		if err != nil {
			return Config{}, err
		}
	}

	cp := &cfg.CrossPoll
	cp.Enabled, err = boolFromEnv("CROSSPOLL_ENABLED", cp.Enabled)
	if err != nil {
		return Config{}, err
	}
	cp.Cooldown, err = durationFromEnv("CROSSPOLL_COOLDOWN", cp.Cooldown)
	if err != nil {
		return Config{}, err
	}
	cp.SuppressionTurns, err = intFromEnv("CROSSPOLL_SUPPRESSION_TURNS", cp.SuppressionTurns)
	if err != nil {
		return Config{}, err
	}
	cp.MinMessages, err = intFromEnv("CROSSPOLL_MIN_MESSAGES", cp.MinMessages)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.CompletionMode) {
	case "auto", "openai", "http", "mock":
	default:
		return fmt.Errorf("COMPLETION_MODE must be one of auto|openai|http|mock, got %q", c.CompletionMode)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("APP_LOG_LEVEL must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	switch strings.ToLower(c.TraceExporter) {
	case "none", "stdout":
	case "otlp":
		if c.OTLPEndpoint == "" {
			return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_TRACES_EXPORTER=otlp")
		}
	default:
		return fmt.Errorf("OTEL_TRACES_EXPORTER must be one of none|stdout|otlp, got %q", c.TraceExporter)
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT must be positive")
	}
	if c.CompletionRatePerSec < 0 {
		return fmt.Errorf("COMPLETION_RATE_PER_SEC must be >= 0")
	}
	if c.CompletionBurst <= 0 {
		return fmt.Errorf("COMPLETION_BURST must be positive")
	}
	if c.ThrottleStateTTL < time.Minute {
		return fmt.Errorf("THROTTLE_STATE_TTL must be at least 1m")
	}
	if c.CrossPoll.Cooldown < 0 {
		return fmt.Errorf("CROSSPOLL_COOLDOWN must be >= 0")
	}
	if c.CrossPoll.SuppressionTurns < 0 {
		return fmt.Errorf("CROSSPOLL_SUPPRESSION_TURNS must be >= 0")
	}
	if c.CrossPoll.MinMessages <= 0 {
		return fmt.Errorf("CROSSPOLL_MIN_MESSAGES must be positive")
	}
	if c.CrossPoll.CompletionTimeout <= 0 {
		return fmt.Errorf("completion_timeout must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
