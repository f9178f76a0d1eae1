package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.CompletionMode != "auto" {
		t.Fatalf("CompletionMode = %q, want %q", cfg.CompletionMode, "auto")
	}
	if cfg.TraceExporter != "none" {
		t.Fatalf("TraceExporter = %q, want none", cfg.TraceExporter)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Fatalf("store URLs = %q/%q, want empty defaults", cfg.DatabaseURL, cfg.RedisURL)
	}
	want := DefaultCrossPoll()
	want.CompletionTimeout = cfg.CompletionTimeout
	if cfg.CrossPoll != want {
		t.Fatalf("CrossPoll = %+v, want %+v", cfg.CrossPoll, want)
	}
}

func TestLoadCrossPollEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CROSSPOLL_ENABLED", "false")
	t.Setenv("CROSSPOLL_COOLDOWN", "90s")
	t.Setenv("CROSSPOLL_SUPPRESSION_TURNS", "4")
	t.Setenv("CROSSPOLL_MIN_MESSAGES", "5")
	t.Setenv("COMPLETION_TIMEOUT", "7s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cp := cfg.CrossPoll
	if cp.Enabled || cp.Cooldown != 90*time.Second || cp.SuppressionTurns != 4 || cp.MinMessages != 5 {
		t.Fatalf("CrossPoll = %+v, want env overrides", cp)
	}
	if cp.CompletionTimeout != 7*time.Second {
		t.Fatalf("CompletionTimeout = %s, want 7s", cp.CompletionTimeout)
	}
}

func TestLoadPolicyFileThenEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := []byte("cooldown: 5m\nsuppression_turns: 3\nmin_messages: 4\ncompletion_timeout: 12s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("CROSSPOLL_POLICY_FILE", path)
	t.Setenv("CROSSPOLL_MIN_MESSAGES", "6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cp := cfg.CrossPoll
	if cp.Cooldown != 5*time.Minute || cp.SuppressionTurns != 3 || cp.CompletionTimeout != 12*time.Second {
		t.Fatalf("CrossPoll = %+v, want file values", cp)
	}
	if cp.MinMessages != 6 {
		t.Fatalf("MinMessages = %d, want env value 6", cp.MinMessages)
	}
	if !cp.Enabled {
		t.Fatalf("Enabled = false, want default true when file omits it")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"COMPLETION_MODE":             "magic",
		"CROSSPOLL_MIN_MESSAGES":      "0",
		"CROSSPOLL_SUPPRESSION_TURNS": "-1",
		"CROSSPOLL_COOLDOWN":          "soon",
		"COMPLETION_BURST":            "0",
		"APP_LOG_LEVEL":               "loud",
		"THROTTLE_STATE_TTL":          "10s",
		"CROSSPOLL_POLICY_FILE":       "/nonexistent/policy.yaml",
		"OTEL_TRACES_EXPORTER":        "otlp",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want error for %s=%q", key, value)
			}
		})
	}
}

func TestParsePolicyRejectsBadDuration(t *testing.T) {
	p, err := ParsePolicy([]byte("cooldown: later\n"))
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}
	if _, err := p.Apply(DefaultCrossPoll()); err == nil {
		t.Fatalf("Apply() error = nil, want duration error")
	}
}

func TestParsePolicyCanDisable(t *testing.T) {
	p, err := ParsePolicy([]byte("enabled: false\n"))
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}
	cp, err := p.Apply(DefaultCrossPoll())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if cp.Enabled {
		t.Fatalf("Enabled = true, want false")
	}
	if cp.Cooldown != 3*time.Minute {
		t.Fatalf("Cooldown = %s, want default", cp.Cooldown)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"OTEL_TRACES_EXPORTER",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"DATABASE_URL",
		"REDIS_URL",
		"THROTTLE_STATE_TTL",
		"COMPLETION_MODE",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"COMPLETION_HTTP_URL",
		"COMPLETION_TIMEOUT",
		"COMPLETION_RATE_PER_SEC",
		"COMPLETION_BURST",
		"CROSSPOLL_ENABLED",
		"CROSSPOLL_COOLDOWN",
		"CROSSPOLL_SUPPRESSION_TURNS",
		"CROSSPOLL_MIN_MESSAGES",
		"CROSSPOLL_POLICY_FILE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
