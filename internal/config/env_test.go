package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadEnvConfigDefaults(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig with empty environment: %v", err)
	}
	if cfg.GlobalConcurrency != 10 {
		t.Fatalf("expected default concurrency 10, got %d", cfg.GlobalConcurrency)
	}
	if cfg.GlobalRPS != 0 {
		t.Fatalf("expected global rps disabled, got %d", cfg.GlobalRPS)
	}
	if cfg.TickSeconds != 10 {
		t.Fatalf("expected default tick 10s, got %d", cfg.TickSeconds)
	}
	if cfg.HTTPMaxConcurrent != 5 {
		t.Fatalf("expected default prober concurrency 5, got %d", cfg.HTTPMaxConcurrent)
	}
	if cfg.ConnectTimeout != 3*time.Second {
		t.Fatalf("expected default connect timeout 3s, got %s", cfg.ConnectTimeout)
	}
	if !cfg.SSLVerify || !cfg.SSLInsecureRetry {
		t.Fatal("TLS verification and insecure retry default on")
	}
	if cfg.DBPath != "./pingtower.db" {
		t.Fatalf("unexpected default db path %q", cfg.DBPath)
	}
	if cfg.TTLCleanupHours != 720 {
		t.Fatalf("expected default retention 720h, got %d", cfg.TTLCleanupHours)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Fatalf("unexpected default metrics addr %q", cfg.MetricsAddr)
	}
	if cfg.UserAgent == "" {
		t.Fatal("expected a default user agent")
	}
}

func TestLoadEnvConfigOverrides(t *testing.T) {
	t.Setenv("GLOBAL_CONCURRENCY", "20")
	t.Setenv("GLOBAL_RPS", "50")
	t.Setenv("CHECK_TICK_SEC", "30")
	t.Setenv("HTTP_RETRY_ATTEMPTS", "3")
	t.Setenv("HTTP_RETRY_BASE_MS", "400")
	t.Setenv("HTTP_SSL_VERIFY", "false")
	t.Setenv("SINK_FLUSH_INTERVAL", "2s")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	if cfg.GlobalConcurrency != 20 || cfg.GlobalRPS != 50 || cfg.TickSeconds != 30 {
		t.Fatalf("scheduler overrides not applied: %+v", cfg)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryBaseBackoff != 400*time.Millisecond {
		t.Fatalf("retry overrides not applied: %+v", cfg)
	}
	if cfg.SSLVerify {
		t.Fatal("expected TLS verification off")
	}
	if cfg.SinkFlushInterval != 2*time.Second {
		t.Fatalf("expected flush interval 2s, got %s", cfg.SinkFlushInterval)
	}
}

func TestLoadEnvConfigClamps(t *testing.T) {
	t.Setenv("GLOBAL_CONCURRENCY", "0")
	t.Setenv("CHECK_TICK_SEC", "0")
	t.Setenv("HTTP_RETRY_ATTEMPTS", "0")
	t.Setenv("HTTP_RETRY_BASE_MS", "10")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	if cfg.GlobalConcurrency != 1 {
		t.Fatalf("expected concurrency clamped to 1, got %d", cfg.GlobalConcurrency)
	}
	if cfg.TickSeconds != 1 {
		t.Fatalf("expected tick clamped to 1, got %d", cfg.TickSeconds)
	}
	if cfg.RetryAttempts != 1 {
		t.Fatalf("expected attempts clamped to 1, got %d", cfg.RetryAttempts)
	}
	if cfg.RetryBaseBackoff != 50*time.Millisecond {
		t.Fatalf("expected base backoff clamped to 50ms, got %s", cfg.RetryBaseBackoff)
	}
}

func TestLoadEnvConfigInvalidInt(t *testing.T) {
	t.Setenv("GLOBAL_CONCURRENCY", "lots")
	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for non-integer value")
	}
	if !strings.Contains(err.Error(), "GLOBAL_CONCURRENCY") {
		t.Fatalf("error should name the variable: %v", err)
	}
}

func TestLoadEnvConfigCollectsAllErrors(t *testing.T) {
	t.Setenv("HTTP_MAX_CONCURRENT", "-1")
	t.Setenv("TTL_CLEANUP_HOURS", "-5")
	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, name := range []string{"HTTP_MAX_CONCURRENT", "TTL_CLEANUP_HOURS"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error should mention %s: %v", name, err)
		}
	}
}

func TestLoadEnvConfigInvalidUserAgent(t *testing.T) {
	t.Setenv("HTTP_USER_AGENT", "bad\nagent")
	if _, err := LoadEnvConfig(); err == nil {
		t.Fatal("expected error for invalid header value")
	}
}

func TestLoadEnvConfigInvalidCronSchedule(t *testing.T) {
	t.Setenv("TTL_CLEANUP_SCHEDULE", "not a cron line")
	if _, err := LoadEnvConfig(); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestLoadEnvConfigTelegramPair(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	if _, err := LoadEnvConfig(); err == nil {
		t.Fatal("expected error when chat id is missing")
	}

	t.Setenv("TELEGRAM_CHAT_ID", "-100200")
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig with full telegram pair: %v", err)
	}
	if cfg.TelegramBotToken != "123:abc" || cfg.TelegramChatID != "-100200" {
		t.Fatalf("telegram settings not applied: %+v", cfg)
	}
}
