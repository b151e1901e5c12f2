// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/net/http/httpguts"
)

// EnvConfig holds all environment-variable-driven settings, loaded once at
// startup. None of these are hot-updatable.
type EnvConfig struct {
	// Scheduler
	GlobalConcurrency int
	GlobalRPS         int // 0 = no global rate cap
	TickSeconds       int
	DrainTimeout      time.Duration
	ServiceLimits     []LimitRule

	// Prober
	HTTPMaxConcurrent  int
	ConnectTimeout     time.Duration
	UserAgent          string
	RetryAttempts      int
	RetryBaseBackoff   time.Duration
	RetryJitter        time.Duration
	SSLVerify          bool
	CABundlePath       string
	SSLInsecureRetry   bool

	// Store
	DBPath             string
	TTLCleanupHours    int
	TTLCleanupSchedule string // optional cron expression; "" = tick-driven only

	// Ops
	MetricsAddr string

	// Secondary sink
	SinkURL           string
	SinkQueueSize     int
	SinkFlushBatch    int
	SinkFlushInterval time.Duration

	// Notifier channels
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
	SlackWebhookURL  string
}

const defaultUserAgent = "PingTower/1.0 (+https://github.com/pingtower/pingtower)"

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid. An invalid SERVICE_LIMITS_JSON is
// logged inside ParseServiceLimits and treated as empty, not an error.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Scheduler ---
	cfg.GlobalConcurrency = envInt("GLOBAL_CONCURRENCY", 10, &errs)
	cfg.GlobalRPS = envInt("GLOBAL_RPS", 0, &errs)
	cfg.TickSeconds = envInt("CHECK_TICK_SEC", 10, &errs)
	cfg.DrainTimeout = time.Duration(envInt("DRAIN_TIMEOUT_S", 5, &errs)) * time.Second
	cfg.ServiceLimits = ParseServiceLimits(os.Getenv("SERVICE_LIMITS_JSON"))

	// --- Prober ---
	cfg.HTTPMaxConcurrent = envInt("HTTP_MAX_CONCURRENT", 5, &errs)
	cfg.ConnectTimeout = time.Duration(envInt("HTTP_CONNECT_TIMEOUT_S", 3, &errs)) * time.Second
	cfg.UserAgent = envStr("HTTP_USER_AGENT", defaultUserAgent)
	cfg.RetryAttempts = envInt("HTTP_RETRY_ATTEMPTS", 1, &errs)
	cfg.RetryBaseBackoff = time.Duration(envInt("HTTP_RETRY_BASE_MS", 200, &errs)) * time.Millisecond
	cfg.RetryJitter = time.Duration(envInt("HTTP_RETRY_JITTER_MS", 100, &errs)) * time.Millisecond
	cfg.SSLVerify = envBool("HTTP_SSL_VERIFY", true)
	cfg.CABundlePath = envStr("HTTP_CA_BUNDLE", "")
	cfg.SSLInsecureRetry = envBool("HTTP_SSL_INSECURE_RETRY", true)

	// --- Store ---
	cfg.DBPath = envStr("PINGTOWER_DB_PATH", "./pingtower.db")
	cfg.TTLCleanupHours = envInt("TTL_CLEANUP_HOURS", 720, &errs)
	cfg.TTLCleanupSchedule = strings.TrimSpace(envStr("TTL_CLEANUP_SCHEDULE", ""))

	// --- Ops ---
	cfg.MetricsAddr = envStr("METRICS_ADDR", ":9090")

	// --- Secondary sink ---
	cfg.SinkURL = strings.TrimSpace(envStr("SINK_URL", ""))
	cfg.SinkQueueSize = envInt("SINK_QUEUE_SIZE", 4096, &errs)
	cfg.SinkFlushBatch = envInt("SINK_FLUSH_BATCH", 256, &errs)
	cfg.SinkFlushInterval = envDuration("SINK_FLUSH_INTERVAL", 5*time.Second, &errs)

	// --- Notifier channels ---
	cfg.TelegramBotToken = envStr("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = envStr("TELEGRAM_CHAT_ID", "")
	cfg.WebhookURL = envStr("WEBHOOK_URL", "")
	cfg.SlackWebhookURL = envStr("SLACK_WEBHOOK_URL", "")

	// --- Clamps (documented minimums, not errors) ---
	if cfg.GlobalConcurrency < 1 {
		cfg.GlobalConcurrency = 1
	}
	if cfg.GlobalRPS < 0 {
		cfg.GlobalRPS = 0
	}
	if cfg.TickSeconds < 1 {
		cfg.TickSeconds = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseBackoff < 50*time.Millisecond {
		cfg.RetryBaseBackoff = 50 * time.Millisecond
	}
	if cfg.RetryJitter < 0 {
		cfg.RetryJitter = 0
	}

	// --- Validation ---
	validatePositive("HTTP_MAX_CONCURRENT", cfg.HTTPMaxConcurrent, &errs)
	validatePositive("HTTP_CONNECT_TIMEOUT_S", int(cfg.ConnectTimeout/time.Second), &errs)
	validatePositive("TTL_CLEANUP_HOURS", cfg.TTLCleanupHours, &errs)
	validatePositive("SINK_QUEUE_SIZE", cfg.SinkQueueSize, &errs)
	validatePositive("SINK_FLUSH_BATCH", cfg.SinkFlushBatch, &errs)
	if cfg.SinkFlushInterval <= 0 {
		errs = append(errs, "SINK_FLUSH_INTERVAL must be positive")
	}
	if cfg.DrainTimeout <= 0 {
		errs = append(errs, "DRAIN_TIMEOUT_S must be positive")
	}
	if cfg.DBPath == "" {
		errs = append(errs, "PINGTOWER_DB_PATH must not be empty")
	}
	if cfg.MetricsAddr == "" {
		errs = append(errs, "METRICS_ADDR must not be empty")
	}
	if cfg.UserAgent == "" || !httpguts.ValidHeaderFieldValue(cfg.UserAgent) {
		errs = append(errs, fmt.Sprintf("HTTP_USER_AGENT: invalid header value %q", cfg.UserAgent))
	}
	if cfg.TTLCleanupSchedule != "" {
		if _, err := cron.ParseStandard(cfg.TTLCleanupSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("TTL_CLEANUP_SCHEDULE: invalid cron expression %q: %v", cfg.TTLCleanupSchedule, err))
		}
	}
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == "") {
		errs = append(errs, "TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	switch v {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
