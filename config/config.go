package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"sched-systemv1/internal/rules"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string

	// Live sampling interval in milliseconds.
	ScanIntervalMS int

	// Static schedules (comma-separated compact specs,
	// e.g. "eod|trading-days|before-close|10m,report|every-day|at|18:00@Asia/Kolkata")
	Schedules string

	// Admin auth for mutating control operations. Empty disables auth.
	AdminTOTPSecret string

	// Alerting (all optional)
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/firings.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		ScanIntervalMS: getEnvInt("SCAN_INTERVAL_MS", 250),

		Schedules: getEnv("SCHEDULES", "eod-sweep|trading-days|before-close|10m"),

		AdminTOTPSecret: getEnv("ADMIN_TOTP_SECRET", ""),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// ScanInterval returns the live sampling interval as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMS) * time.Millisecond
}

// ParseSchedules parses the Schedules string into validated specs.
// Invalid entries are logged and skipped so one bad spec never takes the
// daemon down.
func (c *Config) ParseSchedules() []rules.Spec {
	parts := strings.Split(c.Schedules, ",")
	specs := make([]rules.Spec, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		spec, err := rules.ParseCompact(p)
		if err != nil {
			log.Printf("[config] skipping invalid schedule: %v", err)
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
