package config

import (
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	DatabaseURL string // DATABASE_URL — sqlite file path, "sqlite://...", or "postgres://..." (default: "reviews.db")
	Port        string // PORT — ops HTTP surface (/metrics, /healthz) listen port (default: "8000")

	YandexProxies []string // YANDEX_PROXIES — comma-separated proxy URLs the HTTP client rotates through

	CaptchaAPIKey string // CAPTCHA_API_KEY — rucaptcha-compatible solver API key (required to solve challenges)
	CaptchaAPIURL string // CAPTCHA_API_URL — solver base URL (default: https://rucaptcha.com)

	// Tunable performance constants (all have sensible defaults; rarely need changing).
	GlobalSyncBudget time.Duration // SYNC_BUDGET — hard wall-clock ceiling for one organization sync (default 480s)
	PageFetchTimeout time.Duration // PAGE_FETCH_TIMEOUT — per-page HTTP timeout (default 20s)
	SyncLockTTL      time.Duration // SYNC_LOCK_TTL — distributed sync-lock lease duration (default 300s)
}

// Load reads configuration from environment variables. Unlike the bridge
// this was adapted from, the Acquisition Engine has no single "must be
// set or we exit" credential — CAPTCHA_API_KEY is only required once a
// challenge is actually encountered, so its absence is a runtime error
// reported by the captcha Handler, not a startup-time panic.
func Load() *Config {
	return &Config{
		DatabaseURL:   getEnv("DATABASE_URL", "reviews.db"),
		Port:          getEnv("PORT", "8000"),
		YandexProxies: parseList(os.Getenv("YANDEX_PROXIES")),
		CaptchaAPIKey: os.Getenv("CAPTCHA_API_KEY"),
		CaptchaAPIURL: getEnv("CAPTCHA_API_URL", "https://rucaptcha.com"),

		GlobalSyncBudget: parseDuration(os.Getenv("SYNC_BUDGET"), 480*time.Second),
		PageFetchTimeout: parseDuration(os.Getenv("PAGE_FETCH_TIMEOUT"), 20*time.Second),
		SyncLockTTL:      parseDuration(os.Getenv("SYNC_LOCK_TTL"), 300*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

