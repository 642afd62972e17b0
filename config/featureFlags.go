package config

import (
	"os"
	"strings"
)

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// NotificationsEnabled toggles writing stock events to the notification outbox.
//
// Set via env:
// - NOTIFICATIONS_ENABLED=false
func NotificationsEnabled() bool {
	return boolFromEnv("NOTIFICATIONS_ENABLED", true)
}

// LowStockSweepSchedule is the cron spec for the low-stock sweep. Empty disables it.
//
// Set via env:
// - LOW_STOCK_SWEEP_SCHEDULE="0 7 * * *"
func LowStockSweepSchedule() string {
	return strings.TrimSpace(os.Getenv("LOW_STOCK_SWEEP_SCHEDULE"))
}

// PlanCacheTTL bounds how long plan ceilings are cached in Redis.
func PlanCacheTTL() int {
	return intFromEnv("PLAN_CACHE_TTL_SECONDS", 300)
}
