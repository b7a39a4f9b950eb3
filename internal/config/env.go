package config

import (
	"os"
	"strconv"
	"time"
)

// Environment variables recognised by go-rover. They override values
// from the YAML file so a deployment can repoint telemetry without
// editing config.
const (
	EnvLogLevel     = "ROVER_LOG_LEVEL"
	EnvTelemetry    = "ROVER_TELEMETRY"
	EnvDashboardURL = "ROVER_DASHBOARD_URL"
	EnvRedisURL     = "ROVER_REDIS_URL"
	EnvInfluxURL    = "ROVER_INFLUX_URL"
	EnvInfluxToken  = "ROVER_INFLUX_TOKEN"
	EnvHistoryPath  = "ROVER_HISTORY"
	EnvSeed         = "ROVER_SEED"
)

// Default endpoints.
const (
	DefaultDashboardPort = "1880"
	DefaultDashboardURL  = "http://127.0.0.1:" + DefaultDashboardPort + "/robo-data"
	DefaultRedisURL      = "redis://127.0.0.1:6379/0"
	DefaultInfluxURL     = "http://127.0.0.1:8086"
)

// getEnv returns the value of key or fallback when unset.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns key parsed as an integer, or fallback when unset or malformed.
func getEnvInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration returns key parsed with time.ParseDuration, or fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// DashboardURL returns the telemetry ingest URL from ROVER_DASHBOARD_URL.
// Falls back to the provided default if not set.
func DashboardURL(defaultURL string) string {
	return getEnv(EnvDashboardURL, defaultURL)
}
