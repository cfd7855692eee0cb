package gcp

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt reads an integer variable. Unparseable values fall back with a warning.
func GetEnvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Ignoring malformed integer env var", "key", key, "value", raw)
		return fallback
	}
	return v
}

// GetEnvFloat reads a float variable.
func GetEnvFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Ignoring malformed float env var", "key", key, "value", raw)
		return fallback
	}
	return v
}

// GetEnvDuration reads a Go duration string such as "30m" or "24h".
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Ignoring malformed duration env var", "key", key, "value", raw)
		return fallback
	}
	return v
}
