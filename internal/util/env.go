package util

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the variable or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		Warn("invalid integer in environment, using default",
			String("key", key), String("value", v), Int("default", fallback))
		return fallback
	}
	return n
}

func GetEnvInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		Warn("invalid integer in environment, using default",
			String("key", key), String("value", v), Int64("default", fallback))
		return fallback
	}
	return n
}

func GetEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		Warn("invalid boolean in environment, using default",
			String("key", key), String("value", v), Bool("default", fallback))
		return fallback
	}
	return b
}

// GetEnvDuration accepts Go durations ("1500ms") or plain seconds ("2").
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	Warn("invalid duration in environment, using default",
		String("key", key), String("value", v), Duration("default", fallback))
	return fallback
}

// GetEnvList splits a comma separated variable, dropping blank items.
func GetEnvList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
