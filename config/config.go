package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process-wide settings. Values come from the environment,
// optionally seeded from a .env file in the working directory.
type Config struct {
	HTTPListenAddr    string
	MetricsListenAddr string
	DebugMode         bool

	// Synchronization engine.
	UpdateBufferCapacity int
	SymbolQueueCapacity  int
	ChecksumDepth        int
	MaxConsecutiveErrors int
	SnapshotTimeout      time.Duration
	SnapshotMaxAttempts  int
	SnapshotDepth        int
	ResyncInterval       time.Duration

	// REST budget, requests per second per exchange.
	SnapshotRateLimit int

	SupportedProviders []string
}

func Load() *Config {
	// Missing .env is fine, the environment may be set by the runtime.
	_ = godotenv.Load()

	return &Config{
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":50052"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":8080"),
		DebugMode:         getBool("DEBUG_MODE", false),

		UpdateBufferCapacity: getInt("UPDATE_BUFFER_CAPACITY", 1000),
		SymbolQueueCapacity:  getInt("SYMBOL_QUEUE_CAPACITY", 2048),
		ChecksumDepth:        getInt("CHECKSUM_DEPTH", 25),
		MaxConsecutiveErrors: getInt("MAX_CONSECUTIVE_ERRORS", 5),
		SnapshotTimeout:      getDuration("SNAPSHOT_TIMEOUT", 10*time.Second),
		SnapshotMaxAttempts:  getInt("SNAPSHOT_MAX_ATTEMPTS", 3),
		SnapshotDepth:        getInt("SNAPSHOT_DEPTH", 1000),
		ResyncInterval:       getDuration("RESYNC_INTERVAL", 30*time.Minute),

		SnapshotRateLimit: getInt("SNAPSHOT_RATE_LIMIT", 5),

		SupportedProviders: getList("SUPPORTED_PROVIDERS", []string{"binance", "okx", "kucoin"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
