// Package config loads daemon configuration from the environment, with
// an optional .env file for development setups.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mensahk/fieldcite/internal/logging"
)

const (
	MinBatchSize = 1
	MaxBatchSize = 100
)

// Config holds the daemon's runtime configuration.
type Config struct {
	DataDir        string
	APIBaseURL     string
	APIToken       string
	DeviceKey      string
	SyncInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RequestTimeout time.Duration
	LogLevel       string
	ListenAddr     string
	MetricsAddr    string
}

// Load reads configuration from the environment. Missing keys fall back
// to defaults suitable for a local device deployment.
func Load() *Config {
	_ = godotenv.Load()

	batchSize := getEnvInt("SYNC_BATCH_SIZE", 10)
	if batchSize > MaxBatchSize {
		logging.Info("SYNC_BATCH_SIZE exceeds safety limit, clamping",
			map[string]interface{}{"requested": batchSize, "limit": MaxBatchSize})
		batchSize = MaxBatchSize
	} else if batchSize < MinBatchSize {
		batchSize = MinBatchSize
	}

	return &Config{
		DataDir:        getEnv("DATA_DIR", "./data"),
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:3000"),
		APIToken:       getEnv("API_TOKEN", ""),
		DeviceKey:      getEnv("DEVICE_KEY", "fieldcite-device"),
		SyncInterval:   time.Duration(getEnvInt("SYNC_INTERVAL_SEC", 30)) * time.Second,
		BatchSize:      batchSize,
		MaxAttempts:    getEnvInt("SYNC_MAX_ATTEMPTS", 5),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 30)) * time.Second,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ListenAddr:     getEnv("LISTEN_ADDR", "127.0.0.1:8090"),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
