package config

import (
	"os"
	"strconv"
	"time"
)

// ApplyEnv overrides configuration from PROCTOR_* environment variables
func ApplyEnv(cfg *LocalConfig) {
	cfg.LogLevel = getEnv("PROCTOR_LOG_LEVEL", cfg.LogLevel)
	cfg.TestsDir = getEnv("PROCTOR_TESTS_DIR", cfg.TestsDir)

	cfg.Server.Bind = getEnv("PROCTOR_BIND", cfg.Server.Bind)
	cfg.Server.Port = getEnvInt("PROCTOR_PORT", cfg.Server.Port)

	cfg.Storage.Driver = getEnv("PROCTOR_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = getEnv("PROCTOR_STORAGE_PATH", cfg.Storage.Path)
	cfg.Storage.BackupDriver = getEnv("PROCTOR_BACKUP_DRIVER", cfg.Storage.BackupDriver)
	cfg.Storage.PostgresURL = getEnv("PROCTOR_POSTGRES_URL", cfg.Storage.PostgresURL)

	cfg.Queue.Driver = getEnv("PROCTOR_QUEUE_DRIVER", cfg.Queue.Driver)
	cfg.Queue.URL = getEnv("PROCTOR_RABBITMQ_URL", cfg.Queue.URL)
	cfg.Queue.Consumer.Workers = getEnvInt("PROCTOR_CLEANUP_WORKERS", cfg.Queue.Consumer.Workers)

	cfg.Navigation.KeepUpToTimeout = getEnvBool("PROCTOR_KEEP_UP_TO_TIMEOUT", cfg.Navigation.KeepUpToTimeout)

	cfg.Adaptive.Algorithm = getEnv("PROCTOR_ADAPTIVE_ALGORITHM", cfg.Adaptive.Algorithm)
	cfg.Adaptive.MaxItems = getEnvInt("PROCTOR_ADAPTIVE_MAX_ITEMS", cfg.Adaptive.MaxItems)

	cfg.Restoration.Concurrency = getEnvInt("PROCTOR_RESTORE_CONCURRENCY", cfg.Restoration.Concurrency)
	cfg.Restoration.MaxAttempts = getEnvInt("PROCTOR_RESTORE_MAX_ATTEMPTS", cfg.Restoration.MaxAttempts)
	cfg.Restoration.InitialDelay = getEnvDuration("PROCTOR_RESTORE_INITIAL_DELAY", cfg.Restoration.InitialDelay)

	cfg.Offline.Depth = getEnvInt("PROCTOR_OFFLINE_DEPTH", cfg.Offline.Depth)
	cfg.Offline.IncludeReview = getEnvBool("PROCTOR_OFFLINE_REVIEW", cfg.Offline.IncludeReview)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
