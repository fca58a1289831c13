package app

import (
	"time"

	"github.com/maieulabs/maieutic-backend/internal/platform/envutil"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

type Config struct {
	Environment string
	Version     string

	HotWindowSize       int
	PromptTokenCost     float64
	CompletionTokenCost float64

	WorkerCount     int
	MaxAttempts     int
	RetryBase       time.Duration
	StaleRunning    time.Duration
	ProviderTimeout time.Duration

	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Environment: envutil.GetEnv("ENVIRONMENT", "development", log),
		Version:     envutil.GetEnv("SERVICE_VERSION", "dev", log),

		HotWindowSize:       envutil.GetEnvAsInt("HOT_WINDOW_SIZE", 50, log),
		PromptTokenCost:     envutil.GetEnvAsFloat("PROMPT_TOKEN_COST", 0, log),
		CompletionTokenCost: envutil.GetEnvAsFloat("COMPLETION_TOKEN_COST", 0, log),

		WorkerCount:     envutil.GetEnvAsInt("WORKER_COUNT", 4, log),
		MaxAttempts:     envutil.GetEnvAsInt("JOB_MAX_ATTEMPTS", 3, log),
		RetryBase:       time.Duration(envutil.GetEnvAsInt("JOB_RETRY_BASE_MS", 1000, log)) * time.Millisecond,
		StaleRunning:    time.Duration(envutil.GetEnvAsInt("JOB_STALE_RUNNING_SECONDS", 120, log)) * time.Second,
		ProviderTimeout: time.Duration(envutil.GetEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 45, log)) * time.Second,

		CompletedRetention: time.Duration(envutil.GetEnvAsInt("JOB_COMPLETED_RETENTION_HOURS", 24, log)) * time.Hour,
		FailedRetention:    time.Duration(envutil.GetEnvAsInt("JOB_FAILED_RETENTION_HOURS", 168, log)) * time.Hour,
	}
}
