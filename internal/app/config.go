package app

import (
	"time"

	"github.com/planforge/planforge-backend/internal/generation"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
	"github.com/planforge/planforge-backend/internal/utils"
)

type Config struct {
	Env      string
	Port     string
	Provider string

	AttemptCap int

	TimeoutBase               time.Duration
	TimeoutExtension          time.Duration
	TimeoutExtensionThreshold time.Duration

	QueueEnabled    bool
	WorkerToken     string
	MaxJobsPerDrain int

	RedisEnabled bool
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Env:      utils.GetEnv("ENV", "development", log),
		Port:     utils.GetEnv("PORT", "8080", log),
		Provider: utils.GetEnv("PROVIDER", "mock", log),

		// ATTEMPT_CAP accepts float-ish values; anything non-finite or below
		// one falls back to the default.
		AttemptCap: utils.GetEnvAsFlooredInt("ATTEMPT_CAP", generation.DefaultAttemptCap, 1, log),

		TimeoutBase:               utils.GetEnvAsDuration("GENERATION_TIMEOUT_BASE", 60*time.Second, log),
		TimeoutExtension:          utils.GetEnvAsDuration("GENERATION_TIMEOUT_EXTENSION", 60*time.Second, log),
		TimeoutExtensionThreshold: utils.GetEnvAsDuration("GENERATION_TIMEOUT_EXTENSION_THRESHOLD", 45*time.Second, log),

		QueueEnabled:    utils.GetEnvAsBool("QUEUE_ENABLED", true, log),
		WorkerToken:     utils.GetEnv("WORKER_TOKEN", "", log),
		MaxJobsPerDrain: utils.GetEnvAsInt("MAX_JOBS_PER_DRAIN", 10, log),

		RedisEnabled: utils.GetEnvAsBool("REDIS_ENABLED", false, log),
	}
	return cfg
}

func (c Config) Production() bool { return c.Env == "production" }
