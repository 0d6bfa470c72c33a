package main

import (
	"fmt"
	"os"

	"github.com/planforge/planforge-backend/internal/app"
	"github.com/planforge/planforge-backend/internal/clients/openai"
	"github.com/planforge/planforge-backend/internal/clients/redis"
	"github.com/planforge/planforge-backend/internal/data/db"
	"github.com/planforge/planforge-backend/internal/data/repos/jobs"
	"github.com/planforge/planforge-backend/internal/data/repos/plans"
	"github.com/planforge/planforge-backend/internal/generation"
	"github.com/planforge/planforge-backend/internal/handlers"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
	"github.com/planforge/planforge-backend/internal/queue"
	"github.com/planforge/planforge-backend/internal/server"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading configuration from main...")
	cfg := app.LoadConfig(log)
	if cfg.Production() && cfg.WorkerToken == "" {
		log.Fatal("WORKER_TOKEN is required in production")
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	planRepo := plans.NewPlanRepo(thePG, log)
	attemptRepo := plans.NewGenerationAttemptRepo(thePG, log)
	contentRepo := plans.NewPlanContentRepo(thePG, log)
	jobRepo := jobs.NewRegenerationJobRepo(thePG, log)

	// Provider
	var provider generation.Provider
	switch cfg.Provider {
	case "openai":
		client, err := openai.NewClient(log)
		if err != nil {
			log.Fatal("Could not init OpenAIClient", "error", err)
		}
		provider = generation.NewOpenAIProvider(log, client)
	case "mock":
		provider = generation.NewMockProvider()
	default:
		log.Fatal("Unknown PROVIDER", "provider", cfg.Provider)
	}

	// Redis event relay (optional)
	var bus redis.EventBus
	if cfg.RedisEnabled {
		bus, err = redis.NewEventBus(log)
		if err != nil {
			log.Warn("Redis event bus init failed, continuing without relay", "error", err)
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	// Generation
	log.Info("Setting up generation services from main...")
	ledger := generation.NewLedger(thePG, log, planRepo, attemptRepo, contentRepo, nil, cfg.AttemptCap)
	orch := generation.NewOrchestrator(log, ledger, provider, generation.TimeoutConfig{
		Base:               cfg.TimeoutBase,
		Extension:          cfg.TimeoutExtension,
		ExtensionThreshold: cfg.TimeoutExtensionThreshold,
	})

	// Regeneration queue. Queue runs have no attached client; their progress
	// surfaces through the Redis relay when it is configured.
	var sinkFor queue.SinkFactory
	if bus != nil {
		sinkFor = func(planID string) generation.EventSink {
			return redis.NewBusSink(log, bus, planID, nil)
		}
	}
	registry := queue.NewRegistry()
	if err := registry.Register(queue.NewRegenerateHandler(log, orch, planRepo, sinkFor)); err != nil {
		log.Fatal("Could not register regeneration handler", "error", err)
	}
	drainer := queue.NewDrainer(log, queue.NewGormJobStore(jobRepo), registry)

	// Handlers
	generationHandler := handlers.NewGenerationHandler(log, orch, attemptRepo, bus)
	workerHandler := handlers.NewWorkerHandler(log, drainer, cfg.WorkerToken, cfg.QueueEnabled, cfg.MaxJobsPerDrain)

	// Router
	router := server.NewRouter(server.RouterConfig{
		GenerationHandler: generationHandler,
		WorkerHandler:     workerHandler,
	})

	log.Info("Starting server", "port", cfg.Port, "env", cfg.Env, "provider", cfg.Provider)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
