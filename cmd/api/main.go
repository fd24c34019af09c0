package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gradeflow/assess-api/internal/config"
	"github.com/gradeflow/assess-api/internal/database"
	"github.com/gradeflow/assess-api/internal/handler"
	"github.com/gradeflow/assess-api/internal/middleware"
	"github.com/gradeflow/assess-api/internal/repository"
	"github.com/gradeflow/assess-api/internal/router"
	"github.com/gradeflow/assess-api/internal/service"
	"github.com/gradeflow/assess-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis url not configured, rubric caching disabled")
	}

	var outcomes service.OutcomeReporter = service.NewLogOutcomeReporter(logger)
	if cfg.NatsURL != "" {
		natsConn, err := database.ConnectNats(cfg.NatsURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
		outcomes = service.NewNatsOutcomeReporter(natsConn, "scores.updated", logger)
	} else {
		logger.Warn().Msg("nats url not configured, score outcomes are logged only")
	}

	var scorer ai.Scorer
	var embedder ai.Embedder
	if cfg.OpenAIAPIKey != "" {
		openAIScorer, err := ai.NewOpenAIScorer(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.AIGradingModel,
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("failed to create openai scorer: %v", err)
		}
		scorer = openAIScorer
		embedder = openAIScorer
	} else {
		logger.Warn().Msg("openai api key not configured, AI grading disabled")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	scoreStore := repository.NewScoreStore(db)
	rubricRepo := repository.NewRubricRepository(db)
	jobSequenceRepo := repository.NewJobSequenceRepository(db)
	aiGradingRepo := repository.NewAIGradingRepository(db)

	registry := service.NewRunRegistry()
	scoreService := service.NewScoreService(scoreStore, outcomes, logger)
	rubricService := service.NewRubricService(rubricRepo, scoreService, redisClient, cfg.RubricCacheTTL, validate, logger)
	jobSequenceService := service.NewJobSequenceService(jobSequenceRepo, logger)
	aiGradingService := service.NewAIGradingService(aiGradingRepo, scoreService, jobSequenceService, registry, scorer, embedder, cfg.GradingConcurrency, validate, logger)
	uploadService, err := service.NewScoreUploadService(scoreService, logger)
	if err != nil {
		log.Fatalf("failed to create score upload service: %v", err)
	}

	gradingHandler := handler.NewGradingHandler(scoreService, aiGradingService, jobSequenceService, uploadService, logger)
	rubricHandler := handler.NewRubricHandler(rubricService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		GradingHandler: gradingHandler,
		RubricHandler:  rubricHandler,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
