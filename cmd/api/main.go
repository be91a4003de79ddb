package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/oracy-scoring-api/internal/config"
	"github.com/noah-isme/oracy-scoring-api/internal/database"
	"github.com/noah-isme/oracy-scoring-api/internal/handler"
	"github.com/noah-isme/oracy-scoring-api/internal/middleware"
	"github.com/noah-isme/oracy-scoring-api/internal/repository"
	"github.com/noah-isme/oracy-scoring-api/internal/router"
	"github.com/noah-isme/oracy-scoring-api/internal/service"
	"github.com/noah-isme/oracy-scoring-api/pkg/ai"
	cloud "github.com/noah-isme/oracy-scoring-api/pkg/cloudinary"
	"github.com/noah-isme/oracy-scoring-api/pkg/gcp"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(rootCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(rootCtx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Close()
	}

	audioStore, closeStore := buildAudioStore(rootCtx, cfg, logger)
	defer closeStore()

	providers, err := ai.ResolveProviders(rootCtx, ai.ProvidersConfig{
		OpenAIAPIKey:          cfg.OpenAIAPIKey,
		OpenAIBaseURL:         cfg.OpenAIBaseURL,
		TranscriptionModel:    cfg.TranscriptionModel,
		TranscriptionLanguage: cfg.TranscriptionLang,
		ScoringModel:          cfg.ScoringModel,
		GoogleSpeechEnabled:   cfg.GoogleSpeechEnabled,
		GoogleSpeechLanguage:  cfg.GoogleSpeechLanguage,
		GoogleCredentials:     cfg.GCSCredentials,
		PrimaryScorer:         cfg.PrimaryScorer,
		ReviewerEnabled:       cfg.ReviewerEnabled,
		ReviewerScorer:        cfg.ReviewerScorer,
		AnthropicAPIKey:       cfg.AnthropicAPIKey,
		AnthropicBaseURL:      cfg.AnthropicBaseURL,
		AnthropicModel:        cfg.AnthropicModel,
		PauseThreshold:        cfg.PauseThreshold,
		Logger:                logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve ai providers")
	}
	defer func() {
		if err := providers.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close ai providers")
		}
	}()

	validate := validator.New(validator.WithRequiredStructEnabled())

	scoringRepo := repository.NewScoringRepository(db)
	events := service.NewScoringEventPublisher(redisClient, cfg.EventChannel, natsConn, logger)
	scoringService := service.NewScoringService(scoringRepo, audioStore, providers, events, service.ScoringConfig{
		ProviderTimeout: cfg.ProviderTimeout,
		StaleRunAfter:   cfg.StaleRunAfter,
		MaxErrorLength:  cfg.MaxScoringErrorSize,
	}, logger)
	dispatcher := service.NewScoringDispatcher(scoringService, natsConn, cfg.EventChannel, cfg.AsyncScoring, logger)
	if err := dispatcher.Start(rootCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scoring worker")
	}

	scoringHandler := handler.NewScoringHandler(scoringService, dispatcher, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowedOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		ScoringHandler: scoringHandler,
		Providers:      providers,
		JWTMiddleware:  middleware.Authenticate(cfg.JWTSecret),
		ScoreRateLimit: middleware.RateLimit(middleware.RateLimitConfig{
			Name:   "scoring",
			Max:    cfg.ScoreRateLimit,
			Window: cfg.ScoreRateWindow,
			Redis:  redisClient,
		}),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(rootCtx, app, dispatcher, logger)
}

func buildAudioStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (service.AudioStore, func()) {
	switch cfg.BlobProvider {
	case config.BlobProviderCloudinary:
		store, err := cloud.New(cloud.Config{
			CloudName:       cfg.CloudinaryCloudName,
			APIKey:          cfg.CloudinaryAPIKey,
			APISecret:       cfg.CloudinaryAPISecret,
			DownloadTimeout: cfg.BlobDownloadTimeout,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		return store, func() {}
	default:
		store, err := gcp.NewAudioStore(ctx, gcp.StorageConfig{
			Credentials:     cfg.GCSCredentials,
			DownloadTimeout: cfg.BlobDownloadTimeout,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloud storage client")
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close cloud storage client")
			}
		}
	}
}

func waitForShutdown(ctx context.Context, app *fiber.App, dispatcher service.ScoringDispatcher, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	dispatcher.Wait()
	logger.Info().Msg("server stopped")
}
