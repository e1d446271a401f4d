package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medigate/navigator/internal/adapters/cache"
	"github.com/medigate/navigator/internal/adapters/directory"
	"github.com/medigate/navigator/internal/adapters/providers/geolocation"
	"github.com/medigate/navigator/internal/adapters/session"
	"github.com/medigate/navigator/internal/api/handlers"
	"github.com/medigate/navigator/internal/api/middleware"
	"github.com/medigate/navigator/internal/api/routes"
	"github.com/medigate/navigator/internal/application/services"
	"github.com/medigate/navigator/internal/domain/providers"
	"github.com/medigate/navigator/internal/infrastructure/clients/gemini"
	"github.com/medigate/navigator/internal/infrastructure/clients/openai"
	"github.com/medigate/navigator/internal/infrastructure/clients/redis"
	"github.com/medigate/navigator/internal/infrastructure/observability"
	"github.com/medigate/navigator/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Server.Env)

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(
			ctx,
			cfg.OTEL.ServiceName,
			cfg.OTEL.ServiceVersion,
			cfg.OTEL.Endpoint,
		)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry, continuing without tracing")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			log.Info().Msg("OpenTelemetry initialized")
		}
	}

	// Initialize metrics
	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	// Load the clinic directory once for the process lifetime
	clinicDirectory, err := directory.NewFromFile(cfg.Directory.DatasetPath, cfg.Directory)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Directory.DatasetPath).Msg("failed to load clinic dataset")
	}
	log.Info().Int("clinics", clinicDirectory.Size()).Msg("clinic directory loaded")

	// Initialize Redis; without it workflow state falls back to process
	// memory, which cannot survive multi-instance serving
	var sessionStore providers.SessionStore
	var cacheProvider providers.CacheProvider
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using in-memory session store")
		sessionStore = session.NewMemoryStore(cfg.Session.TTLSeconds)
	} else {
		defer redisClient.Close()
		sessionStore = session.NewRedisStore(redisClient, cfg.Session.TTLSeconds)
		cacheProvider = cache.NewRedisAdapter(redisClient)
		log.Info().Msg("redis session store initialized")
	}

	// AI generation adapter
	generator, err := openai.NewClient(&cfg.OpenAI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize generation client")
	}

	// Grounded search adapter; optional, enrichment degrades without it
	var grounding providers.GroundingProvider
	if groundingClient, err := gemini.NewClient(&cfg.Gemini); err != nil {
		log.Warn().Err(err).Msg("grounded search unavailable, specialist enrichment disabled")
	} else {
		grounding = groundingClient
	}

	// Geolocation provider for named reference points
	var geoProvider providers.GeolocationProvider
	if cfg.Geolocation.Provider == "google" && cfg.Geolocation.APIKey != "" {
		geoProvider = geolocation.NewGoogleProvider(cfg.Geolocation.APIKey, cacheProvider)
		log.Info().Msg("google geolocation provider initialized")
	} else {
		geoProvider = geolocation.NewStaticProvider()
	}

	// Services and handlers
	workflowService := services.NewWorkflowService(sessionStore, generator, grounding, geoProvider, clinicDirectory)
	workflowHandler := handlers.NewWorkflowHandler(workflowService, metrics)
	healthHandler := handlers.NewHealthHandler(clinicDirectory)

	var cacheMiddleware *middleware.CacheMiddleware
	if cacheProvider != nil {
		cacheMiddleware = middleware.NewCacheMiddleware(cacheProvider)
	}

	router := routes.NewRouter(workflowHandler, healthHandler, cacheMiddleware, metrics)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}
