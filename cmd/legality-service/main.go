package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buildpass/buildpass-backend/internal/legality/cache"
	"github.com/buildpass/buildpass-backend/internal/legality/catalog"
	"github.com/buildpass/buildpass-backend/internal/legality/consumers"
	"github.com/buildpass/buildpass-backend/internal/legality/engine"
	"github.com/buildpass/buildpass-backend/internal/legality/events"
	"github.com/buildpass/buildpass-backend/internal/legality/handler"
	"github.com/buildpass/buildpass-backend/internal/legality/metrics"
	"github.com/buildpass/buildpass-backend/internal/legality/repository"
	"github.com/buildpass/buildpass-backend/internal/legality/service"
	"github.com/buildpass/buildpass-backend/pkg/config"
	"github.com/buildpass/buildpass-backend/pkg/database"
	"github.com/buildpass/buildpass-backend/pkg/httputil"
	"github.com/buildpass/buildpass-backend/pkg/i18n"
	"github.com/buildpass/buildpass-backend/pkg/logger"
	"github.com/buildpass/buildpass-backend/pkg/messaging"
)

const serviceName = "legality-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Legality Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reference data is loaded once and shared read-only
	data, err := catalog.Load(catalog.Paths{
		Catalog:       cfg.Legality.CatalogPath,
		RegionalRules: cfg.Legality.RegionalRulesPath,
		Citations:     cfg.Legality.CitationsPath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load reference data")
	}
	log.Info().
		Str("catalog_version", data.Catalog.Version()).
		Int("entries", data.Catalog.Len()).
		Msg("reference data loaded")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := repository.Migrate(db.DB.DB); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}

	// Optional check cache
	redisClient, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	var checkCache service.ResultCache
	if redisClient != nil {
		defer redisClient.Close()
		checkCache = cache.NewCheckCache(redisClient.Client, cfg.Redis.CheckTTL)
	}

	// Initialize event publisher
	publisher, err := events.NewLegalityEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	m := metrics.New(nil)

	// Initialize repositories
	referenceRepo := repository.NewReferenceRepository(db)
	modificationRepo := repository.NewModificationRepository(db)
	listingRepo := repository.NewListingRepository(db)
	proofRepo := repository.NewCommunityProofRepository(db)

	// Initialize engine and services
	eng := engine.New(data, referenceRepo, engine.Options{
		SuggestionLimit: cfg.Legality.SuggestionLimit,
		DBMatchLimit:    cfg.Legality.DBMatchLimit,
	}, log)
	checkService := service.NewCheckService(eng, proofRepo, checkCache, m, service.CheckOptions{
		ProofLimit: cfg.Legality.ProofLimit,
	}, log)
	snapshotWriter := service.NewSnapshotWriter(eng, modificationRepo, listingRepo, publisher, m, log)

	// Initialize handlers
	legalityHandler := handler.NewLegalityHandler(checkService, eng, log)

	// Start modification event consumer
	startConsumers := func(ctx context.Context) error {
		modificationConsumer, err := consumers.NewModificationEventConsumer(rmq, snapshotWriter, log)
		if err != nil {
			return fmt.Errorf("create modification event consumer: %w", err)
		}
		return modificationConsumer.Start(ctx)
	}
	if err := startConsumers(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start modification event consumer")
	}

	// Reconnect and resume consuming when the broker drops the connection
	go func() {
		err := messaging.Supervise(ctx, rmq, log, func(ctx context.Context) error {
			if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
				return err
			}
			return startConsumers(ctx)
		})
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ supervision stopped, events are no longer consumed")
		}
	}()

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Language", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)
	r.Use(m.Middleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":          "healthy",
			"service":         serviceName,
			"catalog_version": data.Catalog.Version(),
			"database":        db.Health(r.Context()),
			"rabbitmq":        rmq.Health(),
		}
		if redisClient != nil {
			status["redis"] = redisClient.Health(r.Context())
		}
		httputil.JSON(w, http.StatusOK, status)
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1/legality", legalityHandler.Routes)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
