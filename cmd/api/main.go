package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dropgen/internal/adapter/memrepo"
	"dropgen/internal/adapter/repo"
	"dropgen/internal/domain"
	"dropgen/internal/engine"
	"dropgen/internal/http/handlers"
	"dropgen/internal/http/httpapi"
	"dropgen/internal/infra"
	"dropgen/internal/providers/veo"
	"dropgen/internal/queue"
	"dropgen/internal/quota"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		jobs       domain.JobRepository
		quotaStore domain.QuotaStore
		queueStore domain.QueueStore
	)
	if cfg.DatabaseURL != "" {
		if err := infra.Migrate(cfg); err != nil {
			logger.Fatal().Err(err).Msg("api: migrations failed")
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: db connection failed")
		}
		defer pool.Close()
		jobs = repo.NewJobRepository(pool)
		quotaStore = repo.NewQuotaStore(pool)
		queueStore = repo.NewQueueStore(pool)
	} else {
		logger.Warn().Msg("api: DATABASE_URL missing, using in-memory stores")
		jobs = memrepo.NewJobStore()
		quotaStore = memrepo.NewQuotaStore()
		queueStore = memrepo.NewQueueStore()
	}

	veoClient, err := veo.NewClient(veo.Options{
		APIKey:     cfg.VeoAPIKey,
		BaseURL:    cfg.VeoBaseURL,
		Model:      cfg.VeoModel,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure veo client")
	}
	if cfg.VeoAPIKey == "" {
		logger.Warn().Str("model", veoClient.Model()).Msg("api: veo api key missing, using synthetic generation")
	}

	controller, err := quota.New(ctx, quotaStore, cfg.DailyQuotaLimit, cfg.MonthlyQuotaLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to restore quota state")
	}

	eng := engine.New(engine.Options{
		Jobs:         jobs,
		Quota:        controller,
		Queue:        queueStore,
		Service:      veoClient,
		Logger:       logger,
		Model:        cfg.VeoModel,
		MaxRetries:   cfg.SubmitMaxRetries,
		BackoffBase:  cfg.SubmitBackoffBase,
		BackoffCap:   cfg.SubmitBackoffCap,
		PollTimeout:  cfg.PollTimeout,
		PollInterval: cfg.PollInterval,
	})

	if err := eng.RecoverInFlight(ctx); err != nil {
		logger.Error().Err(err).Msg("api: failed to resume interrupted jobs")
	}

	if !cfg.QueueTickDisabled {
		processor := queue.NewProcessor(eng, cfg.QueueTickInterval, logger)
		if err := processor.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("api: failed to start queue processor")
		}
		defer processor.Stop()
	}

	app := handlers.NewApp(eng, logger)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
