package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"dropgen/internal/adapter/repo"
	"dropgen/internal/engine"
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

	// The standalone worker shares state with the API nodes, so it
	// requires the database; in-memory stores would see nothing.
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required")
	}
	if err := infra.Migrate(cfg); err != nil {
		logger.Fatal().Err(err).Msg("worker: migrations failed")
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	veoClient, err := veo.NewClient(veo.Options{
		APIKey:     cfg.VeoAPIKey,
		BaseURL:    cfg.VeoBaseURL,
		Model:      cfg.VeoModel,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure veo client")
	}
	if cfg.VeoAPIKey == "" {
		logger.Warn().Str("model", veoClient.Model()).Msg("worker: veo api key missing, using synthetic generation")
	}

	controller, err := quota.New(ctx, repo.NewQuotaStore(pool), cfg.DailyQuotaLimit, cfg.MonthlyQuotaLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to restore quota state")
	}

	eng := engine.New(engine.Options{
		Jobs:         repo.NewJobRepository(pool),
		Quota:        controller,
		Queue:        repo.NewQueueStore(pool),
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
		logger.Error().Err(err).Msg("worker: failed to resume interrupted jobs")
	}

	processor := queue.NewProcessor(eng, cfg.QueueTickInterval, logger)
	if err := processor.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to start queue processor")
	}
	defer processor.Stop()

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(fmt.Sprintf("@every %s", cfg.PollInterval), func() {
		if err := eng.SweepProcessing(ctx); err != nil {
			logger.Error().Err(err).Msg("worker: poll sweep failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to schedule poll sweep")
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	logger.Info().Msg("worker: started")
	<-ctx.Done()
	logger.Info().Msg("worker: stopped")
}
