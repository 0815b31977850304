package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/omnishot/batchd/internal/adapter/repo"
	"github.com/omnishot/batchd/internal/domain"
	"github.com/omnishot/batchd/internal/http/handlers"
	"github.com/omnishot/batchd/internal/http/httpapi"
	"github.com/omnishot/batchd/internal/infra"
	"github.com/omnishot/batchd/internal/providers/image"
	"github.com/omnishot/batchd/internal/providers/quality"
	"github.com/omnishot/batchd/internal/scheduler"
	"github.com/omnishot/batchd/internal/storage"
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

	store, cleanup, err := newJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure job store")
	}
	defer cleanup()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	sched, err := scheduler.New(scheduler.Options{
		Config: scheduler.Config{
			MaxConcurrentJobs: cfg.MaxConcurrentJobs,
			TickInterval:      cfg.SchedulerTick,
			ProviderTimeout:   cfg.ProviderTimeout,
			AssessTimeout:     cfg.AssessTimeout,
			StoreTimeout:      cfg.StoreTimeout,
		},
		Store:           store,
		Providers:       initImageProviders(cfg, logger),
		DefaultProvider: defaultProviderName(cfg),
		Assessor:        quality.NewHeuristicAssessor(),
		Files:           fileStore,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure scheduler")
	}
	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler recovery failed")
	}

	app := handlers.NewApp(sched, fileStore, logger)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Let in-flight jobs drain; anything persisted mid-flight after this
	// window is failed by the recovery loader on the next start.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 2*cfg.ProviderTimeout)
	defer cancelDrain()
	if err := sched.Shutdown(drainCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler drain timed out")
	}
	logger.Info().Msg("server stopped")
}

func newJobStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (domain.JobStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory job store")
		return repo.NewMemoryStore(), func() {}, nil
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	runner := infra.NewSQLRunner(pool, logger)
	return repo.NewJobStorePG(runner), pool.Close, nil
}

func initImageProviders(cfg *infra.Config, logger infra.Logger) map[string]image.Generator {
	providers := map[string]image.Generator{
		"synthetic": image.NewSynthetic(2 * time.Second),
	}
	if cfg.HFAPIKey == "" {
		logger.Warn().Msg("HF_API_KEY missing, using synthetic image generation")
		return providers
	}
	client, err := image.NewHFClient(image.HFOptions{
		APIKey:         cfg.HFAPIKey,
		BaseURL:        cfg.HFBaseURL,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to configure hosted provider, using synthetic image generation")
		return providers
	}
	providers["huggingface"] = client
	return providers
}

func defaultProviderName(cfg *infra.Config) string {
	if cfg.HFAPIKey == "" {
		return "synthetic"
	}
	return cfg.ImageProvider
}
