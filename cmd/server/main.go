package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Jdubz/imagineer/internal/adapter/repo"
	"github.com/Jdubz/imagineer/internal/batch"
	"github.com/Jdubz/imagineer/internal/generate"
	"github.com/Jdubz/imagineer/internal/http/handlers"
	"github.com/Jdubz/imagineer/internal/http/httpapi"
	"github.com/Jdubz/imagineer/internal/infra"
	"github.com/Jdubz/imagineer/internal/query"
	"github.com/Jdubz/imagineer/internal/queue"
	"github.com/Jdubz/imagineer/internal/runtrack"
	"github.com/Jdubz/imagineer/internal/storage"
	"github.com/Jdubz/imagineer/internal/worker"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	jobs := repo.NewJobRepository(dbpool)
	runs := repo.NewRunRepository(dbpool)
	collections := repo.NewCollectionRepository(dbpool)
	templates := repo.NewTemplateRepository(dbpool)

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	q := queue.New()
	history := worker.NewHistory(cfg.JobHistorySize)
	generator := generate.NewHTTPGenerator(cfg.GeneratorBaseURL, cfg.GeneratorTimeout, store, logger)
	tracker := runtrack.New(runs, collections, jobs, logger)
	expander := batch.New(templates, runs, q, logger)
	queries := query.New(jobs, runs, q, history)

	// Restore queue state left over from a previous process before the
	// worker starts consuming.
	if err := worker.Recover(ctx, jobs, tracker, q, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to recover queue state")
	}

	app := &handlers.App{
		Config:      cfg,
		Logger:      logger,
		Jobs:        jobs,
		Collections: collections,
		Queue:       q,
		Expander:    expander,
		Tracker:     tracker,
		Query:       queries,
	}
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	w := worker.New(q, jobs, tracker, generator, history, logger, cfg.ErrorMessageChars)
	workerDone := make(chan struct{})
	workerCtx, cancelWorker := context.WithCancel(ctx)
	go func() {
		defer close(workerDone)
		_ = w.Run(workerCtx)
	}()

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Stop accepting work, then let the worker finish its current job.
	q.Close()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		cancelWorker()
		<-workerDone
	}
	cancelWorker()

	logger.Info().Msg("server stopped")
}
