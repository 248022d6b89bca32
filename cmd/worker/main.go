package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/genai-platform/internal/bootstrap"
	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/logging"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.Logging, "worker"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Worker failed")
	}
	log.Info().Msg("Worker stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close resources")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if app.Queue != nil {
		g.Go(func() error {
			log.Info().Dur("budget", cfg.Worker.TaskBudget).Msg("Consuming tasks")
			return app.Queue.Consume(gctx, app.Dispatcher, cfg.Worker.TaskBudget)
		})
	} else {
		log.Warn().Msg("No task queue configured, only schedules and the reaper run here")
	}

	g.Go(func() error {
		return app.Scheduler.Run(gctx, cfg.Worker.ScheduleInterval)
	})
	g.Go(func() error {
		return app.Services.Sessions.Reaper(gctx, cfg.Worker.ReaperInterval)
	})

	return g.Wait()
}
