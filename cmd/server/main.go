package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/genai-platform/internal/api"
	"github.com/Rrens/genai-platform/internal/bootstrap"
	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/logging"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// .env may sit next to the binary or at the repository root
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.Logging, "api"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("API server failed")
	}
	log.Info().Msg("API server stopped")
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("environment", cfg.Project.Environment).
		Str("project", cfg.Project.ShortName).
		Msg("Starting gen-AI platform API server")

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close resources")
		}
	}()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(app),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Dur("grace", cfg.Server.ShutdownTimeout).Msg("Draining API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
