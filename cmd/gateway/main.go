package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/genai-platform/internal/bootstrap"
	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/logging"
	"github.com/Rrens/genai-platform/internal/transport/ws"
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
	if err := logging.Setup(cfg.Logging, "gateway"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Gateway failed")
	}
	log.Info().Msg("Gateway stopped")
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

	hub := ws.NewHub()
	pusher := ws.NewPusher(hub, app.Connections, cfg.Chat.PushBackoff)
	chat := app.ChatService(pusher)

	authenticate := func(token string) (string, error) {
		claims, err := app.JWT.ValidateAccessToken(token)
		if err != nil {
			return "", err
		}
		return claims.UserID(), nil
	}

	// Turns outlive the connection that started them, not the process.
	gateway := ws.NewGateway(ctx, hub, chat, authenticate, app.Connections, cfg.Gateway)
	server := &http.Server{
		Addr:    cfg.Gateway.Addr(),
		Handler: gateway.Routes(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("Gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Int("connections", hub.Len()).Msg("Shutting down gateway...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
