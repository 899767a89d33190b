// trainerd is the sync daemon for the AR agility trainer: it fronts the
// remote store with the challenge endpoints and pushes challenge lifecycle
// events to connected game clients over websockets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/challenge"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/config"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/gateway"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/history"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/identity"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/localstore"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote/memstore"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote/natsstore"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote/pgstore"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("daemon exited")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := setupRemoteStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("setup remote store: %w", err)
	}
	defer cleanup()

	local, err := localstore.Open(filepath.Join(cfg.Data.Dir, "trainer.db"))
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer func() {
		if err := local.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close local store")
		}
	}()

	ids := identity.NewAnonymous(local)
	if err := ids.SignIn(ctx); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	protocol := challenge.NewProtocol(store, ids)
	recorder := history.NewRecorder(store)

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	go manager.Start(ctx)

	service := gateway.NewService(protocol, recorder, manager, ids)
	handler := gateway.NewHandler(service, manager)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: c.Handler(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("backend", cfg.Store.Backend).Msg("trainerd listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRemoteStore(ctx context.Context, cfg config.StoreConfig) (remote.Store, func(), error) {
	switch cfg.Backend {
	case "nats":
		store, err := natsstore.New(ctx, natsstore.Config{
			URL:           cfg.NATS.URL,
			Bucket:        cfg.NATS.Bucket,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "postgres":
		store, err := pgstore.New(pgstore.DefaultConfig(cfg.Postgres.DSN()))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close postgres store")
			}
		}, nil
	case "memory":
		// Standalone mode: both players must connect to this daemon.
		return memstore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
