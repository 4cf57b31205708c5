package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parlorhq/parlor/go/internal/gateway"
	"github.com/parlorhq/parlor/go/internal/lobby"
	"github.com/parlorhq/parlor/go/internal/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var pub relay.Publisher = relay.Nop{}
	if cfg.NATSURL != "" {
		natsPub, err := relay.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.NATSURL).Msg("failed to connect to NATS")
		}
		pub = natsPub
	}

	clock := clockwork.NewRealClock()
	opts := cfg.lobbyOptions()
	rooms := lobby.NewRoomRegistry(clock, opts, pub, rand.Int63())
	sessions := lobby.NewSessionRegistry(clock, rooms, opts, pub)

	gwCfg := gateway.DefaultConfig()
	gwCfg.AuthTimeout = cfg.Server.AuthTimeout
	gw := gateway.New(sessions, rooms, clock, gwCfg)

	server := setupServer(gw, cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session GC sweep
	go sessions.Run(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().
		Str("port", cfg.Server.Port).
		Str("nats_url", cfg.NATSURL).
		Dur("session_lifetime", opts.SessionLifetime).
		Msg("parlor server started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	sessions.DestroyAll()
	pub.Close()

	log.Info().Msg("parlor server shutdown complete")
}
