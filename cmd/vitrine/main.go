// Command vitrine runs the gallery backend HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eringen/vitrine"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

func main() {
	cfg, err := vitrine.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	if cfg.AdminPassword == "" {
		log.Fatal().Msg("admin.password is required")
	}
	if cfg.TokenSecret == "" && cfg.ProviderURL == "" {
		log.Fatal().Msg("auth.token_secret or auth.provider_url is required")
	}

	app, err := vitrine.New(cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize server")
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("backend running")
		if err := app.Start(); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
