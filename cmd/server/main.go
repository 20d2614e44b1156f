package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/api"
	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/config"
	"github.com/tunogya/tkg/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to build logger")
	}
	defer logCloser.Close()

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	srv := api.NewServer(a)
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start http server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	if err := srv.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
