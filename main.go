// Command riskguard serves the real-time risk evaluation API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gokaycavdar/go-riskguard/pkg/config"
	"github.com/gokaycavdar/go-riskguard/pkg/logging"
	"github.com/gokaycavdar/go-riskguard/pkg/server"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("RISKGUARD_CONFIG"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := logging.New("info", "json")
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info().Str("version", Version).Msg("starting riskguard")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, Version, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble server")
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("bye")
}
