package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/angeloszaimis/mesh-gateway/config"
	"github.com/angeloszaimis/mesh-gateway/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := newGateway(cfg, log)
	if err != nil {
		log.Error("Failed to initialize gateway", slog.Any("err", err))
		os.Exit(1)
	}

	if err := gw.run(ctx); err != nil {
		log.Error("Gateway stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}
