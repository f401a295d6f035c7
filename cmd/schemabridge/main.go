package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/schemabridge/pkg/config"
	"github.com/angelmondragon/schemabridge/pkg/logger"
)

const serviceName = "schemabridge"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    cfg.Service.InstanceID,
	})

	service, err := buildService(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap schemabridge", err)
		os.Exit(1)
	}
	defer func() {
		if err := service.Close(); err != nil {
			logg.Error(context.Background(), "error releasing resources", err)
		}
	}()

	logg.Info(ctx, "starting schemabridge")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "schemabridge stopped unexpectedly", err)
		stop()
		_ = service.Close()
		os.Exit(1)
	}
	logg.Info(ctx, "schemabridge shutting down gracefully")
}
