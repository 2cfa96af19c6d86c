package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lora-gateway/internal/app"
	"lora-gateway/internal/config"
	"lora-gateway/internal/logging"
)

var version = "dev"
var appName = "lora-gateway"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		var se *app.StartupError
		if errors.As(err, &se) {
			slog.Error("startup failed", "component", se.Component, "err", se.Err)
		} else {
			slog.Error("run failed", "err", err)
		}
		os.Exit(1)
	}

	slog.Info("shutting down")
}
