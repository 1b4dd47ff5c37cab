package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"cloudpico-airquality/internal/app"
	"cloudpico-airquality/internal/config"
	"cloudpico-airquality/internal/logging"
	"cloudpico-airquality/internal/recovery"
)

var version = "dev"
var appName = "cloudpico-airquality"

func main() {
	cfg, err := config.LoadFromEnv()
	if err == nil {
		err = cfg.RequireCredentials()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	bootID := uuid.NewString()
	logger := logging.New(cfg, version, appName, bootID)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"boot_id", bootID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx, cfg, app.Options{BootID: bootID})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case recovery.IsFault(err):
		// Reached only when the restarter returned, e.g. exec failed and
		// the fallback exit was intercepted.
		slog.Error("fault not handled by restarter", "err", err)
		os.Exit(cfg.RestartExitCode)
	default:
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}
