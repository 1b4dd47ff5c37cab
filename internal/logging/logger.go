package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"cloudpico-airquality/internal/config"
)

func New(cfg config.Config, version, appName, bootID string) *slog.Logger {
	return newLogger(os.Stdout, cfg, version, appName, bootID)
}

func newLogger(w io.Writer, cfg config.Config, version, appName, bootID string) *slog.Logger {
	if version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		l := slog.New(h).With("app", appName)
		if bootID != "" {
			l = l.With("boot_id", bootID)
		}
		return l
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"boot_id", bootID,
	)
}
