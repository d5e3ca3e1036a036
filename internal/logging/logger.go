package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New builds the process logger: colourised text in dev, JSON otherwise.
func New(appEnv string, level slog.Level, appName, version string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv, level, appName, version)
}

func NewWithWriter(w io.Writer, appEnv string, level slog.Level, appName, version string) *slog.Logger {
	if appEnv == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", appEnv,
	)
}
