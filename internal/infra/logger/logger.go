package logger

import (
	"log/slog"
	"os"
)

// New — JSON-логгер сервиса: debug в dev, info в остальных окружениях.
// Каждая запись несёт имя сервиса и окружение.
func New(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "prodplan", "env", env)
}
