package sl

import (
	"io"
	"log/slog"
)

// Окружения из конфигурации.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// New создаёт логгер для окружения: текст с уровнем debug локально и в dev,
// JSON с уровнем info в prod и во всех неизвестных окружениях.
func New(env string, w io.Writer) *slog.Logger {
	switch env {
	case EnvLocal, EnvDev:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}
