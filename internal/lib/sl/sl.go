// Package sl содержит вспомогательные функции для логгера slog,
// которые приводят структурированные поля к единому виду во всех сервисах.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
// Для nil-ошибки значение пустое, чтобы лог не падал в ветках,
// где ошибка опциональна.
//
// Пример:
//
//	log.Error("failed to expire trial", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Op возвращает атрибут "op" с именем операции.
func Op(op string) slog.Attr {
	return slog.String("op", op)
}
