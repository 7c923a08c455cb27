package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Level aliases slog levels so callers can write logger.SetLevel(logger.DEBUG).
type Level = slog.Level

const (
	DEBUG Level = slog.LevelDebug
	INFO  Level = slog.LevelInfo
	WARN  Level = slog.LevelWarn
	ERROR Level = slog.LevelError
)

var (
	levelVar slog.LevelVar
	current  atomic.Pointer[slog.Logger]
)

func init() {
	levelVar.Set(INFO)
	current.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &levelVar})))
}

func SetLevel(l Level) {
	levelVar.Set(l)
}

// SetFormat switches the output format. Supported: "text" (default), "json".
// Unknown values fall back to text.
func SetFormat(format string) {
	opts := &slog.HandlerOptions{Level: &levelVar}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	current.Store(slog.New(h))
}

func get() *slog.Logger {
	return current.Load()
}

func DebugC(component, msg string) {
	get().Debug(msg, "component", component)
}

func InfoC(component, msg string) {
	get().Info(msg, "component", component)
}

func WarnC(component, msg string) {
	get().Warn(msg, "component", component)
}

func ErrorC(component, msg string) {
	get().Error(msg, "component", component)
}

func DebugCF(component, msg string, fields map[string]any) {
	get().Debug(msg, attrs(component, fields)...)
}

func InfoCF(component, msg string, fields map[string]any) {
	get().Info(msg, attrs(component, fields)...)
}

func WarnCF(component, msg string, fields map[string]any) {
	get().Warn(msg, attrs(component, fields)...)
}

func ErrorCF(component, msg string, fields map[string]any) {
	get().Error(msg, attrs(component, fields)...)
}

func attrs(component string, fields map[string]any) []any {
	out := make([]any, 0, 2+2*len(fields))
	out = append(out, "component", component)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
