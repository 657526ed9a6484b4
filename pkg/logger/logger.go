// Package logger builds the process-wide slog logger and the zap logger used
// by the migration tooling.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// Scope returns the attribute used to tag log lines with their component.
func Scope(name string) slog.Attr {
	return slog.String("scope", name)
}

// Error returns the attribute used to attach an error to a log line.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// NewLogger creates the application logger from LOG_LEVEL and GO_ENV.
// Production uses the JSON handler, everything else the text handler.
func NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// NewZapLogger creates a zap logger honoring the same LOG_LEVEL and GO_ENV
// conventions as NewLogger.
func NewZapLogger() (*zap.Logger, error) {
	var cfg zap.Config
	if os.Getenv("GO_ENV") == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(parseLevel(os.Getenv("LOG_LEVEL"))))
	return cfg.Build()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l <= slog.LevelDebug:
		return zapcore.DebugLevel
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
