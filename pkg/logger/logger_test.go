package logger

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestScope(t *testing.T) {
	tests := []struct {
		name  string
		scope string
	}{
		{"basic scope", "crmsync"},
		{"nested scope", "crmsync.engine"},
		{"empty scope", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := Scope(tt.scope)
			assert.Equal(t, "scope", attr.Key)
			assert.Equal(t, tt.scope, attr.Value.String())
		})
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"simple error", errors.New("something went wrong")},
		{"nil error", nil},
		{"joined error", errors.Join(errors.New("outer"), errors.New("inner"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := Error(tt.err)
			assert.Equal(t, "error", attr.Key)
			assert.Equal(t, tt.err, attr.Value.Any())
		})
	}
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level    string
		enabled  slog.Level
		disabled *slog.Level
	}{
		{"", slog.LevelInfo, ptr(slog.LevelDebug)},
		{"debug", slog.LevelDebug, nil},
		{"DEBUG", slog.LevelDebug, nil},
		{"dEbUg", slog.LevelDebug, nil},
		{"info", slog.LevelInfo, ptr(slog.LevelDebug)},
		{"warn", slog.LevelWarn, ptr(slog.LevelInfo)},
		{"warning", slog.LevelWarn, ptr(slog.LevelInfo)},
		{"error", slog.LevelError, ptr(slog.LevelWarn)},
		{"invalid", slog.LevelInfo, ptr(slog.LevelDebug)},
	}

	for _, tt := range tests {
		t.Run("LOG_LEVEL="+tt.level, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.level)
			t.Setenv("GO_ENV", "")

			log := NewLogger()
			require.NotNil(t, log)
			assert.True(t, log.Enabled(context.Background(), tt.enabled))
			if tt.disabled != nil {
				assert.False(t, log.Enabled(context.Background(), *tt.disabled))
			}
		})
	}
}

func TestNewLogger_ProductionJSON(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GO_ENV", "production")

	log := NewLogger()
	require.NotNil(t, log)
	_, ok := log.Handler().(*slog.JSONHandler)
	assert.True(t, ok, "production should use the JSON handler")
}

func TestNewZapLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("GO_ENV", "")

	zl, err := NewZapLogger()
	require.NoError(t, err)
	assert.True(t, zl.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, zl.Core().Enabled(zapcore.InfoLevel))
}

func ptr(l slog.Level) *slog.Level { return &l }
