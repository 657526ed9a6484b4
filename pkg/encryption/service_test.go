package encryption

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fundraising/nexus/internal/config"
)

func TestNullService_Encrypt(t *testing.T) {
	ctx := context.Background()
	svc := NewNullService()

	tests := []struct {
		name     string
		settings map[string]any
		wantErr  bool
	}{
		{name: "empty settings", settings: map[string]any{}},
		{name: "simple value", settings: map[string]any{"apiKey": "secret"}},
		{name: "nested", settings: map[string]any{"nested": map[string]any{"enabled": true}}},
		{name: "unmarshallable channel", settings: map[string]any{"ch": make(chan int)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := svc.Encrypt(ctx, tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, out)
		})
	}
}

func TestNullService_Decrypt(t *testing.T) {
	ctx := context.Background()
	svc := NewNullService()

	got, err := svc.Decrypt(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = svc.Decrypt(ctx, `{"type":"api_key","apiKey":"k"}`)
	require.NoError(t, err)
	assert.Equal(t, "k", got["apiKey"])

	_, err = svc.Decrypt(ctx, "not json")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = svc.Decrypt(ctx, `["a"]`)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNullService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewNullService()

	original := map[string]any{"apiKey": "secret123", "timeout": float64(30), "enabled": true}
	enc, err := svc.Encrypt(ctx, original)
	require.NoError(t, err)
	dec, err := svc.Decrypt(ctx, enc)
	require.NoError(t, err)
	assert.Equal(t, original, dec)
}

func TestService_IsConfigured(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"empty key", "", false},
		{"short key", "1234567890123456789012345678901", false},
		{"exact minimum", "12345678901234567890123456789012", true},
		{"long key", "1234567890123456789012345678901234567890", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(nil, &config.Config{EncryptionKey: tt.key}, slog.Default())
			assert.Equal(t, tt.want, svc.IsConfigured())
		})
	}
}

func TestService_WithoutKeyStoresPlainJSON(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, &config.Config{}, slog.Default())

	enc, err := svc.Encrypt(ctx, map[string]any{"apiKey": "k"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"apiKey":"k"}`, enc)

	dec, err := svc.Decrypt(ctx, enc)
	require.NoError(t, err)
	assert.Equal(t, "k", dec["apiKey"])
}
