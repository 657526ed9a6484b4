// Package encryption protects stored CRM credentials with the PostgreSQL
// pgcrypto extension (pgp_sym_encrypt/pgp_sym_decrypt).
package encryption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// MinKeyLength is the shortest key accepted as AES-256 strength.
const MinKeyLength = 32

var (
	ErrKeyNotConfigured = errors.New("encryption key not configured")
	ErrDecryptionFailed = errors.New("failed to decrypt data")
)

// Cipher encrypts and decrypts JSON settings maps.
type Cipher interface {
	Encrypt(ctx context.Context, settings map[string]any) (string, error)
	Decrypt(ctx context.Context, data string) (map[string]any, error)
	IsConfigured() bool
}

// Module provides the pgcrypto-backed Cipher.
var Module = fx.Module("encryption",
	fx.Provide(
		fx.Annotate(NewService, fx.As(new(Cipher))),
	),
)

// Service is the pgcrypto Cipher. Without a key it stores plain JSON,
// which is refused in production by config validation.
type Service struct {
	db  bun.IDB
	log *slog.Logger
	key string
}

var _ Cipher = (*Service)(nil)

// NewService creates the encryption service.
func NewService(db bun.IDB, cfg *config.Config, log *slog.Logger) *Service {
	svc := &Service{
		db:  db,
		log: log.With(logger.Scope("encryption")),
		key: cfg.EncryptionKey,
	}

	switch {
	case svc.key == "":
		svc.log.Warn("CRM_CREDENTIALS_ENCRYPTION_KEY not set, credentials will NOT be encrypted")
	case len(svc.key) < MinKeyLength:
		svc.log.Warn("CRM_CREDENTIALS_ENCRYPTION_KEY is short for AES-256", slog.Int("length", len(svc.key)))
	}
	return svc
}

// IsConfigured reports whether a full-strength key is set.
func (s *Service) IsConfigured() bool {
	return len(s.key) >= MinKeyLength
}

// Encrypt returns base64 pgp_sym_encrypt output for the JSON of settings.
func (s *Service) Encrypt(ctx context.Context, settings map[string]any) (string, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal settings: %w", err)
	}
	if s.key == "" {
		return string(data), nil
	}

	var encrypted string
	err = s.db.NewRaw(
		"SELECT encode(pgp_sym_encrypt(?::text, ?::text), 'base64')",
		string(data), s.key,
	).Scan(ctx, &encrypted)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return encrypted, nil
}

// Decrypt reverses Encrypt.
func (s *Service) Decrypt(ctx context.Context, data string) (map[string]any, error) {
	if data == "" {
		return map[string]any{}, nil
	}
	if s.key == "" {
		return decodeSettings(data)
	}

	var decrypted string
	err := s.db.NewRaw(
		"SELECT pgp_sym_decrypt(decode(?, 'base64'), ?::text)",
		data, s.key,
	).Scan(ctx, &decrypted)
	if err != nil {
		s.log.Error("decrypt failed", logger.Error(err))
		return nil, ErrDecryptionFailed
	}
	return decodeSettings(decrypted)
}

func decodeSettings(data string) (map[string]any, error) {
	var settings map[string]any
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return settings, nil
}

// NullService is a Cipher that stores plain JSON. Used in tests.
type NullService struct{}

var _ Cipher = (*NullService)(nil)

func NewNullService() *NullService {
	return &NullService{}
}

func (n *NullService) Encrypt(_ context.Context, settings map[string]any) (string, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (n *NullService) Decrypt(_ context.Context, data string) (map[string]any, error) {
	if data == "" {
		return map[string]any{}, nil
	}
	return decodeSettings(data)
}

func (n *NullService) IsConfigured() bool {
	return false
}
