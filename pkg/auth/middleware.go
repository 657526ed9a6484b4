// Package auth authenticates API callers by the X-API-Key header.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/pkg/apperror"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// HeaderAPIKey carries the caller's key.
const HeaderAPIKey = "X-API-Key"

// Module provides the auth middleware.
var Module = fx.Module("auth",
	fx.Provide(NewMiddleware),
)

// Caller identifies an authenticated API client. KeyID is a short
// fingerprint of the key, safe to log and store in audit rows.
type Caller struct {
	KeyID string `json:"keyId"`
}

type contextKey string

const CallerContextKey contextKey = "auth_caller"

// GetCaller retrieves the authenticated caller from the Echo context.
func GetCaller(c echo.Context) *Caller {
	if caller, ok := c.Get(string(CallerContextKey)).(*Caller); ok {
		return caller
	}
	return nil
}

// Middleware handles authentication for routes.
type Middleware struct {
	log    *slog.Logger
	hashes [][sha256.Size]byte
}

// NewMiddleware creates the middleware from the configured API keys.
func NewMiddleware(cfg *config.Config, log *slog.Logger) *Middleware {
	m := &Middleware{log: log.With(logger.Scope("auth"))}
	for _, key := range cfg.Auth.APIKeys {
		if key == "" {
			continue
		}
		m.hashes = append(m.hashes, sha256.Sum256([]byte(key)))
	}
	if len(m.hashes) == 0 {
		m.log.Warn("no API keys configured, requests are not authenticated")
	}
	return m
}

// Enabled reports whether any key is configured.
func (m *Middleware) Enabled() bool {
	return len(m.hashes) > 0
}

// RequireAuth returns middleware that rejects requests without a valid key.
// With no keys configured every request passes as an anonymous caller.
func (m *Middleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.Enabled() {
				c.Set(string(CallerContextKey), &Caller{KeyID: "anonymous"})
				return next(c)
			}

			key := c.Request().Header.Get(HeaderAPIKey)
			if key == "" {
				return apperror.ErrUnauthorized.WithMessage("missing " + HeaderAPIKey + " header")
			}

			sum := sha256.Sum256([]byte(key))
			if !m.matches(sum) {
				m.log.Warn("rejected API key",
					slog.String("key_id", fingerprint(sum)),
					slog.String("remote_ip", c.RealIP()))
				return apperror.ErrInvalidKey
			}

			c.Set(string(CallerContextKey), &Caller{KeyID: fingerprint(sum)})
			return next(c)
		}
	}
}

func (m *Middleware) matches(sum [sha256.Size]byte) bool {
	found := 0
	for _, h := range m.hashes {
		found |= subtle.ConstantTimeCompare(h[:], sum[:])
	}
	return found == 1
}

func fingerprint(sum [sha256.Size]byte) string {
	return hex.EncodeToString(sum[:4])
}
