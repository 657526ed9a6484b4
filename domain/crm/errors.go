package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nexus-fundraising/nexus/domain/records"
)

var (
	// ErrReconnectRequired means the stored credentials can no longer be
	// used and the organization has to reconnect the integration.
	ErrReconnectRequired   = errors.New("crm credentials expired, reconnect required")
	ErrInvalidCredentials  = errors.New("invalid crm credentials")
	ErrUnsupportedProvider = errors.New("unsupported crm provider")
	ErrMapping             = errors.New("cannot map record")
)

// Kind classifies provider failures by how the engine reacts to them.
type Kind int

const (
	// KindRecord fails only the record being processed.
	KindRecord Kind = iota
	// KindAuth aborts the whole run.
	KindAuth
	// KindRateLimit is retried with backoff, then aborts the phase.
	KindRateLimit
	// KindTransient is retried with backoff, then aborts the phase.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	default:
		return "record"
	}
}

// ProviderError is a classified failure from a provider call.
type ProviderError struct {
	Provider   records.Source
	Op         string
	StatusCode int
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Provider, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindForStatus maps an HTTP status to a failure kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindTransient
	default:
		return KindRecord
	}
}

// KindOf classifies any error returned by an adapter. Unclassified errors
// are per-record failures.
func KindOf(err error) Kind {
	if errors.Is(err, ErrReconnectRequired) || errors.Is(err, ErrInvalidCredentials) {
		return KindAuth
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindRecord
}

// IsAuth reports whether err must abort the whole run.
func IsAuth(err error) bool {
	return err != nil && KindOf(err) == KindAuth
}

// IsRateLimit reports whether err is an exhausted rate limit.
func IsRateLimit(err error) bool {
	return err != nil && KindOf(err) == KindRateLimit
}

// MappingError wraps a per-record mapping failure.
func MappingError(externalID, format string, args ...any) error {
	return fmt.Errorf("%w %s: %s", ErrMapping, externalID, fmt.Sprintf(format, args...))
}
