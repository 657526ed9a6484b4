package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 512

// RetryPolicy controls retries of rate-limited and transient failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Budget bounds one call through a transport with this policy: every
// attempt running for attemptTimeout plus the longest Retry-After and
// backoff waits between attempts.
func (p RetryPolicy) Budget(attemptTimeout time.Duration) time.Duration {
	p = p.withDefaults()
	retries := time.Duration(p.MaxRetries)
	return (retries+1)*attemptTimeout + retries*2*p.MaxDelay
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	return retry.WithMaxRetries(uint64(p.MaxRetries), b)
}

// Authorizer decorates an outgoing request with credentials.
type Authorizer func(req *http.Request)

// Transport issues JSON requests against one provider API. It classifies
// failures into ProviderError and retries them with exponential backoff:
// rate limits on every request, transient failures only on requests that
// are safe to repeat. The HTTP client's timeout bounds each attempt.
type Transport struct {
	provider records.Source
	baseURL  string
	client   *http.Client
	auth     Authorizer
	retry    RetryPolicy
	log      *slog.Logger
}

// NewTransport creates a transport. auth may be nil when client already
// authorizes requests (oauth2 transports).
func NewTransport(provider records.Source, baseURL string, client *http.Client, auth Authorizer, policy RetryPolicy, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		auth:     auth,
		retry:    policy.withDefaults(),
		log:      log.With(logger.Scope("crm."+string(provider)+".transport")),
	}
}

// BaseURL returns the API root requests are resolved against.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// Request describes one API call.
type Request struct {
	Op     string
	Method string
	// Path is joined to the base URL unless it is absolute.
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
	// Idempotent marks a POST that only reads, such as a search, so
	// transient failures may be retried.
	Idempotent bool
}

// repeatable reports whether sending req twice has the effect of sending
// it once. A POST that creates a record may have been applied even when
// the response was lost.
func (r Request) repeatable() bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return r.Idempotent
}

func (t *Transport) shouldRetry(req Request, pe *ProviderError) bool {
	switch pe.Kind {
	case KindRateLimit:
		return true
	case KindTransient:
		return req.repeatable()
	}
	return false
}

// Do executes req and decodes a JSON response into out when out is non-nil.
func (t *Transport) Do(ctx context.Context, req Request, out any) error {
	var payload []byte
	if req.Body != nil {
		var err error
		if payload, err = json.Marshal(req.Body); err != nil {
			return fmt.Errorf("%s %s: encode request: %w", t.provider, req.Op, err)
		}
	}

	target := t.resolve(req.Path, req.Query)

	attempt := 0
	var last *ProviderError
	err := retry.Do(ctx, t.retry.backoff(), func(ctx context.Context) error {
		attempt++
		err := t.once(ctx, req, target, payload, out)
		var pe *ProviderError
		if !errors.As(err, &pe) || !t.shouldRetry(req, pe) {
			return err
		}
		last = pe

		wait := min(pe.RetryAfter, t.retry.MaxDelay)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			// The provider asked for a longer pause than the call has left.
			return err
		}

		t.log.Warn("provider call failed, retrying",
			slog.String("op", req.Op),
			slog.Int("attempt", attempt),
			slog.Int("status", pe.StatusCode),
			slog.String("kind", pe.Kind.String()),
			slog.Duration("retry_after", pe.RetryAfter))

		if wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
		return retry.RetryableError(err)
	})
	if err != nil && last != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Keep the provider's classification when the call ran out of time
		// between attempts.
		return fmt.Errorf("%w: %w", last, err)
	}
	return err
}

func (t *Transport) once(ctx context.Context, req Request, target string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return fmt.Errorf("%s %s: create request: %w", t.provider, req.Op, err)
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.auth != nil {
		t.auth(httpReq)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ProviderError{Provider: t.provider, Op: req.Op, Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Provider: t.provider, Op: req.Op, Kind: KindTransient, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return &ProviderError{
			Provider:   t.provider,
			Op:         req.Op,
			StatusCode: resp.StatusCode,
			Kind:       KindForStatus(resp.StatusCode),
			Message:    truncate(strings.TrimSpace(string(data)), maxErrorBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProviderError{Provider: t.provider, Op: req.Op, Kind: KindTransient, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (t *Transport) resolve(path string, query url.Values) string {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = t.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return target
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
