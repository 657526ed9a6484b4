package crm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/nexus-fundraising/nexus/domain/records"
)

// CredentialType discriminates the stored credential variants.
type CredentialType string

const (
	CredentialOAuth2 CredentialType = "oauth2"
	CredentialAPIKey CredentialType = "api_key"
)

// Credentials is either OAuth2Credentials or APIKeyCredentials.
type Credentials interface {
	Type() CredentialType
}

// OAuth2Credentials holds a previously obtained token set.
type OAuth2Credentials struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	// InstanceURL is the account-specific API host (Salesforce).
	InstanceURL string `json:"instanceUrl,omitempty"`
}

func (OAuth2Credentials) Type() CredentialType { return CredentialOAuth2 }

// Expired reports whether the access token has passed its expiry.
// A zero ExpiresAt never expires.
func (c OAuth2Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Token converts the credentials to an oauth2 token.
func (c OAuth2Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.ExpiresAt,
	}
}

// OAuthClient returns a client that sends c's access token as a bearer
// header on every request made through base.
func OAuthClient(base *http.Client, c OAuth2Credentials) *http.Client {
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(c.Token()),
			Base:   rt,
		},
	}
}

// APIKeyCredentials holds a static key. AccountID is the provider's
// organization identifier where the API needs one (Neon One).
type APIKeyCredentials struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

func (APIKeyCredentials) Type() CredentialType { return CredentialAPIKey }

// DecodeCredentials parses the tagged JSON form.
func DecodeCredentials(data []byte) (Credentials, error) {
	var head struct {
		Type CredentialType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}

	switch head.Type {
	case CredentialOAuth2:
		var c OAuth2Credentials
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode oauth2 credentials: %w", err)
		}
		if c.AccessToken == "" {
			return nil, fmt.Errorf("%w: oauth2 credentials missing accessToken", ErrInvalidCredentials)
		}
		return c, nil
	case CredentialAPIKey:
		var c APIKeyCredentials
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode api_key credentials: %w", err)
		}
		if c.APIKey == "" {
			return nil, fmt.Errorf("%w: api_key credentials missing apiKey", ErrInvalidCredentials)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown credential type %q", ErrInvalidCredentials, head.Type)
	}
}

// EncodeCredentials renders the tagged JSON form.
func EncodeCredentials(c Credentials) ([]byte, error) {
	switch v := c.(type) {
	case OAuth2Credentials:
		return json.Marshal(struct {
			Type CredentialType `json:"type"`
			OAuth2Credentials
		}{CredentialOAuth2, v})
	case APIKeyCredentials:
		return json.Marshal(struct {
			Type CredentialType `json:"type"`
			APIKeyCredentials
		}{CredentialAPIKey, v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidCredentials, c)
	}
}

// CredentialsFromMap decodes credentials held as a generic JSON object.
func CredentialsFromMap(m map[string]any) (Credentials, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return DecodeCredentials(data)
}

// CredentialsToMap encodes credentials as a generic JSON object.
func CredentialsToMap(c Credentials) (map[string]any, error) {
	data, err := EncodeCredentials(c)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// RequireOAuth2 asserts an unexpired OAuth2 variant.
func RequireOAuth2(provider records.Source, creds Credentials, now time.Time) (OAuth2Credentials, error) {
	c, ok := creds.(OAuth2Credentials)
	if !ok {
		return OAuth2Credentials{}, fmt.Errorf("%w: %s requires oauth2 credentials, got %v", ErrInvalidCredentials, provider, typeOf(creds))
	}
	if c.Expired(now) {
		return OAuth2Credentials{}, &ProviderError{
			Provider: provider,
			Op:       "authenticate",
			Kind:     KindAuth,
			Message:  "access token expired",
			Err:      ErrReconnectRequired,
		}
	}
	return c, nil
}

// RequireAPIKey asserts the API key variant.
func RequireAPIKey(provider records.Source, creds Credentials) (APIKeyCredentials, error) {
	c, ok := creds.(APIKeyCredentials)
	if !ok {
		return APIKeyCredentials{}, fmt.Errorf("%w: %s requires api_key credentials, got %v", ErrInvalidCredentials, provider, typeOf(creds))
	}
	return c, nil
}

func typeOf(c Credentials) CredentialType {
	if c == nil {
		return "none"
	}
	return c.Type()
}
