package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/pkg/apperror"
	"github.com/nexus-fundraising/nexus/pkg/encryption"
	"github.com/nexus-fundraising/nexus/pkg/logger"
	"github.com/nexus-fundraising/nexus/pkg/mathutil"
)

const (
	minSyncIntervalMinutes     = 5
	defaultSyncIntervalMinutes = 60
	// maxPageSize bounds CRM_PAGE_SIZE.
	maxPageSize = 100
)

// Service manages CRM integrations and builds adapters from their stored
// credentials.
type Service struct {
	repo     *Repository
	cipher   encryption.Cipher
	adapters *crm.Registry
	catalog  *Catalog
	cfg      *config.CRMConfig
	log      *slog.Logger
}

// NewService creates the integrations service.
func NewService(repo *Repository, cipher encryption.Cipher, adapters *crm.Registry, catalog *Catalog, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		cipher:   cipher,
		adapters: adapters,
		catalog:  catalog,
		cfg:      &cfg.CRM,
		log:      log.With(logger.Scope("integrations.svc")),
	}
}

// List returns an organization's integrations.
func (s *Service) List(ctx context.Context, orgID string) ([]*Integration, error) {
	if err := validateOrgID(orgID); err != nil {
		return nil, err
	}
	items, err := s.repo.List(ctx, orgID)
	if err != nil {
		return nil, apperror.NewInternal("failed to list integrations", err)
	}
	return items, nil
}

// Get returns an integration by id.
func (s *Service) Get(ctx context.Context, id string) (*Integration, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperror.ErrIntegrationNotFound
	}
	integration, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIntegrationNotFound) {
			return nil, apperror.ErrIntegrationNotFound
		}
		return nil, apperror.NewInternal("failed to get integration", err)
	}
	return integration, nil
}

// Resolve finds the integration a sync request targets. Without a provider
// the organization must have exactly one integration.
func (s *Service) Resolve(ctx context.Context, orgID string, provider records.Source) (*Integration, error) {
	if err := validateOrgID(orgID); err != nil {
		return nil, err
	}

	if provider != "" {
		integration, err := s.repo.GetByProvider(ctx, orgID, provider)
		if err != nil {
			if errors.Is(err, ErrIntegrationNotFound) {
				return nil, apperror.ErrIntegrationNotFound.WithMessage(
					fmt.Sprintf("No %s integration found for this organization", provider))
			}
			return nil, apperror.NewInternal("failed to load integration", err)
		}
		return integration, nil
	}

	items, err := s.repo.List(ctx, orgID)
	if err != nil {
		return nil, apperror.NewInternal("failed to load integrations", err)
	}
	switch len(items) {
	case 1:
		return items[0], nil
	case 0:
		return nil, apperror.NewBadRequest("provider is required: organization has no CRM integration")
	default:
		return nil, apperror.NewBadRequest(
			fmt.Sprintf("provider is required: organization has %d CRM integrations", len(items)))
	}
}

// Connect stores a new integration with encrypted credentials. The
// integration starts paused until its first sync.
func (s *Service) Connect(ctx context.Context, dto ConnectIntegrationDTO) (*Integration, error) {
	if err := validateOrgID(dto.OrganizationID); err != nil {
		return nil, err
	}
	provider, err := records.ParseSource(dto.Provider)
	if err != nil || !s.catalog.Exists(provider) {
		return nil, apperror.ErrProviderUnsupported.WithMessage("unsupported CRM provider: " + dto.Provider)
	}

	integration := &Integration{
		OrganizationID:      dto.OrganizationID,
		Provider:            provider,
		SyncStatus:          StatusPaused,
		SyncIntervalMinutes: defaultSyncIntervalMinutes,
		SyncDirection:       crm.DirectionPull,
	}
	if err := applySettings(integration, dto.AutoSync, dto.SyncIntervalMinutes, dto.SyncDirection); err != nil {
		return nil, err
	}
	if err := s.setCredentials(ctx, integration, dto.Credentials); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByProvider(ctx, dto.OrganizationID, provider); err == nil {
		return nil, apperror.ErrConflict.WithMessage(
			fmt.Sprintf("a %s integration already exists for this organization", provider))
	} else if !errors.Is(err, ErrIntegrationNotFound) {
		return nil, apperror.NewInternal("failed to check integration existence", err)
	}

	if err := s.repo.Create(ctx, integration); err != nil {
		if errors.Is(err, ErrIntegrationExists) {
			return nil, apperror.ErrConflict.WithMessage(
				fmt.Sprintf("a %s integration already exists for this organization", provider))
		}
		return nil, apperror.NewInternal("failed to create integration", err)
	}

	s.log.Info("crm integration connected",
		slog.String("organization_id", integration.OrganizationID),
		slog.String("provider", string(provider)))
	return integration, nil
}

// Update changes auto-sync settings and, when given, replaces the
// credentials. New credentials take an integration out of error.
func (s *Service) Update(ctx context.Context, id string, dto UpdateIntegrationDTO) (*Integration, error) {
	integration, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := applySettings(integration, dto.AutoSync, dto.SyncIntervalMinutes, dto.SyncDirection); err != nil {
		return nil, err
	}
	if len(dto.Credentials) > 0 {
		if err := s.setCredentials(ctx, integration, dto.Credentials); err != nil {
			return nil, err
		}
		if integration.SyncStatus == StatusError {
			integration.SyncStatus = StatusPaused
		}
	}

	if err := s.repo.UpdateSettings(ctx, integration); err != nil {
		if errors.Is(err, ErrIntegrationNotFound) {
			return nil, apperror.ErrIntegrationNotFound
		}
		return nil, apperror.NewInternal("failed to update integration", err)
	}
	return integration, nil
}

// Delete removes an integration. Synced records keep their provenance.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrIntegrationNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrIntegrationNotFound) {
			return apperror.ErrIntegrationNotFound
		}
		return apperror.NewInternal("failed to delete integration", err)
	}
	return nil
}

// TestConnection builds the adapter and performs its cheapest
// authenticated call.
func (s *Service) TestConnection(ctx context.Context, id string) (*TestConnectionResponseDTO, error) {
	integration, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	adapter, err := s.Adapter(ctx, integration)
	if err != nil {
		return &TestConnectionResponseDTO{Success: false, Message: err.Error()}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.Options(integration.Provider).Retry.Budget(s.cfg.CallTimeout))
	defer cancel()
	if err := adapter.TestConnection(callCtx); err != nil {
		return &TestConnectionResponseDTO{Success: false, Message: err.Error()}, nil
	}
	return &TestConnectionResponseDTO{Success: true, Message: "Connection test successful"}, nil
}

// Adapter decrypts the integration's credentials and builds its provider
// adapter.
func (s *Service) Adapter(ctx context.Context, integration *Integration) (crm.Adapter, error) {
	creds, err := s.Credentials(ctx, integration)
	if err != nil {
		return nil, err
	}
	return s.adapters.New(integration.Provider, creds, s.Options(integration.Provider))
}

// Credentials decrypts and decodes the stored credentials.
func (s *Service) Credentials(ctx context.Context, integration *Integration) (crm.Credentials, error) {
	if !integration.HasCredentials() {
		return nil, fmt.Errorf("%w: no credentials stored", crm.ErrInvalidCredentials)
	}
	m, err := s.cipher.Decrypt(ctx, *integration.CredentialsEncrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crm.ErrInvalidCredentials, err)
	}
	return crm.CredentialsFromMap(m)
}

// Options returns the adapter options configured for a provider.
func (s *Service) Options(provider records.Source) crm.Options {
	pc := s.cfg.Provider(string(provider))
	return crm.Options{
		BaseURL:    pc.BaseURL,
		PageSize:   mathutil.ClampInt(s.cfg.PageSize, 1, maxPageSize),
		HTTPClient: &http.Client{Timeout: s.cfg.CallTimeout},
		Retry: crm.RetryPolicy{
			MaxRetries: s.cfg.MaxRetries,
			BaseDelay:  s.cfg.RetryBaseDelay,
			MaxDelay:   s.cfg.RetryMaxDelay,
		},
		Logger: s.log,
		Now:    time.Now,
	}
}

// RateLimiter returns a fresh limiter with the provider's request delay.
func (s *Service) RateLimiter(provider records.Source) *crm.RateLimiter {
	return crm.NewRateLimiter(s.cfg.Provider(string(provider)).RequestDelay)
}

// MarkSyncing forces the integration into syncing.
func (s *Service) MarkSyncing(ctx context.Context, id string) error {
	return s.repo.MarkSyncing(ctx, id)
}

// MarkFinished records the outcome of a run.
func (s *Service) MarkFinished(ctx context.Context, id string, status Status, lastError string, at time.Time) error {
	return s.repo.MarkFinished(ctx, id, status, lastError, at)
}

// ListAutoSyncDue returns integrations due for an automatic sync.
func (s *Service) ListAutoSyncDue(ctx context.Context, now time.Time) ([]*Integration, error) {
	return s.repo.ListAutoSyncDue(ctx, now)
}

// RecoverStuck resets integrations left in syncing without a live lease.
func (s *Service) RecoverStuck(ctx context.Context) (int, error) {
	return s.repo.RecoverStuck(ctx)
}

// ToDTO renders an integration with masked credential hints.
func (s *Service) ToDTO(ctx context.Context, integration *Integration) IntegrationDTO {
	dto := integration.ToDTO()
	if !integration.HasCredentials() {
		return dto
	}
	m, err := s.cipher.Decrypt(ctx, *integration.CredentialsEncrypted)
	if err != nil {
		s.log.Warn("failed to decrypt credentials for display",
			slog.String("id", integration.ID),
			logger.Error(err))
		return dto
	}
	dto.Credentials = maskCredentials(m)
	return dto
}

func (s *Service) setCredentials(ctx context.Context, integration *Integration, raw map[string]any) error {
	if len(raw) == 0 {
		return apperror.NewBadRequest("credentials are required")
	}
	creds, err := crm.CredentialsFromMap(raw)
	if err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	if p, ok := s.catalog.Get(integration.Provider); ok && p.CredentialType != "" && p.CredentialType != creds.Type() {
		return apperror.NewBadRequest(
			fmt.Sprintf("%s requires %s credentials", integration.Provider, p.CredentialType))
	}

	normalized, err := crm.CredentialsToMap(creds)
	if err != nil {
		return apperror.NewInternal("failed to encode credentials", err)
	}
	encrypted, err := s.cipher.Encrypt(ctx, normalized)
	if err != nil {
		return apperror.NewInternal("failed to encrypt credentials", err)
	}
	integration.CredentialsEncrypted = &encrypted
	return nil
}

func applySettings(integration *Integration, autoSync *bool, interval *int, direction *string) error {
	if autoSync != nil {
		integration.AutoSync = *autoSync
	}
	if interval != nil {
		if *interval < minSyncIntervalMinutes {
			return apperror.NewBadRequest(
				fmt.Sprintf("syncIntervalMinutes must be at least %d", minSyncIntervalMinutes))
		}
		integration.SyncIntervalMinutes = *interval
	}
	if direction != nil {
		d := crm.Direction(*direction)
		if !d.Valid() {
			return apperror.NewBadRequest("syncDirection must be one of pull, push, bidirectional")
		}
		integration.SyncDirection = d
	}
	return nil
}

func validateOrgID(orgID string) error {
	if orgID == "" {
		return apperror.NewBadRequest("organizationId is required")
	}
	if _, err := uuid.Parse(orgID); err != nil {
		return apperror.NewBadRequest("Invalid organizationId format")
	}
	return nil
}

var sensitiveCredentialKeys = map[string]bool{
	"accessToken":  true,
	"refreshToken": true,
	"apiKey":       true,
	"apiSecret":    true,
}

// maskCredentials keeps non-secret fields and reduces secrets to a hint.
func maskCredentials(creds map[string]any) map[string]any {
	masked := make(map[string]any, len(creds))
	for key, value := range creds {
		if !sensitiveCredentialKeys[key] {
			masked[key] = value
			continue
		}
		if str, ok := value.(string); ok && len(str) > 8 {
			masked[key] = str[:4] + "****"
		} else {
			masked[key] = "****"
		}
	}
	return masked
}
