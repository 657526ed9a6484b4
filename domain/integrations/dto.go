package integrations

import (
	"time"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
)

// ProviderCapabilitiesDTO describes what a provider adapter can do
type ProviderCapabilitiesDTO struct {
	SupportsPull            bool `json:"supportsPull"`
	SupportsDonorPush       bool `json:"supportsDonorPush"`
	SupportsInteractionPush bool `json:"supportsInteractionPush"`
	RequiresOAuth           bool `json:"requiresOAuth"`
}

// ProviderDTO represents a supported CRM from the catalog
type ProviderDTO struct {
	Name                string                  `json:"name"`
	DisplayName         string                  `json:"displayName"`
	Description         string                  `json:"description,omitempty"`
	CredentialType      crm.CredentialType      `json:"credentialType"`
	RequiredCredentials []string                `json:"requiredCredentials"`
	Capabilities        ProviderCapabilitiesDTO `json:"capabilities"`
}

// IntegrationDTO is an integration as returned by the API. Credentials are
// reduced to masked hints.
type IntegrationDTO struct {
	ID                  string         `json:"id"`
	OrganizationID      string         `json:"organizationId"`
	Provider            records.Source `json:"provider"`
	SyncStatus          Status         `json:"syncStatus"`
	LastSync            *time.Time     `json:"lastSync,omitempty"`
	LastError           *string        `json:"lastError,omitempty"`
	AutoSync            bool           `json:"autoSync"`
	SyncIntervalMinutes int            `json:"syncIntervalMinutes"`
	SyncDirection       crm.Direction  `json:"syncDirection"`
	HasCredentials      bool           `json:"hasCredentials"`
	Credentials         map[string]any `json:"credentials,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// ConnectIntegrationDTO is the payload for connecting a CRM
type ConnectIntegrationDTO struct {
	OrganizationID      string         `json:"organizationId"`
	Provider            string         `json:"provider"`
	Credentials         map[string]any `json:"credentials"`
	AutoSync            *bool          `json:"autoSync,omitempty"`
	SyncIntervalMinutes *int           `json:"syncIntervalMinutes,omitempty"`
	SyncDirection       *string        `json:"syncDirection,omitempty"`
}

// UpdateIntegrationDTO is the payload for changing an integration
type UpdateIntegrationDTO struct {
	AutoSync            *bool          `json:"autoSync,omitempty"`
	SyncIntervalMinutes *int           `json:"syncIntervalMinutes,omitempty"`
	SyncDirection       *string        `json:"syncDirection,omitempty"`
	Credentials         map[string]any `json:"credentials,omitempty"`
}

// TestConnectionResponseDTO represents the response from testing a connection
type TestConnectionResponseDTO struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ToDTO converts an Integration entity to DTO (without credentials)
func (i *Integration) ToDTO() IntegrationDTO {
	return IntegrationDTO{
		ID:                  i.ID,
		OrganizationID:      i.OrganizationID,
		Provider:            i.Provider,
		SyncStatus:          i.SyncStatus,
		LastSync:            i.LastSync,
		LastError:           i.LastError,
		AutoSync:            i.AutoSync,
		SyncIntervalMinutes: i.SyncIntervalMinutes,
		SyncDirection:       i.SyncDirection,
		HasCredentials:      i.HasCredentials(),
		CreatedAt:           i.CreatedAt,
		UpdatedAt:           i.UpdatedAt,
	}
}
