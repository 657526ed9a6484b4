package integrations

import (
	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
)

var knownProviders = map[records.Source]ProviderDTO{
	records.SourceSalesforce: {
		Name:                string(records.SourceSalesforce),
		DisplayName:         "Salesforce",
		Description:         "Contacts, won opportunities and completed tasks from Salesforce NPSP",
		CredentialType:      crm.CredentialOAuth2,
		RequiredCredentials: []string{"accessToken", "instanceUrl"},
		Capabilities: ProviderCapabilitiesDTO{
			SupportsPull:            true,
			SupportsDonorPush:       true,
			SupportsInteractionPush: true,
			RequiresOAuth:           true,
		},
	},
	records.SourceHubSpot: {
		Name:                string(records.SourceHubSpot),
		DisplayName:         "HubSpot",
		Description:         "Contacts, deals and engagements from HubSpot",
		CredentialType:      crm.CredentialOAuth2,
		RequiredCredentials: []string{"accessToken"},
		Capabilities: ProviderCapabilitiesDTO{
			SupportsPull:            true,
			SupportsDonorPush:       true,
			SupportsInteractionPush: true,
			RequiresOAuth:           true,
		},
	},
	records.SourceBloomerang: {
		Name:                string(records.SourceBloomerang),
		DisplayName:         "Bloomerang",
		Description:         "Constituents, transactions and interactions from Bloomerang",
		CredentialType:      crm.CredentialAPIKey,
		RequiredCredentials: []string{"apiKey"},
		Capabilities: ProviderCapabilitiesDTO{
			SupportsPull:            true,
			SupportsDonorPush:       true,
			SupportsInteractionPush: true,
		},
	},
	records.SourceNeonOne: {
		Name:                string(records.SourceNeonOne),
		DisplayName:         "Neon One",
		Description:         "Accounts, donations and activities from Neon CRM",
		CredentialType:      crm.CredentialAPIKey,
		RequiredCredentials: []string{"apiKey", "accountId"},
		Capabilities: ProviderCapabilitiesDTO{
			SupportsPull:      true,
			SupportsDonorPush: true,
		},
	},
}

// Catalog lists the providers an organization can connect. Only providers
// with a registered adapter are offered.
type Catalog struct {
	adapters *crm.Registry
}

// NewCatalog creates a catalog backed by the adapter registry.
func NewCatalog(adapters *crm.Registry) *Catalog {
	return &Catalog{adapters: adapters}
}

// List returns the available providers in name order.
func (c *Catalog) List() []ProviderDTO {
	sources := c.adapters.Sources()
	out := make([]ProviderDTO, 0, len(sources))
	for _, src := range sources {
		if p, ok := c.Get(src); ok {
			out = append(out, p)
		}
	}
	return out
}

// Get returns a provider's catalog entry.
func (c *Catalog) Get(source records.Source) (ProviderDTO, bool) {
	if !c.adapters.Has(source) {
		return ProviderDTO{}, false
	}
	if p, ok := knownProviders[source]; ok {
		return p, true
	}
	return ProviderDTO{
		Name:         string(source),
		DisplayName:  string(source),
		Capabilities: ProviderCapabilitiesDTO{SupportsPull: true},
	}, true
}

// Exists reports whether source can be connected.
func (c *Catalog) Exists(source records.Source) bool {
	return c.adapters.Has(source)
}
