// Package providers registers the built-in CRM adapters.
package providers

import (
	"go.uber.org/fx"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/crm/bloomerang"
	"github.com/nexus-fundraising/nexus/domain/crm/hubspot"
	"github.com/nexus-fundraising/nexus/domain/crm/neonone"
	"github.com/nexus-fundraising/nexus/domain/crm/salesforce"
	"github.com/nexus-fundraising/nexus/domain/records"
)

// Module provides the adapter registry
var Module = fx.Module("crm",
	fx.Provide(NewRegistry),
)

// NewRegistry returns a registry holding every built-in adapter.
func NewRegistry() *crm.Registry {
	r := crm.NewRegistry()
	r.Register(records.SourceSalesforce, salesforce.New)
	r.Register(records.SourceHubSpot, hubspot.New)
	r.Register(records.SourceBloomerang, bloomerang.New)
	r.Register(records.SourceNeonOne, neonone.New)
	return r
}
