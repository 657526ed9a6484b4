// Package records defines the canonical donor, donation and interaction
// rows shared by the reconciliation store, the provider adapters and the
// sync engine.
package records

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Source identifies where a canonical row originated.
type Source string

const (
	SourceManual     Source = "manual"
	SourceImport     Source = "import"
	SourceSalesforce Source = "salesforce"
	SourceHubSpot    Source = "hubspot"
	SourceBloomerang Source = "bloomerang"
	SourceKindful    Source = "kindful"
	SourceNeonOne    Source = "neonone"
)

var providerSources = map[Source]bool{
	SourceSalesforce: true,
	SourceHubSpot:    true,
	SourceBloomerang: true,
	SourceKindful:    true,
	SourceNeonOne:    true,
}

// IsProvider reports whether s names an external CRM.
func (s Source) IsProvider() bool {
	return providerSources[s]
}

// Valid reports whether s is a known source value.
func (s Source) Valid() bool {
	return s == SourceManual || s == SourceImport || s.IsProvider()
}

// ParseSource validates a provider name.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	if !src.IsProvider() {
		return "", fmt.Errorf("unknown CRM provider %q", s)
	}
	return src, nil
}

// Entity names one of the three synchronized record kinds.
type Entity string

const (
	EntityDonors       Entity = "donors"
	EntityDonations    Entity = "donations"
	EntityInteractions Entity = "interactions"
)

// Canonical payment methods.
const (
	PaymentCreditCard   = "credit_card"
	PaymentBankTransfer = "bank_transfer"
	PaymentCheck        = "check"
	PaymentCash         = "cash"
	PaymentPayPal       = "paypal"
	PaymentStock        = "stock"
	PaymentOther        = "other"
)

// Canonical interaction channels.
const (
	ChannelEmail   = "email"
	ChannelPhone   = "phone"
	ChannelMeeting = "meeting"
	ChannelEvent   = "event"
	ChannelLetter  = "letter"
	ChannelNote    = "note"
	ChannelOther   = "other"
)

// SyncMetadata is the crm_sync_metadata JSONB column.
type SyncMetadata struct {
	Provider        Source     `json:"provider,omitempty"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`
	RemoteUpdatedAt *time.Time `json:"remoteUpdatedAt,omitempty"`
}

// Value implements driver.Valuer. The JSON is returned as a string so it is
// rendered as a text literal rather than bytea.
func (m SyncMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *SyncMetadata) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = SyncMetadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan SyncMetadata: unsupported type %T", value)
	}
	return json.Unmarshal(data, m)
}

// Donor maps to crm.donors.
type Donor struct {
	bun.BaseModel `bun:"table:crm.donors,alias:d"`

	ID             string       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	OrganizationID string       `bun:"organization_id,notnull,type:uuid" json:"organizationId"`
	Name           string       `bun:"name,notnull" json:"name"`
	FirstName      string       `bun:"first_name,nullzero" json:"firstName,omitempty"`
	LastName       string       `bun:"last_name,nullzero" json:"lastName,omitempty"`
	Email          string       `bun:"email,nullzero" json:"email,omitempty"`
	Phone          string       `bun:"phone,nullzero" json:"phone,omitempty"`
	Address        string       `bun:"address,nullzero" json:"address,omitempty"`
	DonorType      string       `bun:"donor_type,notnull,default:'individual'" json:"donorType"`
	TotalDonated   float64      `bun:"total_donated,notnull,default:0" json:"totalDonated"`
	Notes          string       `bun:"notes,nullzero" json:"notes,omitempty"`
	Source         Source       `bun:"source,notnull,default:'manual'" json:"source"`
	ExternalID     string       `bun:"external_id,nullzero" json:"externalId,omitempty"`
	SyncMetadata   SyncMetadata `bun:"crm_sync_metadata,type:jsonb,notnull" json:"crmSyncMetadata"`
	CreatedAt      time.Time    `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt      time.Time    `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Donor columns an adapter may map.
const (
	DonorColName         = "name"
	DonorColFirstName    = "first_name"
	DonorColLastName     = "last_name"
	DonorColEmail        = "email"
	DonorColPhone        = "phone"
	DonorColAddress      = "address"
	DonorColDonorType    = "donor_type"
	DonorColTotalDonated = "total_donated"
	DonorColNotes        = "notes"
)

// Donation maps to crm.donations.
type Donation struct {
	bun.BaseModel `bun:"table:crm.donations,alias:dn"`

	ID             string       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	OrganizationID string       `bun:"organization_id,notnull,type:uuid" json:"organizationId"`
	DonorID        string       `bun:"donor_id,notnull,type:uuid" json:"donorId"`
	Amount         float64      `bun:"amount,notnull" json:"amount"`
	Currency       string       `bun:"currency,notnull,default:'USD'" json:"currency"`
	Date           time.Time    `bun:"donation_date,nullzero" json:"date"`
	PaymentMethod  string       `bun:"payment_method,notnull,default:'other'" json:"paymentMethod"`
	Campaign       string       `bun:"campaign,nullzero" json:"campaign,omitempty"`
	Fund           string       `bun:"fund,nullzero" json:"fund,omitempty"`
	IsRecurring    bool         `bun:"is_recurring,notnull,default:false" json:"isRecurring"`
	Notes          string       `bun:"notes,nullzero" json:"notes,omitempty"`
	Source         Source       `bun:"source,notnull,default:'manual'" json:"source"`
	ExternalID     string       `bun:"external_id,nullzero" json:"externalId,omitempty"`
	SyncMetadata   SyncMetadata `bun:"crm_sync_metadata,type:jsonb,notnull" json:"crmSyncMetadata"`
	CreatedAt      time.Time    `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt      time.Time    `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Donation columns an adapter may map. donor_id is resolved by the store.
const (
	DonationColAmount        = "amount"
	DonationColCurrency      = "currency"
	DonationColDate          = "donation_date"
	DonationColPaymentMethod = "payment_method"
	DonationColCampaign      = "campaign"
	DonationColFund          = "fund"
	DonationColIsRecurring   = "is_recurring"
	DonationColNotes         = "notes"
)

// Interaction maps to crm.interactions.
type Interaction struct {
	bun.BaseModel `bun:"table:crm.interactions,alias:i"`

	ID             string       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	OrganizationID string       `bun:"organization_id,notnull,type:uuid" json:"organizationId"`
	DonorID        string       `bun:"donor_id,notnull,type:uuid" json:"donorId"`
	Channel        string       `bun:"channel,notnull,default:'other'" json:"channel"`
	Subject        string       `bun:"subject,nullzero" json:"subject,omitempty"`
	Notes          string       `bun:"notes,nullzero" json:"notes,omitempty"`
	OccurredAt     time.Time    `bun:"occurred_at,nullzero" json:"occurredAt"`
	Status         string       `bun:"status,notnull,default:'completed'" json:"status"`
	Source         Source       `bun:"source,notnull,default:'manual'" json:"source"`
	ExternalID     string       `bun:"external_id,nullzero" json:"externalId,omitempty"`
	SyncMetadata   SyncMetadata `bun:"crm_sync_metadata,type:jsonb,notnull" json:"crmSyncMetadata"`
	CreatedAt      time.Time    `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt      time.Time    `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Interaction columns an adapter may map.
const (
	InteractionColChannel    = "channel"
	InteractionColSubject    = "subject"
	InteractionColNotes      = "notes"
	InteractionColOccurredAt = "occurred_at"
	InteractionColStatus     = "status"
)
