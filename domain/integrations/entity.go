package integrations

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
)

// Status is the integration's sync_status.
type Status string

const (
	StatusPaused    Status = "paused"
	StatusSyncing   Status = "syncing"
	StatusConnected Status = "connected"
	StatusError     Status = "error"
)

// Integration is one organization's connection to a CRM in crm.integrations.
type Integration struct {
	bun.BaseModel `bun:"table:crm.integrations,alias:i"`

	ID                   string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	OrganizationID       string         `bun:"organization_id,notnull,type:uuid" json:"organizationId"`
	Provider             records.Source `bun:"crm_type,notnull" json:"provider"`
	CredentialsEncrypted *string        `bun:"credentials_encrypted" json:"-"` // Never expose in JSON
	SyncStatus           Status         `bun:"sync_status,notnull,default:'paused'" json:"syncStatus"`
	LastSync             *time.Time     `bun:"last_sync" json:"lastSync,omitempty"`
	LastError            *string        `bun:"last_error" json:"lastError,omitempty"`
	AutoSync             bool           `bun:"auto_sync,notnull" json:"autoSync"`
	SyncIntervalMinutes  int            `bun:"sync_interval_minutes,notnull,default:60" json:"syncIntervalMinutes"`
	SyncDirection        crm.Direction  `bun:"sync_direction,notnull,default:'pull'" json:"syncDirection"`
	CreatedAt            time.Time      `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt            time.Time      `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// HasCredentials reports whether credentials are stored.
func (i *Integration) HasCredentials() bool {
	return i.CredentialsEncrypted != nil && *i.CredentialsEncrypted != ""
}
