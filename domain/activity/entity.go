package activity

import (
	"time"

	"github.com/uptrace/bun"
)

// Actions written by the sync engine.
const (
	ActionSyncStarted   = "crm_sync_started"
	ActionSyncCompleted = "crm_sync_completed"

	ResourceIntegration = "crm_integration"
)

// LogEntry is one row of audit.activity_logs.
type LogEntry struct {
	bun.BaseModel `bun:"table:audit.activity_logs,alias:al"`

	ID             string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	OrganizationID string         `bun:"organization_id,notnull,type:uuid" json:"organizationId"`
	Action         string         `bun:"action,notnull" json:"action"`
	ResourceType   string         `bun:"resource_type,notnull" json:"resourceType"`
	ResourceID     string         `bun:"resource_id,nullzero" json:"resourceId,omitempty"`
	Details        map[string]any `bun:"details,type:jsonb,notnull" json:"details"`
	CreatedAt      time.Time      `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// Entry is the input to Recorder.Record.
type Entry struct {
	OrganizationID string
	Action         string
	ResourceType   string
	ResourceID     string
	Details        map[string]any
}

// ListResponse is the response for listing audit rows.
type ListResponse struct {
	Data []LogEntry `json:"data"`
}
