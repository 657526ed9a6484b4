package webhooks

import (
	"time"

	"github.com/uptrace/bun"
)

// Event types emitted by the sync engine.
const (
	EventSyncCompleted = "crm.sync_completed"
	EventSyncFailed    = "crm.sync_failed"
)

// Delivery states of an outbox row.
const (
	StatusPending = "pending"
)

// Event is one row of crm.webhook_events awaiting delivery.
type Event struct {
	bun.BaseModel `bun:"table:crm.webhook_events,alias:we"`

	ID             string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	OrganizationID string         `bun:"organization_id,notnull,type:uuid" json:"organizationId"`
	EventType      string         `bun:"event_type,notnull" json:"eventType"`
	Payload        map[string]any `bun:"payload,type:jsonb,notnull" json:"payload"`
	Status         string         `bun:"status,notnull,default:'pending'" json:"status"`
	CreatedAt      time.Time      `bun:"created_at,notnull,default:now()" json:"createdAt"`
}
