// Package webhooks hands sync events to downstream delivery.
package webhooks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// Dispatcher emits an event for an organization's webhook subscribers.
type Dispatcher interface {
	Trigger(ctx context.Context, eventType string, payload map[string]any, orgID string) error
}

// OutboxDispatcher persists events to crm.webhook_events. A separate
// deliverer reads pending rows and performs the HTTP calls.
type OutboxDispatcher struct {
	db  bun.IDB
	log *slog.Logger
}

var _ Dispatcher = (*OutboxDispatcher)(nil)

// NewOutboxDispatcher creates an outbox-backed dispatcher.
func NewOutboxDispatcher(db bun.IDB, log *slog.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		db:  db,
		log: log.With(logger.Scope("webhooks")),
	}
}

// Trigger appends the event to the outbox.
func (d *OutboxDispatcher) Trigger(ctx context.Context, eventType string, payload map[string]any, orgID string) error {
	if payload == nil {
		payload = map[string]any{}
	}
	event := &Event{
		OrganizationID: orgID,
		EventType:      eventType,
		Payload:        payload,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := d.db.NewInsert().
		Model(event).
		ExcludeColumn("id").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue webhook event %s: %w", eventType, err)
	}

	d.log.Debug("webhook event queued",
		slog.String("event_id", event.ID),
		slog.String("event_type", eventType),
		slog.String("organization_id", orgID))
	return nil
}

// Pending returns the oldest undelivered events.
func (d *OutboxDispatcher) Pending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	events := []Event{}
	err := d.db.NewSelect().
		Model(&events).
		Where("status = ?", StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending webhook events: %w", err)
	}
	return events, nil
}
