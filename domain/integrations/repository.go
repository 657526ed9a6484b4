package integrations

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/pkg/logger"
	"github.com/nexus-fundraising/nexus/pkg/pgutils"
)

// Common errors
var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrIntegrationExists   = errors.New("integration already exists")
)

// Repository handles database operations for integrations
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new integrations repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("integrations.repo"))}
}

// List returns the integrations of an organization
func (r *Repository) List(ctx context.Context, orgID string) ([]*Integration, error) {
	var integrations []*Integration

	err := r.db.NewSelect().
		Model(&integrations).
		Where("organization_id = ?", orgID).
		Order("crm_type ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return integrations, nil
}

// GetByProvider returns an organization's integration with a provider
func (r *Repository) GetByProvider(ctx context.Context, orgID string, provider records.Source) (*Integration, error) {
	var integration Integration

	err := r.db.NewSelect().
		Model(&integration).
		Where("organization_id = ?", orgID).
		Where("crm_type = ?", provider).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntegrationNotFound
		}
		return nil, err
	}

	return &integration, nil
}

// GetByID returns an integration by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*Integration, error) {
	var integration Integration

	err := r.db.NewSelect().
		Model(&integration).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntegrationNotFound
		}
		return nil, err
	}

	return &integration, nil
}

// Create inserts a new integration
func (r *Repository) Create(ctx context.Context, integration *Integration) error {
	_, err := r.db.NewInsert().
		Model(integration).
		ExcludeColumn("id", "created_at", "updated_at").
		Returning("id, created_at, updated_at").
		Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return ErrIntegrationExists
		}
		return err
	}

	r.log.Debug("created integration",
		slog.String("id", integration.ID),
		slog.String("provider", string(integration.Provider)))
	return nil
}

// UpdateSettings writes the user-editable columns. Sync state columns are
// owned by the status helpers below.
func (r *Repository) UpdateSettings(ctx context.Context, integration *Integration) error {
	integration.UpdatedAt = time.Now().UTC()

	res, err := r.db.NewUpdate().
		Model(integration).
		Column("credentials_encrypted", "auto_sync", "sync_interval_minutes", "sync_direction", "sync_status", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIntegrationNotFound
	}

	r.log.Debug("updated integration",
		slog.String("id", integration.ID),
		slog.String("provider", string(integration.Provider)))
	return nil
}

// Delete deletes an integration by ID
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().
		Model((*Integration)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIntegrationNotFound
	}

	r.log.Debug("deleted integration", slog.String("id", id))
	return nil
}

// MarkSyncing forces the status to syncing at the start of a run.
func (r *Repository) MarkSyncing(ctx context.Context, id string) error {
	res, err := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("sync_status = ?", StatusSyncing).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIntegrationNotFound
	}
	return nil
}

// MarkFinished records the outcome of a run. last_sync only moves forward,
// so a slow run finishing after a newer one cannot rewind it. An empty
// lastError clears the column.
func (r *Repository) MarkFinished(ctx context.Context, id string, status Status, lastError string, at time.Time) error {
	var errVal *string
	if lastError != "" {
		errVal = &lastError
	}

	_, err := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("sync_status = ?", status).
		Set("last_error = ?", errVal).
		Set("last_sync = GREATEST(last_sync, ?)", at.UTC()).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// ListAutoSyncDue returns integrations with auto sync enabled whose
// interval has elapsed since the last sync.
func (r *Repository) ListAutoSyncDue(ctx context.Context, now time.Time) ([]*Integration, error) {
	var integrations []*Integration

	err := r.db.NewSelect().
		Model(&integrations).
		Where("auto_sync = true").
		Where("sync_status <> ?", StatusSyncing).
		Where("credentials_encrypted IS NOT NULL").
		Where("(last_sync IS NULL OR last_sync + make_interval(mins => sync_interval_minutes) <= ?)", now.UTC()).
		Order("last_sync ASC NULLS FIRST").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return integrations, nil
}

// RecoverStuck moves integrations left in syncing without a live lease to
// error. It returns the number of rows reset.
func (r *Repository) RecoverStuck(ctx context.Context) (int, error) {
	res, err := r.db.NewRaw(`
		UPDATE crm.integrations i
		SET sync_status = ?, last_error = ?, updated_at = now()
		WHERE i.sync_status = ?
			AND NOT EXISTS (
				SELECT 1 FROM crm.sync_leases l
				WHERE l.organization_id = i.organization_id
					AND l.provider = i.crm_type
					AND l.expires_at > now()
			)`,
		StatusError, "sync interrupted before completion", StatusSyncing).Exec(ctx)
	if err != nil {
		return 0, err
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Warn("recovered integrations stuck in syncing", slog.Int64("count", n))
	}
	return int(n), nil
}
