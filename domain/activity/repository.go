package activity

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/nexus-fundraising/nexus/pkg/apperror"
	"github.com/nexus-fundraising/nexus/pkg/logger"
	"github.com/nexus-fundraising/nexus/pkg/mathutil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Repository handles database operations for audit rows.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new audit repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("activity.repo")),
	}
}

// Insert appends one row. Audit rows are never updated.
func (r *Repository) Insert(ctx context.Context, entry *LogEntry) error {
	_, err := r.db.NewInsert().
		Model(entry).
		ExcludeColumn("id").
		Returning("id").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to insert audit row", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// List returns the newest rows for an organization, optionally filtered by
// resource id.
func (r *Repository) List(ctx context.Context, orgID, resourceID string, limit int) ([]LogEntry, error) {
	limit = mathutil.ClampLimit(limit, defaultListLimit, maxListLimit)

	entries := []LogEntry{}
	q := r.db.NewSelect().
		Model(&entries).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Limit(limit)
	if resourceID != "" {
		q = q.Where("resource_id = ?", resourceID)
	}
	if err := q.Scan(ctx); err != nil {
		r.log.Error("failed to list audit rows", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return entries, nil
}
