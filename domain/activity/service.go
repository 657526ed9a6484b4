// Package activity appends audit rows for sync runs.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-fundraising/nexus/pkg/apperror"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Service handles business logic for the audit log.
type Service struct {
	repo *Repository
	log  *slog.Logger
}

var _ Recorder = (*Service)(nil)

// NewService creates a new audit service.
func NewService(repo *Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With(logger.Scope("activity.svc")),
	}
}

// Record appends entry.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if _, err := uuid.Parse(entry.OrganizationID); err != nil {
		return apperror.ErrBadRequest.WithMessage("Invalid organizationId format")
	}
	if entry.Action == "" || entry.ResourceType == "" {
		return apperror.ErrBadRequest.WithMessage("action and resourceType are required")
	}
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}

	return s.repo.Insert(ctx, &LogEntry{
		OrganizationID: entry.OrganizationID,
		Action:         entry.Action,
		ResourceType:   entry.ResourceType,
		ResourceID:     entry.ResourceID,
		Details:        details,
		CreatedAt:      time.Now().UTC(),
	})
}

// List returns recent audit rows for an organization.
func (s *Service) List(ctx context.Context, orgID, resourceID string, limit int) (*ListResponse, error) {
	if _, err := uuid.Parse(orgID); err != nil {
		return nil, apperror.ErrBadRequest.WithMessage("Invalid organizationId format")
	}
	entries, err := s.repo.List(ctx, orgID, resourceID, limit)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Data: entries}, nil
}
