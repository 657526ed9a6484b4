package crmsync

import (
	"context"

	"github.com/nexus-fundraising/nexus/internal/storage"
)

// ObjectStore writes JSON objects.
type ObjectStore interface {
	PutJSON(ctx context.Context, key string, v any) (*storage.Object, error)
}

// StorageArchive stores sync reports in object storage.
type StorageArchive struct {
	store ObjectStore
}

var _ ReportArchive = (*StorageArchive)(nil)

// NewStorageArchive creates an archive on store.
func NewStorageArchive(store ObjectStore) *StorageArchive {
	return &StorageArchive{store: store}
}

// Archive uploads report and returns its key.
func (a *StorageArchive) Archive(ctx context.Context, report Report) (string, error) {
	key := storage.ReportKey(report.OrganizationID, report.Provider, report.RunID, report.FinishedAt)
	if _, err := a.store.PutJSON(ctx, key, report); err != nil {
		return "", err
	}
	return key, nil
}
