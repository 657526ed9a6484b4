package crmsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fundraising/nexus/domain/activity"
	"github.com/nexus-fundraising/nexus/internal/storage"
)

type fakeObjectStore struct {
	objects map[string]any
	err     error
}

func (f *fakeObjectStore) PutJSON(_ context.Context, key string, v any) (*storage.Object, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.objects == nil {
		f.objects = map[string]any{}
	}
	f.objects[key] = v
	return &storage.Object{Key: key}, nil
}

func TestStorageArchive_Archive(t *testing.T) {
	store := &fakeObjectStore{}
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	key, err := NewStorageArchive(store).Archive(context.Background(), Report{
		RunID:          "run-1",
		OrganizationID: "org-1",
		Provider:       "hubspot",
		FinishedAt:     finished,
		Result:         &SyncResult{Success: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "org-1/hubspot/2026/03/20260301T120000Z-run-1.json", key)
	require.Contains(t, store.objects, key)
	assert.Equal(t, "run-1", store.objects[key].(Report).RunID)
}

func TestTracker_ArchivesReport(t *testing.T) {
	f := newTrackerFixture()
	f.adapter.donors = donorItems(2)
	store := &fakeObjectStore{}
	f.tracker.SetReportArchive(NewStorageArchive(store))

	_, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	require.NoError(t, err)

	require.Len(t, store.objects, 1)
	var report Report
	for _, v := range store.objects {
		report = v.(Report)
	}
	assert.Equal(t, "integration-1", report.IntegrationID)
	assert.Equal(t, "hubspot", report.Provider)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Result.Stats.Donors.Created)

	completed := f.audit.entries[len(f.audit.entries)-1]
	assert.Equal(t, activity.ActionSyncCompleted, completed.Action)
	assert.Contains(t, completed.Details, "reportKey")
}

func TestTracker_ArchiveFailureDoesNotFailRun(t *testing.T) {
	f := newTrackerFixture()
	f.tracker.SetReportArchive(NewStorageArchive(&fakeObjectStore{err: errors.New("bucket missing")}))

	result, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	require.NoError(t, err)
	assert.True(t, result.Success)

	completed := f.audit.entries[len(f.audit.entries)-1]
	assert.NotContains(t, completed.Details, "reportKey")
	assert.Equal(t, 1, f.locker.released)
}
