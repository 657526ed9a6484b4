package reconcile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, *testutil.TestDB) {
	t.Helper()
	tdb := testutil.SetupTestDB(t)
	return NewStore(tdb.GetDB(), slog.Default()), tdb
}

func donorRecord(externalID, name, email string) crm.DonorRecord {
	first, last := crm.SplitName(name)
	return crm.DonorRecord{
		Donor: records.Donor{Name: name, FirstName: first, LastName: last, Email: email, ExternalID: externalID},
		Columns: []string{
			records.DonorColName, records.DonorColFirstName, records.DonorColLastName, records.DonorColEmail,
		},
	}
}

func TestUpsertDonor_CreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	org := testutil.NewOrgID()

	out, err := store.UpsertDonor(ctx, org, records.SourceBloomerang, donorRecord("555", "Ada A", "a@example.org"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)

	out, err = store.UpsertDonor(ctx, org, records.SourceBloomerang, donorRecord("555", "Ada B", "b@example.org"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, out)

	d, err := store.FindDonorByExternalID(ctx, org, records.SourceBloomerang, "555")
	require.NoError(t, err)
	assert.Equal(t, "Ada B", d.Name)
	assert.Equal(t, "b@example.org", d.Email)
	assert.Equal(t, records.SourceBloomerang, d.Source)
	require.NotNil(t, d.SyncMetadata.LastSyncedAt)

	var count int
	count, err = store.db.NewSelect().Model((*records.Donor)(nil)).
		Where("organization_id = ?", org).Where("external_id = ?", "555").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertDonor_UpdateLeavesUnmappedColumns(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	org := testutil.NewOrgID()

	rec := donorRecord("1", "Grace Hopper", "g@example.org")
	rec.Donor.Notes = "major donor"
	rec.Columns = append(rec.Columns, records.DonorColNotes)
	_, err := store.UpsertDonor(ctx, org, records.SourceSalesforce, rec)
	require.NoError(t, err)

	// A provider that does not expose notes must not clear them.
	_, err = store.UpsertDonor(ctx, org, records.SourceSalesforce, donorRecord("1", "Grace M Hopper", ""))
	require.NoError(t, err)

	d, err := store.FindDonorByExternalID(ctx, org, records.SourceSalesforce, "1")
	require.NoError(t, err)
	assert.Equal(t, "major donor", d.Notes)
	assert.Equal(t, "Grace M Hopper", d.Name)
	assert.Empty(t, d.Email)
}

func TestUpsertDonation_ResolvesDonor(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	org := testutil.NewOrgID()

	_, err := store.UpsertDonor(ctx, org, records.SourceNeonOne, donorRecord("9", "Jo March", ""))
	require.NoError(t, err)

	rec := crm.DonationRecord{
		Donation:        records.Donation{Amount: 25, Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), ExternalID: "d1"},
		DonorExternalID: "9",
		Columns:         []string{records.DonationColAmount, records.DonationColDate},
	}
	out, err := store.UpsertDonation(ctx, org, records.SourceNeonOne, rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)

	dn, err := store.FindDonationByExternalID(ctx, org, records.SourceNeonOne, "d1")
	require.NoError(t, err)
	donor, err := store.FindDonorByExternalID(ctx, org, records.SourceNeonOne, "9")
	require.NoError(t, err)
	assert.Equal(t, donor.ID, dn.DonorID)
	assert.Equal(t, records.PaymentOther, dn.PaymentMethod)

	rec.DonorExternalID = "999"
	rec.Donation.ExternalID = "d2"
	_, err = store.UpsertDonation(ctx, org, records.SourceNeonOne, rec)
	assert.ErrorIs(t, err, ErrUnresolvedDonor)
	_, err = store.FindDonationByExternalID(ctx, org, records.SourceNeonOne, "d2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPushSelectionAndLinking(t *testing.T) {
	ctx := context.Background()
	store, tdb := newTestStore(t)
	org := testutil.NewOrgID()

	local := &records.Donor{OrganizationID: org, Name: "Local Donor", DonorType: "individual", Source: records.SourceManual}
	_, err := tdb.GetDB().NewInsert().Model(local).ExcludeColumn("id").Returning("id").Exec(ctx)
	require.NoError(t, err)

	unpushed, err := store.ListUnpushedDonors(ctx, org)
	require.NoError(t, err)
	require.Len(t, unpushed, 1)
	assert.Equal(t, local.ID, unpushed[0].ID)

	// Interaction on an unlinked donor is never selected.
	note := &records.Interaction{OrganizationID: org, DonorID: local.ID, Channel: records.ChannelPhone, Subject: "Call", Source: records.SourceManual}
	_, err = tdb.GetDB().NewInsert().Model(note).ExcludeColumn("id").Returning("id").Exec(ctx)
	require.NoError(t, err)
	pending, err := store.ListUnpushedInteractions(ctx, org, records.SourceHubSpot)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, store.LinkDonor(ctx, local.ID, records.SourceHubSpot, "P-42"))

	linked, err := store.FindDonorByExternalID(ctx, org, records.SourceHubSpot, "P-42")
	require.NoError(t, err)
	assert.Equal(t, "Local Donor", linked.Name)
	assert.Equal(t, records.SourceHubSpot, linked.SyncMetadata.Provider)

	unpushed, err = store.ListUnpushedDonors(ctx, org)
	require.NoError(t, err)
	assert.Empty(t, unpushed)

	pending, err = store.ListUnpushedInteractions(ctx, org, records.SourceHubSpot)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "P-42", pending[0].DonorExternalID)
	assert.Equal(t, "Call", pending[0].Subject)

	require.NoError(t, store.LinkInteraction(ctx, note.ID, records.SourceHubSpot, "E-1"))
	pending, err = store.ListUnpushedInteractions(ctx, org, records.SourceHubSpot)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, store.LinkDonor(ctx, "00000000-0000-0000-0000-000000000000", records.SourceHubSpot, "x"), ErrNotFound)
}

func TestListModifiedDonors(t *testing.T) {
	ctx := context.Background()
	store, tdb := newTestStore(t)
	org := testutil.NewOrgID()

	_, err := store.UpsertDonor(ctx, org, records.SourceBloomerang, donorRecord("7", "Meg March", ""))
	require.NoError(t, err)

	modified, err := store.ListModifiedDonors(ctx, org, records.SourceBloomerang)
	require.NoError(t, err)
	assert.Empty(t, modified)

	_, err = tdb.GetDB().NewUpdate().Model((*records.Donor)(nil)).
		Set("phone = ?", "555-0101").
		Set("updated_at = now() + interval '1 second'").
		Where("organization_id = ?", org).Exec(ctx)
	require.NoError(t, err)

	modified, err = store.ListModifiedDonors(ctx, org, records.SourceBloomerang)
	require.NoError(t, err)
	require.Len(t, modified, 1)

	store.now = func() time.Time { return time.Now().Add(time.Minute) }
	require.NoError(t, store.MarkDonorSynced(ctx, modified[0].ID))
	modified, err = store.ListModifiedDonors(ctx, org, records.SourceBloomerang)
	require.NoError(t, err)
	assert.Empty(t, modified)
}
