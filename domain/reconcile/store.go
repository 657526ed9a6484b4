// Package reconcile merges remote CRM records into the canonical tables,
// keyed by provenance (organization, source, external id).
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/internal/database"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// Outcome is the effect of one upsert.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// UnpushedInteraction is a local interaction whose donor is linked to the
// provider being pushed to.
type UnpushedInteraction struct {
	records.Interaction `bun:",extend"`

	DonorExternalID string `bun:"donor_external_id"`
}

// Store is the bun implementation of the reconciliation store.
type Store struct {
	db  bun.IDB
	log *slog.Logger
	now func() time.Time
}

// NewStore creates a store.
func NewStore(db bun.IDB, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With(logger.Scope("reconcile")),
		now: time.Now,
	}
}

// timestamp is truncated to what timestamptz stores so it compares equal
// after a round trip.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func syncedMetadata(prev records.SyncMetadata, source records.Source, at time.Time) records.SyncMetadata {
	prev.Provider = source
	prev.LastSyncedAt = &at
	return prev
}

// updateColumns is the mapped column set plus bookkeeping columns.
func updateColumns(mapped []string, extra ...string) []string {
	cols := make([]string, 0, len(mapped)+len(extra)+2)
	cols = append(cols, mapped...)
	cols = append(cols, extra...)
	return append(cols, "crm_sync_metadata", "updated_at")
}

// FindDonorByExternalID returns the donor with the given provenance.
func (s *Store) FindDonorByExternalID(ctx context.Context, orgID string, source records.Source, externalID string) (*records.Donor, error) {
	return findByProvenance[records.Donor](ctx, s.db, orgID, source, externalID)
}

// FindDonationByExternalID returns the donation with the given provenance.
func (s *Store) FindDonationByExternalID(ctx context.Context, orgID string, source records.Source, externalID string) (*records.Donation, error) {
	return findByProvenance[records.Donation](ctx, s.db, orgID, source, externalID)
}

// FindInteractionByExternalID returns the interaction with the given provenance.
func (s *Store) FindInteractionByExternalID(ctx context.Context, orgID string, source records.Source, externalID string) (*records.Interaction, error) {
	return findByProvenance[records.Interaction](ctx, s.db, orgID, source, externalID)
}

func findByProvenance[T any](ctx context.Context, db bun.IDB, orgID string, source records.Source, externalID string) (*T, error) {
	row := new(T)
	err := db.NewSelect().
		Model(row).
		Where("?TableAlias.organization_id = ?", orgID).
		Where("?TableAlias.source = ?", source).
		Where("?TableAlias.external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row, nil
}

// UpsertDonor inserts or updates a remote donor. On update only the columns
// the provider maps are replaced.
func (s *Store) UpsertDonor(ctx context.Context, orgID string, source records.Source, rec crm.DonorRecord) (Outcome, error) {
	d := rec.Donor
	if d.ExternalID == "" {
		return 0, ErrMissingExternalID
	}

	var outcome Outcome
	err := s.inTx(ctx, func(tx bun.IDB) error {
		existing, err := findByProvenance[records.Donor](ctx, tx, orgID, source, d.ExternalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		now := s.timestamp()
		d.OrganizationID = orgID
		d.Source = source
		d.UpdatedAt = now

		if existing == nil {
			d.ID = ""
			d.CreatedAt = now
			d.SyncMetadata = syncedMetadata(d.SyncMetadata, source, now)
			if d.DonorType == "" {
				d.DonorType = "individual"
			}
			if _, err := tx.NewInsert().Model(&d).ExcludeColumn("id").Returning("id").Exec(ctx); err != nil {
				return fmt.Errorf("insert donor: %w", err)
			}
			outcome = OutcomeCreated
			return nil
		}

		d.ID = existing.ID
		d.SyncMetadata = syncedMetadata(existing.SyncMetadata, source, now)
		if _, err := tx.NewUpdate().Model(&d).Column(updateColumns(rec.Columns)...).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("update donor: %w", err)
		}
		outcome = OutcomeUpdated
		return nil
	})
	return outcome, err
}

// UpsertDonation inserts or updates a remote donation after resolving its
// donor through the same provenance key.
func (s *Store) UpsertDonation(ctx context.Context, orgID string, source records.Source, rec crm.DonationRecord) (Outcome, error) {
	dn := rec.Donation
	if dn.ExternalID == "" {
		return 0, ErrMissingExternalID
	}

	var outcome Outcome
	err := s.inTx(ctx, func(tx bun.IDB) error {
		donorID, err := s.resolveDonor(ctx, tx, orgID, source, rec.DonorExternalID)
		if err != nil {
			return err
		}
		existing, err := findByProvenance[records.Donation](ctx, tx, orgID, source, dn.ExternalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		now := s.timestamp()
		dn.OrganizationID = orgID
		dn.DonorID = donorID
		dn.Source = source
		dn.UpdatedAt = now
		if dn.Currency == "" {
			dn.Currency = "USD"
		}
		if dn.PaymentMethod == "" {
			dn.PaymentMethod = records.PaymentOther
		}

		if existing == nil {
			dn.ID = ""
			dn.CreatedAt = now
			dn.SyncMetadata = syncedMetadata(dn.SyncMetadata, source, now)
			if _, err := tx.NewInsert().Model(&dn).ExcludeColumn("id").Returning("id").Exec(ctx); err != nil {
				return fmt.Errorf("insert donation: %w", err)
			}
			outcome = OutcomeCreated
			return nil
		}

		dn.ID = existing.ID
		dn.SyncMetadata = syncedMetadata(existing.SyncMetadata, source, now)
		if _, err := tx.NewUpdate().Model(&dn).Column(updateColumns(rec.Columns, "donor_id")...).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("update donation: %w", err)
		}
		outcome = OutcomeUpdated
		return nil
	})
	return outcome, err
}

// UpsertInteraction inserts or updates a remote interaction after
// resolving its donor.
func (s *Store) UpsertInteraction(ctx context.Context, orgID string, source records.Source, rec crm.InteractionRecord) (Outcome, error) {
	in := rec.Interaction
	if in.ExternalID == "" {
		return 0, ErrMissingExternalID
	}

	var outcome Outcome
	err := s.inTx(ctx, func(tx bun.IDB) error {
		donorID, err := s.resolveDonor(ctx, tx, orgID, source, rec.DonorExternalID)
		if err != nil {
			return err
		}
		existing, err := findByProvenance[records.Interaction](ctx, tx, orgID, source, in.ExternalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		now := s.timestamp()
		in.OrganizationID = orgID
		in.DonorID = donorID
		in.Source = source
		in.UpdatedAt = now
		if in.Channel == "" {
			in.Channel = records.ChannelOther
		}
		if in.Status == "" {
			in.Status = "completed"
		}

		if existing == nil {
			in.ID = ""
			in.CreatedAt = now
			in.SyncMetadata = syncedMetadata(in.SyncMetadata, source, now)
			if _, err := tx.NewInsert().Model(&in).ExcludeColumn("id").Returning("id").Exec(ctx); err != nil {
				return fmt.Errorf("insert interaction: %w", err)
			}
			outcome = OutcomeCreated
			return nil
		}

		in.ID = existing.ID
		in.SyncMetadata = syncedMetadata(existing.SyncMetadata, source, now)
		if _, err := tx.NewUpdate().Model(&in).Column(updateColumns(rec.Columns, "donor_id")...).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("update interaction: %w", err)
		}
		outcome = OutcomeUpdated
		return nil
	})
	return outcome, err
}

func (s *Store) resolveDonor(ctx context.Context, db bun.IDB, orgID string, source records.Source, donorExternalID string) (string, error) {
	if donorExternalID == "" {
		return "", ErrUnresolvedDonor
	}
	var id string
	err := db.NewSelect().
		Model((*records.Donor)(nil)).
		Column("id").
		Where("organization_id = ?", orgID).
		Where("source = ?", source).
		Where("external_id = ?", donorExternalID).
		Limit(1).
		Scan(ctx, &id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s %s", ErrUnresolvedDonor, source, donorExternalID)
		}
		return "", err
	}
	return id, nil
}

// ListUnpushedDonors returns donors that were never linked to any provider.
func (s *Store) ListUnpushedDonors(ctx context.Context, orgID string) ([]records.Donor, error) {
	var donors []records.Donor
	err := s.db.NewSelect().
		Model(&donors).
		Where("organization_id = ?", orgID).
		Where("external_id IS NULL").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unpushed donors: %w", err)
	}
	return donors, nil
}

// ListModifiedDonors returns donors linked to source that were edited
// locally after their last sync.
func (s *Store) ListModifiedDonors(ctx context.Context, orgID string, source records.Source) ([]records.Donor, error) {
	var donors []records.Donor
	err := s.db.NewSelect().
		Model(&donors).
		Where("organization_id = ?", orgID).
		Where("source = ?", source).
		Where("external_id IS NOT NULL").
		Where("updated_at > COALESCE((crm_sync_metadata->>'lastSyncedAt')::timestamptz, '-infinity'::timestamptz)").
		Order("updated_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list modified donors: %w", err)
	}
	return donors, nil
}

// ListUnpushedInteractions returns unlinked interactions whose donor is
// linked to source.
func (s *Store) ListUnpushedInteractions(ctx context.Context, orgID string, source records.Source) ([]UnpushedInteraction, error) {
	var rows []UnpushedInteraction
	err := s.db.NewSelect().
		Model(&rows).
		ColumnExpr("i.*").
		ColumnExpr("d.external_id AS donor_external_id").
		Join("JOIN crm.donors AS d ON d.id = i.donor_id").
		Where("i.organization_id = ?", orgID).
		Where("i.external_id IS NULL").
		Where("d.source = ?", source).
		Where("d.external_id IS NOT NULL").
		Order("i.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unpushed interactions: %w", err)
	}
	return rows, nil
}

// LinkDonor attaches a provider identity to a local donor. No other field
// is touched.
func (s *Store) LinkDonor(ctx context.Context, id string, source records.Source, externalID string) error {
	return s.link(ctx, (*records.Donor)(nil), id, source, externalID)
}

// LinkInteraction attaches a provider identity to a local interaction.
func (s *Store) LinkInteraction(ctx context.Context, id string, source records.Source, externalID string) error {
	return s.link(ctx, (*records.Interaction)(nil), id, source, externalID)
}

func (s *Store) link(ctx context.Context, model any, id string, source records.Source, externalID string) error {
	meta := records.SyncMetadata{Provider: source}
	now := s.timestamp()
	meta.LastSyncedAt = &now

	res, err := s.db.NewUpdate().
		Model(model).
		Set("source = ?", source).
		Set("external_id = ?", externalID).
		Set("crm_sync_metadata = crm_sync_metadata || ?::jsonb", meta).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("link %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDonorSynced stamps lastSyncedAt after a remote update.
func (s *Store) MarkDonorSynced(ctx context.Context, id string) error {
	_, err := s.db.NewUpdate().
		Model((*records.Donor)(nil)).
		Set("crm_sync_metadata = jsonb_set(crm_sync_metadata, '{lastSyncedAt}', to_jsonb(?::timestamptz))", s.timestamp()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark donor %s synced: %w", id, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx bun.IDB) error) error {
	tx, err := database.BeginSafeTx(ctx, s.db)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx.Tx); err != nil {
		return err
	}
	return tx.Commit()
}
