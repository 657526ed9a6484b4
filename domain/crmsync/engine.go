// Package crmsync runs synchronization between the canonical donor store
// and external CRMs: the phase engine, the run tracker around it, async sync
// jobs and the HTTP surface.
package crmsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/reconcile"
	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/pkg/logger"
	"github.com/nexus-fundraising/nexus/pkg/tracing"
)

// MsgCancelled is the run-level error recorded when a run is cancelled.
const MsgCancelled = "sync cancelled"

// Store is the canonical store as seen by the engine.
type Store interface {
	UpsertDonor(ctx context.Context, orgID string, source records.Source, rec crm.DonorRecord) (reconcile.Outcome, error)
	UpsertDonation(ctx context.Context, orgID string, source records.Source, rec crm.DonationRecord) (reconcile.Outcome, error)
	UpsertInteraction(ctx context.Context, orgID string, source records.Source, rec crm.InteractionRecord) (reconcile.Outcome, error)

	ListUnpushedDonors(ctx context.Context, orgID string) ([]records.Donor, error)
	ListModifiedDonors(ctx context.Context, orgID string, source records.Source) ([]records.Donor, error)
	ListUnpushedInteractions(ctx context.Context, orgID string, source records.Source) ([]reconcile.UnpushedInteraction, error)

	LinkDonor(ctx context.Context, id string, source records.Source, externalID string) error
	LinkInteraction(ctx context.Context, id string, source records.Source, externalID string) error
	MarkDonorSynced(ctx context.Context, id string) error
}

var _ Store = (*reconcile.Store)(nil)

// Entities selects the phases of a run.
type Entities struct {
	Donors       bool `json:"donors"`
	Donations    bool `json:"donations"`
	Interactions bool `json:"interactions"`
}

// Any reports whether at least one phase is enabled.
func (e Entities) Any() bool {
	return e.Donors || e.Donations || e.Interactions
}

// AllEntities enables every phase.
var AllEntities = Entities{Donors: true, Donations: true, Interactions: true}

// Request describes one run.
type Request struct {
	OrganizationID string
	// Provider may be empty when the organization has a single integration.
	Provider  records.Source
	Direction crm.Direction
	Entities  Entities
}

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	// CallBudget bounds one provider call including its retries. Single
	// HTTP attempts are bounded by the adapter's client timeout.
	CallBudget time.Duration
	// CountUnresolvedAsError counts records referencing an unknown donor as
	// errors instead of skips.
	CountUnresolvedAsError bool
}

// defaultCallBudget covers the default retry policy: five 30s attempts
// and four waits of up to a minute.
const defaultCallBudget = 390 * time.Second

// NewEngineConfig reads the engine settings from the application config.
func NewEngineConfig(cfg *config.Config) EngineConfig {
	return EngineConfig{
		CallBudget: crm.RetryPolicy{
			MaxRetries: cfg.CRM.MaxRetries,
			BaseDelay:  cfg.CRM.RetryBaseDelay,
			MaxDelay:   cfg.CRM.RetryMaxDelay,
		}.Budget(cfg.CRM.CallTimeout),
		CountUnresolvedAsError: cfg.CRM.CountUnresolvedAsError,
	}
}

// Engine sequences the donor, donation and interaction phases of a run
// through one adapter.
type Engine struct {
	store Store
	cfg   EngineConfig
	log   *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(store Store, cfg EngineConfig, log *slog.Logger) *Engine {
	if cfg.CallBudget <= 0 {
		cfg.CallBudget = defaultCallBudget
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		log:   log.With(logger.Scope("crmsync.engine")),
	}
}

// errAbortRun stops the remaining phases.
var errAbortRun = errors.New("run aborted")

// Run executes req against adapter. limiter spaces every provider call; nil
// disables spacing. The returned result is never nil.
func (e *Engine) Run(ctx context.Context, adapter crm.Adapter, limiter *crm.RateLimiter, req Request) *SyncResult {
	if limiter == nil {
		limiter = crm.NewRateLimiter(0)
	}
	provider := adapter.Provider()

	ctx, span := tracing.Start(ctx, "crmsync.run",
		tracing.AttrOrganizationID.String(req.OrganizationID),
		tracing.AttrProvider.String(string(provider)),
		tracing.AttrDirection.String(string(req.Direction)),
	)
	defer span.End()

	r := &run{
		engine:   e,
		adapter:  adapter,
		limiter:  limiter,
		req:      req,
		provider: provider,
		acc:      NewAccumulator(),
		log: e.log.With(
			slog.String("organization_id", req.OrganizationID),
			slog.String("provider", string(provider)),
			slog.String("direction", string(req.Direction))),
	}

	for _, phase := range r.phases() {
		if err := r.runPhase(ctx, phase); errors.Is(err, errAbortRun) {
			break
		}
	}

	result := r.acc.Result()
	if !result.Success {
		tracing.RecordError(span, fmt.Errorf("sync finished with %d record errors and %d run errors",
			result.Stats.Total().Errors, len(result.Errors)))
	}
	return result
}

type phase struct {
	entity records.Entity
	pull   func(ctx context.Context) error
	push   func(ctx context.Context) error
}

type run struct {
	engine   *Engine
	adapter  crm.Adapter
	limiter  *crm.RateLimiter
	req      Request
	provider records.Source
	acc      *Accumulator
	log      *slog.Logger
}

func (r *run) phases() []phase {
	var out []phase
	if r.req.Entities.Donors {
		out = append(out, phase{entity: records.EntityDonors, pull: r.pullDonors, push: r.pushDonors})
	}
	if r.req.Entities.Donations {
		// Donations are never pushed.
		out = append(out, phase{entity: records.EntityDonations, pull: r.pullDonations})
	}
	if r.req.Entities.Interactions {
		out = append(out, phase{entity: records.EntityInteractions, pull: r.pullInteractions, push: r.pushInteractions})
	}
	return out
}

// runPhase runs the pull and push halves of one phase and folds their
// failure into the result. It returns errAbortRun when the whole run must
// stop.
func (r *run) runPhase(ctx context.Context, p phase) error {
	ctx, span := tracing.Start(ctx, "crmsync.phase",
		tracing.AttrProvider.String(string(r.provider)),
		tracing.AttrEntity.String(string(p.entity)),
	)
	defer span.End()

	var steps []func(context.Context) error
	if r.req.Direction.Pulls() && p.pull != nil {
		steps = append(steps, p.pull)
	}
	if r.req.Direction.Pushes() && p.push != nil {
		steps = append(steps, p.push)
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			return r.cancelled()
		}
		err := step(ctx)
		if err == nil {
			continue
		}
		tracing.RecordError(span, err)

		switch {
		case ctx.Err() != nil:
			return r.cancelled()
		case crm.IsAuth(err):
			r.acc.Failed(p.entity)
			r.acc.AddError(fmt.Sprintf("%s: %s", p.entity, err))
			r.acc.RequireReconnect()
			r.log.Warn("sync aborted on authentication failure",
				slog.String("entity", string(p.entity)), logger.Error(err))
			return errAbortRun
		default:
			r.acc.Failed(p.entity)
			r.acc.AddError(fmt.Sprintf("%s: %s", p.entity, err))
			r.log.Warn("sync phase aborted",
				slog.String("entity", string(p.entity)), logger.Error(err))
			return nil
		}
	}
	return nil
}

func (r *run) cancelled() error {
	r.acc.AddError(MsgCancelled)
	r.log.Info("sync cancelled")
	return errAbortRun
}

// call spaces, bounds and measures one provider call.
func call[T any](ctx context.Context, r *run, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := r.limiter.Wait(ctx); err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.engine.cfg.CallBudget)
	defer cancel()

	start := time.Now()
	v, err := fn(callCtx)
	ProviderCallDuration.WithLabelValues(string(r.provider), op).Observe(time.Since(start).Seconds())
	if err != nil {
		ProviderCallErrors.WithLabelValues(string(r.provider), crm.KindOf(err).String()).Inc()
		return zero, err
	}
	return v, nil
}

// pull pages through one listing from the empty cursor and hands every item
// to upsert.
func pull[T any](
	ctx context.Context,
	r *run,
	entity records.Entity,
	list func(context.Context, string) (*crm.Page[T], error),
	upsert func(context.Context, crm.Item[T]) (reconcile.Outcome, error),
) error {
	op := "list_" + string(entity)
	cursor := ""
	seen := map[string]bool{}
	processed, total, pages := 0, 0, 0

	for {
		page, err := call(ctx, r, op, func(ctx context.Context) (*crm.Page[T], error) {
			return list(ctx, cursor)
		})
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", pages+1, err)
		}
		if pages == 0 {
			total = page.Total
		}
		pages++

		for _, item := range page.Items {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			processed++
			if item.Err != nil {
				r.acc.Failed(entity)
				r.log.Debug("record mapping failed",
					slog.String("entity", string(entity)),
					slog.String("external_id", item.ExternalID),
					logger.Error(item.Err))
				continue
			}
			outcome, err := upsert(ctx, item)
			if err := r.recordStored(entity, item.ExternalID, outcome, err); err != nil {
				return err
			}
		}

		if !page.HasMore() {
			break
		}
		if seen[page.NextCursor] {
			return fmt.Errorf("provider repeated cursor %q", page.NextCursor)
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}

	if total > 0 && processed != total {
		r.log.Warn("provider total does not match records received",
			slog.String("entity", string(entity)),
			slog.Int("total", total),
			slog.Int("processed", processed),
			slog.Int("pages", pages))
	}
	r.log.Debug("pull complete",
		slog.String("entity", string(entity)),
		slog.Int("processed", processed),
		slog.Int("pages", pages))
	return nil
}

// recordStored folds one storage outcome into the counters. It returns an
// error only when the store is unusable and the phase must stop.
func (r *run) recordStored(entity records.Entity, externalID string, outcome reconcile.Outcome, err error) error {
	switch {
	case err == nil && outcome == reconcile.OutcomeCreated:
		r.acc.Created(entity)
	case err == nil:
		r.acc.Updated(entity)
	case errors.Is(err, reconcile.ErrUnresolvedDonor):
		if r.engine.cfg.CountUnresolvedAsError {
			r.acc.Failed(entity)
		} else {
			r.acc.Skipped(entity)
		}
		r.log.Debug("record references unknown donor",
			slog.String("entity", string(entity)),
			slog.String("external_id", externalID))
	case reconcile.IsSystemic(err):
		return fmt.Errorf("store unavailable: %w", err)
	default:
		r.acc.Failed(entity)
		r.log.Warn("failed to store record",
			slog.String("entity", string(entity)),
			slog.String("external_id", externalID),
			logger.Error(err))
	}
	return nil
}

// recordPushFailure counts a failed push call. Auth failures and exhausted
// rate limits are returned to stop the phase.
func (r *run) recordPushFailure(ctx context.Context, entity records.Entity, localID string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if crm.IsAuth(err) || crm.IsRateLimit(err) {
		return err
	}
	r.acc.Failed(entity)
	r.log.Warn("failed to push record",
		slog.String("entity", string(entity)),
		slog.String("id", localID),
		logger.Error(err))
	return nil
}

func (r *run) pullDonors(ctx context.Context) error {
	return pull(ctx, r, records.EntityDonors, r.adapter.ListDonors,
		func(ctx context.Context, item crm.Item[crm.DonorRecord]) (reconcile.Outcome, error) {
			return r.engine.store.UpsertDonor(ctx, r.req.OrganizationID, r.provider, item.Record)
		})
}

func (r *run) pullDonations(ctx context.Context) error {
	return pull(ctx, r, records.EntityDonations, r.adapter.ListDonations,
		func(ctx context.Context, item crm.Item[crm.DonationRecord]) (reconcile.Outcome, error) {
			return r.engine.store.UpsertDonation(ctx, r.req.OrganizationID, r.provider, item.Record)
		})
}

func (r *run) pullInteractions(ctx context.Context) error {
	return pull(ctx, r, records.EntityInteractions, r.adapter.ListInteractions,
		func(ctx context.Context, item crm.Item[crm.InteractionRecord]) (reconcile.Outcome, error) {
			return r.engine.store.UpsertInteraction(ctx, r.req.OrganizationID, r.provider, item.Record)
		})
}

// pushDonors creates never-linked donors remotely and links them, then
// sends local edits of already linked donors.
func (r *run) pushDonors(ctx context.Context) error {
	const entity = records.EntityDonors
	store := r.engine.store

	unpushed, err := store.ListUnpushedDonors(ctx, r.req.OrganizationID)
	if err != nil {
		return err
	}
	for i := range unpushed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		donor := &unpushed[i]

		externalID, err := call(ctx, r, "create_donor", func(ctx context.Context) (string, error) {
			return r.adapter.CreateDonor(ctx, donor)
		})
		if err == nil && externalID == "" {
			err = fmt.Errorf("%s returned no id for donor %s", r.provider, donor.ID)
		}
		if err != nil {
			if err := r.recordPushFailure(ctx, entity, donor.ID, err); err != nil {
				return err
			}
			continue
		}

		if err := store.LinkDonor(ctx, donor.ID, r.provider, externalID); err != nil {
			if err := r.recordStored(entity, externalID, 0, err); err != nil {
				return err
			}
			continue
		}
		r.acc.Created(entity)
	}

	modified, err := store.ListModifiedDonors(ctx, r.req.OrganizationID, r.provider)
	if err != nil {
		return err
	}
	for i := range modified {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		donor := &modified[i]

		_, err := call(ctx, r, "update_donor", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.adapter.UpdateDonor(ctx, donor.ExternalID, donor)
		})
		if err != nil {
			if err := r.recordPushFailure(ctx, entity, donor.ID, err); err != nil {
				return err
			}
			continue
		}

		if err := store.MarkDonorSynced(ctx, donor.ID); err != nil {
			if err := r.recordStored(entity, donor.ExternalID, 0, err); err != nil {
				return err
			}
			continue
		}
		r.acc.Updated(entity)
	}
	return nil
}

// pushInteractions creates unlinked interactions whose donor is already
// linked to this provider. Providers without activity support are skipped.
func (r *run) pushInteractions(ctx context.Context) error {
	const entity = records.EntityInteractions

	pusher, ok := r.adapter.(crm.InteractionPusher)
	if !ok {
		r.log.Debug("provider does not accept interactions, skipping push")
		return nil
	}
	store := r.engine.store

	unpushed, err := store.ListUnpushedInteractions(ctx, r.req.OrganizationID, r.provider)
	if err != nil {
		return err
	}
	for i := range unpushed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		row := &unpushed[i]

		externalID, err := call(ctx, r, "create_interaction", func(ctx context.Context) (string, error) {
			return pusher.CreateInteraction(ctx, &row.Interaction, row.DonorExternalID)
		})
		if err == nil && externalID == "" {
			err = fmt.Errorf("%s returned no id for interaction %s", r.provider, row.ID)
		}
		if err != nil {
			if err := r.recordPushFailure(ctx, entity, row.ID, err); err != nil {
				return err
			}
			continue
		}

		if err := store.LinkInteraction(ctx, row.ID, r.provider, externalID); err != nil {
			if err := r.recordStored(entity, externalID, 0, err); err != nil {
				return err
			}
			continue
		}
		r.acc.Created(entity)
	}
	return nil
}
