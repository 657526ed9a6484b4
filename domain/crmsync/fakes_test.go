package crmsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/reconcile"
	"github.com/nexus-fundraising/nexus/domain/records"
)

// memStore is an in-memory Store keyed by (source, external id).
type memStore struct {
	mu sync.Mutex

	donors       map[string]bool
	donations    map[string]bool
	interactions map[string]bool

	unpushedDonors       []records.Donor
	modifiedDonors       []records.Donor
	unpushedInteractions []reconcile.UnpushedInteraction

	linkedDonors       map[string]string
	linkedInteractions map[string]string
	synced             []string

	// donorErr fails UpsertDonor for matching external ids.
	donorErr map[string]error
	// failAll fails every upsert.
	failAll error
}

func newMemStore() *memStore {
	return &memStore{
		donors:             map[string]bool{},
		donations:          map[string]bool{},
		interactions:       map[string]bool{},
		linkedDonors:       map[string]string{},
		linkedInteractions: map[string]string{},
		donorErr:           map[string]error{},
	}
}

func upsert(seen map[string]bool, key string) reconcile.Outcome {
	if seen[key] {
		return reconcile.OutcomeUpdated
	}
	seen[key] = true
	return reconcile.OutcomeCreated
}

func (s *memStore) UpsertDonor(_ context.Context, _ string, _ records.Source, rec crm.DonorRecord) (reconcile.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return 0, s.failAll
	}
	if err := s.donorErr[rec.Donor.ExternalID]; err != nil {
		return 0, err
	}
	return upsert(s.donors, rec.Donor.ExternalID), nil
}

func (s *memStore) UpsertDonation(_ context.Context, _ string, _ records.Source, rec crm.DonationRecord) (reconcile.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return 0, s.failAll
	}
	if !s.donors[rec.DonorExternalID] {
		return 0, reconcile.ErrUnresolvedDonor
	}
	return upsert(s.donations, rec.Donation.ExternalID), nil
}

func (s *memStore) UpsertInteraction(_ context.Context, _ string, _ records.Source, rec crm.InteractionRecord) (reconcile.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return 0, s.failAll
	}
	if !s.donors[rec.DonorExternalID] {
		return 0, reconcile.ErrUnresolvedDonor
	}
	return upsert(s.interactions, rec.Interaction.ExternalID), nil
}

func (s *memStore) ListUnpushedDonors(context.Context, string) ([]records.Donor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []records.Donor
	for _, d := range s.unpushedDonors {
		if _, ok := s.linkedDonors[d.ID]; !ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) ListModifiedDonors(context.Context, string, records.Source) ([]records.Donor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []records.Donor
	for _, d := range s.modifiedDonors {
		if !contains(s.synced, d.ID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) ListUnpushedInteractions(context.Context, string, records.Source) ([]reconcile.UnpushedInteraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reconcile.UnpushedInteraction
	for _, i := range s.unpushedInteractions {
		if _, ok := s.linkedInteractions[i.ID]; !ok {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *memStore) LinkDonor(_ context.Context, id string, _ records.Source, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkedDonors[id] = externalID
	return nil
}

func (s *memStore) LinkInteraction(_ context.Context, id string, _ records.Source, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkedInteractions[id] = externalID
	return nil
}

func (s *memStore) MarkDonorSynced(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = append(s.synced, id)
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// fakeAdapter serves fixed record sets in pages of pageSize.
type fakeAdapter struct {
	mu sync.Mutex

	provider     records.Source
	pageSize     int
	donors       []crm.Item[crm.DonorRecord]
	donations    []crm.Item[crm.DonationRecord]
	interactions []crm.Item[crm.InteractionRecord]

	// listErr fails the listing of an entity.
	listErr map[records.Entity]error
	// createErr fails CreateDonor for matching local ids.
	createErr map[string]error
	updateErr error

	calls        map[string]int
	created      []string
	updated      []string
	nextRemoteID int

	// onList runs before each listing call.
	onList func(entity records.Entity)
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		provider:  records.SourceHubSpot,
		pageSize:  50,
		listErr:   map[records.Entity]error{},
		createErr: map[string]error{},
		calls:     map[string]int{},
	}
}

func (a *fakeAdapter) count(op string) {
	a.mu.Lock()
	a.calls[op]++
	a.mu.Unlock()
}

func (a *fakeAdapter) callCount(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *fakeAdapter) Provider() records.Source { return a.provider }

func (a *fakeAdapter) TestConnection(context.Context) error { return nil }

func page[T any](items []crm.Item[T], cursor string, size int) (*crm.Page[T], error) {
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", cursor)
		}
		start = n
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	p := &crm.Page[T]{Items: items[start:end], Total: len(items)}
	if end < len(items) {
		p.NextCursor = strconv.Itoa(end)
	}
	return p, nil
}

func (a *fakeAdapter) list(entity records.Entity) error {
	a.count("list_" + string(entity))
	if a.onList != nil {
		a.onList(entity)
	}
	return a.listErr[entity]
}

func (a *fakeAdapter) ListDonors(_ context.Context, cursor string) (*crm.Page[crm.DonorRecord], error) {
	if err := a.list(records.EntityDonors); err != nil {
		return nil, err
	}
	return page(a.donors, cursor, a.pageSize)
}

func (a *fakeAdapter) ListDonations(_ context.Context, cursor string) (*crm.Page[crm.DonationRecord], error) {
	if err := a.list(records.EntityDonations); err != nil {
		return nil, err
	}
	return page(a.donations, cursor, a.pageSize)
}

func (a *fakeAdapter) ListInteractions(_ context.Context, cursor string) (*crm.Page[crm.InteractionRecord], error) {
	if err := a.list(records.EntityInteractions); err != nil {
		return nil, err
	}
	return page(a.interactions, cursor, a.pageSize)
}

func (a *fakeAdapter) CreateDonor(_ context.Context, donor *records.Donor) (string, error) {
	a.count("create_donor")
	if err := a.createErr[donor.ID]; err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextRemoteID++
	a.created = append(a.created, donor.ID)
	return fmt.Sprintf("remote-%d", a.nextRemoteID), nil
}

func (a *fakeAdapter) UpdateDonor(_ context.Context, externalID string, _ *records.Donor) error {
	a.count("update_donor")
	if a.updateErr != nil {
		return a.updateErr
	}
	a.mu.Lock()
	a.updated = append(a.updated, externalID)
	a.mu.Unlock()
	return nil
}

// pushingAdapter also accepts interactions.
type pushingAdapter struct {
	*fakeAdapter
	pushed map[string]string
}

func (a *pushingAdapter) CreateInteraction(_ context.Context, interaction *records.Interaction, donorExternalID string) (string, error) {
	a.count("create_interaction")
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushed[interaction.ID] = donorExternalID
	a.nextRemoteID++
	return fmt.Sprintf("engagement-%d", a.nextRemoteID), nil
}

func donorItems(n int) []crm.Item[crm.DonorRecord] {
	out := make([]crm.Item[crm.DonorRecord], n)
	for i := range out {
		id := fmt.Sprintf("C-%d", i+1)
		out[i] = crm.Item[crm.DonorRecord]{
			ExternalID: id,
			Record: crm.DonorRecord{
				Donor:   records.Donor{Name: "Donor " + id, ExternalID: id},
				Columns: []string{records.DonorColName},
			},
		}
	}
	return out
}

func donationItems(n int, donorExternalID string) []crm.Item[crm.DonationRecord] {
	out := make([]crm.Item[crm.DonationRecord], n)
	for i := range out {
		id := fmt.Sprintf("G-%d", i+1)
		out[i] = crm.Item[crm.DonationRecord]{
			ExternalID: id,
			Record: crm.DonationRecord{
				Donation:        records.Donation{Amount: 25, ExternalID: id},
				DonorExternalID: donorExternalID,
				Columns:         []string{records.DonationColAmount},
			},
		}
	}
	return out
}

func interactionItems(n int, donorExternalID string) []crm.Item[crm.InteractionRecord] {
	out := make([]crm.Item[crm.InteractionRecord], n)
	for i := range out {
		id := fmt.Sprintf("A-%d", i+1)
		out[i] = crm.Item[crm.InteractionRecord]{
			ExternalID: id,
			Record: crm.InteractionRecord{
				Interaction:     records.Interaction{Channel: "call", ExternalID: id},
				DonorExternalID: donorExternalID,
				Columns:         []string{records.InteractionColChannel},
			},
		}
	}
	return out
}

var errAuth = &crm.ProviderError{
	Provider:   records.SourceHubSpot,
	Op:         "list",
	StatusCode: 401,
	Kind:       crm.KindAuth,
	Message:    "token expired",
}

var errServer = &crm.ProviderError{
	Provider:   records.SourceHubSpot,
	Op:         "list",
	StatusCode: 503,
	Kind:       crm.KindTransient,
	Message:    "service unavailable",
}

var errRecord = errors.New("validation failed")
