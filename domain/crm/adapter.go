// Package crm defines the contract every CRM provider adapter implements,
// together with the shared pieces adapters are built from: credentials,
// error classification, field mapping tables, the rate limiter and the JSON
// transport.
package crm

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nexus-fundraising/nexus/domain/records"
)

// Adapter is the uniform view of one CRM account. Adapters translate
// between provider payloads and canonical records; they never touch the
// canonical store.
type Adapter interface {
	Provider() records.Source

	// TestConnection performs a cheap authenticated call.
	TestConnection(ctx context.Context) error

	// List methods return one page starting at cursor. The empty cursor is
	// the first page; an empty NextCursor marks the last page.
	ListDonors(ctx context.Context, cursor string) (*Page[DonorRecord], error)
	ListDonations(ctx context.Context, cursor string) (*Page[DonationRecord], error)
	ListInteractions(ctx context.Context, cursor string) (*Page[InteractionRecord], error)

	CreateDonor(ctx context.Context, donor *records.Donor) (string, error)
	UpdateDonor(ctx context.Context, externalID string, donor *records.Donor) error
}

// InteractionPusher is implemented by adapters that can create activities
// in the provider.
type InteractionPusher interface {
	CreateInteraction(ctx context.Context, interaction *records.Interaction, donorExternalID string) (string, error)
}

// Item is one remote record. Err is set when the record could not be
// mapped; the rest of the page is still usable.
type Item[T any] struct {
	ExternalID string
	Record     T
	Err        error
}

// Page is one normalized page of remote records. Total is the provider's
// record count for the whole listing, 0 when the provider does not report
// one.
type Page[T any] struct {
	Items      []Item[T]
	NextCursor string
	Total      int
}

// HasMore reports whether another page follows.
func (p *Page[T]) HasMore() bool {
	return p != nil && p.NextCursor != ""
}

// DonorRecord is a mapped remote donor. Columns lists the canonical columns
// the provider supplies; only those are replaced on update.
type DonorRecord struct {
	Donor   records.Donor
	Columns []string
}

// DonationRecord is a mapped remote donation. DonorExternalID is the
// provider's id for the donating constituent.
type DonationRecord struct {
	Donation        records.Donation
	DonorExternalID string
	Columns         []string
}

// InteractionRecord is a mapped remote activity.
type InteractionRecord struct {
	Interaction     records.Interaction
	DonorExternalID string
	Columns         []string
}

// Options carries the runtime settings adapters are built with.
type Options struct {
	// BaseURL overrides the provider's default API endpoint.
	BaseURL  string
	PageSize int
	// HTTPClient is the base client; adapters layer auth on top of it.
	HTTPClient *http.Client
	Retry      RetryPolicy
	Logger     *slog.Logger
	// Now is used for credential expiry checks.
	Now func() time.Time
}

// WithDefaults fills unset options.
func (o Options) WithDefaults(defaultBaseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Retry = o.Retry.withDefaults()
	return o
}

// Direction selects which way records flow in a sync run.
type Direction string

const (
	DirectionPull          Direction = "pull"
	DirectionPush          Direction = "push"
	DirectionBidirectional Direction = "bidirectional"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionPull || d == DirectionPush || d == DirectionBidirectional
}

// Pulls reports whether d imports remote records.
func (d Direction) Pulls() bool {
	return d == DirectionPull || d == DirectionBidirectional
}

// Pushes reports whether d exports local records.
func (d Direction) Pushes() bool {
	return d == DirectionPush || d == DirectionBidirectional
}
