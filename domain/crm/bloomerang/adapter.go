// Package bloomerang adapts the Bloomerang v2 API. Requests authenticate
// with the X-API-Key header and page with skip/take.
package bloomerang

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
)

const (
	DefaultBaseURL = "https://api.bloomerang.co/v2"

	dateLayout = "2006-01-02"
)

var donorColumns = []string{
	records.DonorColName,
	records.DonorColFirstName,
	records.DonorColLastName,
	records.DonorColEmail,
	records.DonorColPhone,
	records.DonorColAddress,
	records.DonorColDonorType,
}

var donationColumns = []string{
	records.DonationColAmount,
	records.DonationColDate,
	records.DonationColPaymentMethod,
	records.DonationColCampaign,
	records.DonationColFund,
	records.DonationColIsRecurring,
}

var interactionColumns = []string{
	records.InteractionColChannel,
	records.InteractionColSubject,
	records.InteractionColNotes,
	records.InteractionColOccurredAt,
}

// Adapter talks to one Bloomerang database.
type Adapter struct {
	transport *crm.Transport
	pageSize  int
}

var (
	_ crm.Adapter           = (*Adapter)(nil)
	_ crm.InteractionPusher = (*Adapter)(nil)
)

// New is the crm.Factory for Bloomerang.
func New(creds crm.Credentials, opts crm.Options) (crm.Adapter, error) {
	key, err := crm.RequireAPIKey(records.SourceBloomerang, creds)
	if err != nil {
		return nil, err
	}
	opts = opts.WithDefaults(DefaultBaseURL)

	auth := func(r *http.Request) { r.Header.Set("X-API-Key", key.APIKey) }
	return &Adapter{
		transport: crm.NewTransport(records.SourceBloomerang, opts.BaseURL, opts.HTTPClient, auth, opts.Retry, opts.Logger),
		pageSize:  opts.PageSize,
	}, nil
}

func (a *Adapter) Provider() records.Source { return records.SourceBloomerang }

func (a *Adapter) TestConnection(ctx context.Context) error {
	var resp listResponse[constituent]
	return a.transport.Do(ctx, crm.Request{
		Op: "test connection", Method: http.MethodGet, Path: "constituents",
		Query: url.Values{"skip": {"0"}, "take": {"1"}},
	}, &resp)
}

func list[T any](ctx context.Context, a *Adapter, op, path, cursor string, extra url.Values) ([]T, string, int, error) {
	skip, err := crm.ParseNumericCursor(cursor, 0)
	if err != nil {
		return nil, "", 0, err
	}
	q := url.Values{"skip": {strconv.Itoa(skip)}, "take": {strconv.Itoa(a.pageSize)}}
	for k, v := range extra {
		q[k] = v
	}

	var resp listResponse[T]
	if err := a.transport.Do(ctx, crm.Request{Op: op, Method: http.MethodGet, Path: path, Query: q}, &resp); err != nil {
		return nil, "", 0, err
	}
	return resp.Results, crm.NextOffsetCursor(skip, len(resp.Results), a.pageSize, resp.Total), resp.Total, nil
}

func (a *Adapter) ListDonors(ctx context.Context, cursor string) (*crm.Page[crm.DonorRecord], error) {
	results, next, total, err := list[constituent](ctx, a, "list constituents", "constituents", cursor, nil)
	if err != nil {
		return nil, err
	}
	page := &crm.Page[crm.DonorRecord]{NextCursor: next, Total: total}
	for _, c := range results {
		rec, err := mapConstituent(c)
		page.Items = append(page.Items, crm.Item[crm.DonorRecord]{ExternalID: id(c.ID), Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) ListDonations(ctx context.Context, cursor string) (*crm.Page[crm.DonationRecord], error) {
	results, next, total, err := list[transaction](ctx, a, "list transactions", "transactions", cursor,
		url.Values{"type": {"Donation,RecurringDonationPayment"}})
	if err != nil {
		return nil, err
	}
	page := &crm.Page[crm.DonationRecord]{NextCursor: next, Total: total}
	for _, t := range results {
		rec, err := mapTransaction(t)
		page.Items = append(page.Items, crm.Item[crm.DonationRecord]{ExternalID: id(t.ID), Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) ListInteractions(ctx context.Context, cursor string) (*crm.Page[crm.InteractionRecord], error) {
	results, next, total, err := list[interaction](ctx, a, "list interactions", "interactions", cursor, nil)
	if err != nil {
		return nil, err
	}
	page := &crm.Page[crm.InteractionRecord]{NextCursor: next, Total: total}
	for _, in := range results {
		rec, err := mapInteraction(in)
		page.Items = append(page.Items, crm.Item[crm.InteractionRecord]{ExternalID: id(in.ID), Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) CreateDonor(ctx context.Context, donor *records.Donor) (string, error) {
	var created constituent
	err := a.transport.Do(ctx, crm.Request{
		Op: "create constituent", Method: http.MethodPost, Path: "constituent", Body: toConstituent(donor),
	}, &created)
	if err != nil {
		return "", err
	}
	if created.ID == 0 {
		return "", fmt.Errorf("bloomerang create constituent: response has no Id")
	}
	return id(created.ID), nil
}

func (a *Adapter) UpdateDonor(ctx context.Context, externalID string, donor *records.Donor) error {
	return a.transport.Do(ctx, crm.Request{
		Op: "update constituent", Method: http.MethodPut, Path: "constituent/" + url.PathEscape(externalID), Body: toConstituent(donor),
	}, nil)
}

func (a *Adapter) CreateInteraction(ctx context.Context, in *records.Interaction, donorExternalID string) (string, error) {
	accountID, err := strconv.ParseInt(donorExternalID, 10, 64)
	if err != nil {
		return "", crm.MappingError(donorExternalID, "constituent id is not numeric")
	}
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = in.CreatedAt
	}

	body := interaction{
		AccountID: accountID,
		Date:      occurred.Format(dateLayout),
		Channel:   crm.RemoteChannel(records.SourceBloomerang, in.Channel),
		Purpose:   "Other",
		Subject:   in.Subject,
		Note:      in.Notes,
	}
	var created interaction
	if err := a.transport.Do(ctx, crm.Request{Op: "create interaction", Method: http.MethodPost, Path: "interaction", Body: body}, &created); err != nil {
		return "", err
	}
	if created.ID == 0 {
		return "", fmt.Errorf("bloomerang create interaction: response has no Id")
	}
	return id(created.ID), nil
}

func id(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

func mapConstituent(c constituent) (crm.DonorRecord, error) {
	if c.ID == 0 {
		return crm.DonorRecord{}, crm.MappingError("", "constituent without Id")
	}
	first, last := c.FirstName, c.LastName
	name := c.FullName
	if name == "" {
		name = crm.JoinName(first, last)
	}
	if first == "" && last == "" {
		first, last = crm.SplitName(name)
	}
	if name == "" {
		return crm.DonorRecord{}, crm.MappingError(id(c.ID), "constituent has no name")
	}

	d := records.Donor{
		Name:       name,
		FirstName:  first,
		LastName:   last,
		DonorType:  donorType(c.Type),
		ExternalID: id(c.ID),
	}
	if c.PrimaryEmail != nil {
		d.Email = c.PrimaryEmail.Value
	}
	if c.PrimaryPhone != nil {
		d.Phone = c.PrimaryPhone.Number
	}
	if a := c.PrimaryAddress; a != nil {
		d.Address = crm.ComposeAddress(a.Street, a.City, a.State, a.PostalCode, a.Country)
	}
	return crm.DonorRecord{Donor: d, Columns: donorColumns}, nil
}

func donorType(t string) string {
	if strings.EqualFold(t, "Organization") {
		return "organization"
	}
	return "individual"
}

func toConstituent(d *records.Donor) constituent {
	first, last := d.FirstName, d.LastName
	if first == "" && last == "" {
		first, last = crm.SplitName(d.Name)
	}
	c := constituent{Type: "Individual", FirstName: first, LastName: last}
	if d.DonorType == "organization" {
		c = constituent{Type: "Organization", FullName: d.Name}
	}
	if d.Email != "" {
		c.PrimaryEmail = &email{Value: d.Email}
	}
	if d.Phone != "" {
		c.PrimaryPhone = &phone{Number: d.Phone}
	}
	if d.Address != "" {
		c.PrimaryAddress = &address{Street: d.Address}
	}
	return c
}

func mapTransaction(t transaction) (crm.DonationRecord, error) {
	if t.ID == 0 {
		return crm.DonationRecord{}, crm.MappingError("", "transaction without Id")
	}
	if t.AccountID == 0 {
		return crm.DonationRecord{}, crm.MappingError(id(t.ID), "transaction has no AccountId")
	}
	if t.Amount < 0 {
		return crm.DonationRecord{}, crm.MappingError(id(t.ID), "negative amount %v", t.Amount)
	}
	date, err := parseDate(t.Date)
	if err != nil {
		return crm.DonationRecord{}, crm.MappingError(id(t.ID), "bad date %q", t.Date)
	}

	d := records.Donation{
		Amount:        t.Amount,
		Date:          date,
		PaymentMethod: crm.LookupPaymentMethod(records.SourceBloomerang, t.Method),
		ExternalID:    id(t.ID),
	}
	if len(t.Designations) > 0 {
		des := t.Designations[0]
		if des.Fund != nil {
			d.Fund = des.Fund.Name
		}
		if des.Campaign != nil {
			d.Campaign = des.Campaign.Name
		}
		d.IsRecurring = des.Type == "RecurringDonationPayment"
	}
	return crm.DonationRecord{Donation: d, DonorExternalID: id(t.AccountID), Columns: donationColumns}, nil
}

func mapInteraction(in interaction) (crm.InteractionRecord, error) {
	if in.ID == 0 {
		return crm.InteractionRecord{}, crm.MappingError("", "interaction without Id")
	}
	if in.AccountID == 0 {
		return crm.InteractionRecord{}, crm.MappingError(id(in.ID), "interaction has no AccountId")
	}
	occurred, err := parseDate(in.Date)
	if err != nil {
		return crm.InteractionRecord{}, crm.MappingError(id(in.ID), "bad date %q", in.Date)
	}
	return crm.InteractionRecord{
		Interaction: records.Interaction{
			Channel:    crm.LookupChannel(records.SourceBloomerang, in.Channel),
			Subject:    in.Subject,
			Notes:      in.Note,
			OccurredAt: occurred,
			ExternalID: id(in.ID),
		},
		DonorExternalID: id(in.AccountID),
		Columns:         interactionColumns,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
