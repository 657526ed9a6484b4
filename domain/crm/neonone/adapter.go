// Package neonone adapts the Neon CRM v2 API. Requests use HTTP Basic
// auth with the organization id as user and the API key as password.
// Neon One does not accept pushed activities.
package neonone

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
	DefaultBaseURL = "https://api.neoncrm.com/v2"

	dateLayout = "2006-01-02"
)

// Output field names of the donation and activity searches.
const (
	fieldDonationID     = "Donation ID"
	fieldAccountID      = "Account ID"
	fieldDonationAmount = "Donation Amount"
	fieldDonationDate   = "Donation Date"
	fieldCampaignName   = "Campaign Name"
	fieldFundName       = "Fund"
	fieldPaymentMethod  = "Tender Type"
	fieldRecurring      = "Recurring Donation"

	fieldActivityID   = "Activity ID"
	fieldSubject      = "Subject"
	fieldNote         = "Note"
	fieldStartDate    = "Start Date"
	fieldActivityType = "Activity Type"
)

var donorColumns = []string{
	records.DonorColName,
	records.DonorColFirstName,
	records.DonorColLastName,
	records.DonorColEmail,
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

type Adapter struct {
	transport *crm.Transport
	pageSize  int
}

var _ crm.Adapter = (*Adapter)(nil)

// New is the crm.Factory for Neon One. The Basic auth user is AccountID,
// falling back to APISecret for older stored credentials.
func New(creds crm.Credentials, opts crm.Options) (crm.Adapter, error) {
	key, err := crm.RequireAPIKey(records.SourceNeonOne, creds)
	if err != nil {
		return nil, err
	}
	orgID := key.AccountID
	if orgID == "" {
		orgID = key.APISecret
	}
	if orgID == "" {
		return nil, fmt.Errorf("%w: neonone requires an organization id", crm.ErrInvalidCredentials)
	}
	opts = opts.WithDefaults(DefaultBaseURL)

	auth := func(r *http.Request) { r.SetBasicAuth(orgID, key.APIKey) }
	return &Adapter{
		transport: crm.NewTransport(records.SourceNeonOne, opts.BaseURL, opts.HTTPClient, auth, opts.Retry, opts.Logger),
		pageSize:  opts.PageSize,
	}, nil
}

func (a *Adapter) Provider() records.Source { return records.SourceNeonOne }

func (a *Adapter) TestConnection(ctx context.Context) error {
	var resp accountList
	return a.transport.Do(ctx, crm.Request{
		Op: "test connection", Method: http.MethodGet, Path: "accounts",
		Query: url.Values{"currentPage": {"0"}, "pageSize": {"1"}},
	}, &resp)
}

func (a *Adapter) ListDonors(ctx context.Context, cursor string) (*crm.Page[crm.DonorRecord], error) {
	pageNo, err := crm.ParseNumericCursor(cursor, 0)
	if err != nil {
		return nil, err
	}
	var resp accountList
	if err := a.transport.Do(ctx, crm.Request{
		Op: "list accounts", Method: http.MethodGet, Path: "accounts",
		Query: url.Values{"currentPage": {strconv.Itoa(pageNo)}, "pageSize": {strconv.Itoa(a.pageSize)}},
	}, &resp); err != nil {
		return nil, err
	}

	page := &crm.Page[crm.DonorRecord]{
		NextCursor: crm.NextPageCursor(pageNo, len(resp.Accounts), a.pageSize, resp.Pagination.TotalPages),
		Total:      resp.Pagination.TotalResults,
	}
	for _, acc := range resp.Accounts {
		rec, err := mapAccount(acc)
		page.Items = append(page.Items, crm.Item[crm.DonorRecord]{ExternalID: acc.AccountID, Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) search(ctx context.Context, op, path, cursor string, fields []searchField, output []string) (*searchResponse, int, error) {
	pageNo, err := crm.ParseNumericCursor(cursor, 0)
	if err != nil {
		return nil, 0, err
	}
	body := searchRequest{
		SearchFields: fields,
		OutputFields: output,
		Pagination:   pagination{CurrentPage: pageNo, PageSize: a.pageSize},
	}
	var resp searchResponse
	if err := a.transport.Do(ctx, crm.Request{Op: op, Method: http.MethodPost, Path: path, Body: body, Idempotent: true}, &resp); err != nil {
		return nil, 0, err
	}
	return &resp, pageNo, nil
}

func (a *Adapter) ListDonations(ctx context.Context, cursor string) (*crm.Page[crm.DonationRecord], error) {
	resp, pageNo, err := a.search(ctx, "search donations", "donations/search", cursor,
		[]searchField{{Field: fieldDonationDate, Operator: "NOT_BLANK"}},
		[]string{fieldDonationID, fieldAccountID, fieldDonationAmount, fieldDonationDate, fieldCampaignName, fieldFundName, fieldPaymentMethod, fieldRecurring})
	if err != nil {
		return nil, err
	}

	page := &crm.Page[crm.DonationRecord]{
		NextCursor: crm.NextPageCursor(pageNo, len(resp.SearchResults), a.pageSize, resp.Pagination.TotalPages),
		Total:      resp.Pagination.TotalResults,
	}
	for _, row := range resp.SearchResults {
		rec, err := mapDonation(row)
		page.Items = append(page.Items, crm.Item[crm.DonationRecord]{ExternalID: row[fieldDonationID], Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) ListInteractions(ctx context.Context, cursor string) (*crm.Page[crm.InteractionRecord], error) {
	resp, pageNo, err := a.search(ctx, "search activities", "activities/search", cursor,
		[]searchField{{Field: fieldAccountID, Operator: "NOT_BLANK"}},
		[]string{fieldActivityID, fieldAccountID, fieldSubject, fieldNote, fieldStartDate, fieldActivityType})
	if err != nil {
		return nil, err
	}

	page := &crm.Page[crm.InteractionRecord]{
		NextCursor: crm.NextPageCursor(pageNo, len(resp.SearchResults), a.pageSize, resp.Pagination.TotalPages),
		Total:      resp.Pagination.TotalResults,
	}
	for _, row := range resp.SearchResults {
		rec, err := mapActivity(row)
		page.Items = append(page.Items, crm.Item[crm.InteractionRecord]{ExternalID: row[fieldActivityID], Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) CreateDonor(ctx context.Context, donor *records.Donor) (string, error) {
	var created createResponse
	if err := a.transport.Do(ctx, crm.Request{
		Op: "create account", Method: http.MethodPost, Path: "accounts", Body: toAccount(donor),
	}, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("neonone create account: response has no id")
	}
	return created.ID, nil
}

func (a *Adapter) UpdateDonor(ctx context.Context, externalID string, donor *records.Donor) error {
	return a.transport.Do(ctx, crm.Request{
		Op: "update account", Method: http.MethodPatch, Path: "accounts/" + url.PathEscape(externalID), Body: toAccount(donor),
	}, nil)
}

func toAccount(d *records.Donor) accountBody {
	first, last := d.FirstName, d.LastName
	if first == "" && last == "" {
		first, last = crm.SplitName(d.Name)
	}
	c := contactBody{FirstName: first, LastName: last, Email1: d.Email, Phone1: d.Phone}
	if d.Address != "" {
		c.Addresses = []addressBody{{AddressLine1: d.Address, IsPrimary: true}}
	}
	if d.DonorType == "organization" {
		return accountBody{CompanyAccount: &companyAccount{Name: d.Name, PrimaryContact: c}}
	}
	return accountBody{IndividualAccount: &individualAccount{PrimaryContact: c}}
}

func mapAccount(acc accountSummary) (crm.DonorRecord, error) {
	if acc.AccountID == "" {
		return crm.DonorRecord{}, crm.MappingError("", "account without accountId")
	}
	donorType := "individual"
	name := crm.JoinName(acc.FirstName, acc.LastName)
	if strings.EqualFold(acc.UserType, "COMPANY") {
		donorType = "organization"
		if acc.CompanyName != "" {
			name = acc.CompanyName
		}
	}
	if name == "" {
		return crm.DonorRecord{}, crm.MappingError(acc.AccountID, "account has no name")
	}
	return crm.DonorRecord{
		Donor: records.Donor{
			Name:       name,
			FirstName:  acc.FirstName,
			LastName:   acc.LastName,
			Email:      acc.Email,
			DonorType:  donorType,
			ExternalID: acc.AccountID,
		},
		Columns: donorColumns,
	}, nil
}

func mapDonation(row map[string]string) (crm.DonationRecord, error) {
	id := row[fieldDonationID]
	if id == "" {
		return crm.DonationRecord{}, crm.MappingError("", "donation without id")
	}
	account := row[fieldAccountID]
	if account == "" {
		return crm.DonationRecord{}, crm.MappingError(id, "donation has no account")
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(row[fieldDonationAmount], ",", ""), 64)
	if err != nil || amount < 0 {
		return crm.DonationRecord{}, crm.MappingError(id, "bad amount %q", row[fieldDonationAmount])
	}
	date, err := parseDate(row[fieldDonationDate])
	if err != nil {
		return crm.DonationRecord{}, crm.MappingError(id, "bad date %q", row[fieldDonationDate])
	}
	recurring, _ := strconv.ParseBool(strings.ToLower(row[fieldRecurring]))

	return crm.DonationRecord{
		Donation: records.Donation{
			Amount:        amount,
			Date:          date,
			PaymentMethod: crm.LookupPaymentMethod(records.SourceNeonOne, row[fieldPaymentMethod]),
			Campaign:      row[fieldCampaignName],
			Fund:          row[fieldFundName],
			IsRecurring:   recurring,
			ExternalID:    id,
		},
		DonorExternalID: account,
		Columns:         donationColumns,
	}, nil
}

func mapActivity(row map[string]string) (crm.InteractionRecord, error) {
	id := row[fieldActivityID]
	if id == "" {
		return crm.InteractionRecord{}, crm.MappingError("", "activity without id")
	}
	account := row[fieldAccountID]
	if account == "" {
		return crm.InteractionRecord{}, crm.MappingError(id, "activity has no account")
	}
	occurred, err := parseDate(row[fieldStartDate])
	if err != nil {
		return crm.InteractionRecord{}, crm.MappingError(id, "bad start date %q", row[fieldStartDate])
	}
	return crm.InteractionRecord{
		Interaction: records.Interaction{
			Channel:    crm.LookupChannel(records.SourceNeonOne, row[fieldActivityType]),
			Subject:    row[fieldSubject],
			Notes:      row[fieldNote],
			OccurredAt: occurred,
			ExternalID: id,
		},
		DonorExternalID: account,
		Columns:         interactionColumns,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
