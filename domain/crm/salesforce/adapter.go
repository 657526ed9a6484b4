// Package salesforce adapts the Salesforce REST API. Contacts are donors,
// won opportunities are donations and tasks are interactions.
package salesforce

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
)

const (
	DefaultBaseURL = "https://login.salesforce.com"
	APIVersion     = "v59.0"

	dateLayout = "2006-01-02"
)

const (
	contactQuery     = "SELECT Id, FirstName, LastName, Name, Email, Phone, MailingStreet, MailingCity, MailingState, MailingPostalCode, MailingCountry, Description FROM Contact ORDER BY Id"
	opportunityQuery = "SELECT Id, Name, Amount, CloseDate, ContactId, Type, Campaign.Name FROM Opportunity WHERE IsWon = true ORDER BY Id"
	taskQuery        = "SELECT Id, WhoId, Subject, Description, ActivityDate, Type, TaskSubtype FROM Task WHERE WhoId != null ORDER BY Id"
)

var donorColumns = []string{
	records.DonorColName,
	records.DonorColFirstName,
	records.DonorColLastName,
	records.DonorColEmail,
	records.DonorColPhone,
	records.DonorColAddress,
	records.DonorColNotes,
}

var donationColumns = []string{
	records.DonationColAmount,
	records.DonationColDate,
	records.DonationColCampaign,
	records.DonationColIsRecurring,
	records.DonationColNotes,
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

var (
	_ crm.Adapter           = (*Adapter)(nil)
	_ crm.InteractionPusher = (*Adapter)(nil)
)

// New is the crm.Factory for Salesforce. Requests go to the credentials'
// instance URL unless opts.BaseURL overrides it.
func New(creds crm.Credentials, opts crm.Options) (crm.Adapter, error) {
	base := opts.BaseURL
	opts = opts.WithDefaults(DefaultBaseURL)
	token, err := crm.RequireOAuth2(records.SourceSalesforce, creds, opts.Now())
	if err != nil {
		return nil, err
	}
	if base == "" && token.InstanceURL != "" {
		opts.BaseURL = token.InstanceURL
	}

	client := crm.OAuthClient(opts.HTTPClient, token)
	return &Adapter{
		transport: crm.NewTransport(records.SourceSalesforce, opts.BaseURL, client, nil, opts.Retry, opts.Logger),
		pageSize:  opts.PageSize,
	}, nil
}

func (a *Adapter) Provider() records.Source { return records.SourceSalesforce }

func dataPath(p string) string {
	return "services/data/" + APIVersion + "/" + p
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	return a.transport.Do(ctx, crm.Request{Op: "test connection", Method: http.MethodGet, Path: dataPath("limits")}, nil)
}

// query runs soql, or continues it when cursor holds a nextRecordsUrl.
func query[T any](ctx context.Context, a *Adapter, op, soql, cursor string) (queryResponse[T], error) {
	req := crm.Request{
		Op:     op,
		Method: http.MethodGet,
		Header: http.Header{"Sforce-Query-Options": {"batchSize=" + strconv.Itoa(a.pageSize)}},
	}
	if cursor != "" {
		req.Path = cursor
	} else {
		req.Path = dataPath("query")
		req.Query = url.Values{"q": {soql}}
	}

	var resp queryResponse[T]
	err := a.transport.Do(ctx, req, &resp)
	if resp.Done {
		resp.NextRecordsURL = ""
	}
	return resp, err
}

func (a *Adapter) ListDonors(ctx context.Context, cursor string) (*crm.Page[crm.DonorRecord], error) {
	resp, err := query[contact](ctx, a, "query contacts", contactQuery, cursor)
	if err != nil {
		return nil, err
	}
	page := &crm.Page[crm.DonorRecord]{NextCursor: resp.NextRecordsURL, Total: resp.TotalSize}
	for _, c := range resp.Records {
		rec, err := mapContact(c)
		page.Items = append(page.Items, crm.Item[crm.DonorRecord]{ExternalID: c.ID, Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) ListDonations(ctx context.Context, cursor string) (*crm.Page[crm.DonationRecord], error) {
	resp, err := query[opportunity](ctx, a, "query opportunities", opportunityQuery, cursor)
	if err != nil {
		return nil, err
	}
	page := &crm.Page[crm.DonationRecord]{NextCursor: resp.NextRecordsURL, Total: resp.TotalSize}
	for _, o := range resp.Records {
		rec, err := mapOpportunity(o)
		page.Items = append(page.Items, crm.Item[crm.DonationRecord]{ExternalID: o.ID, Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) ListInteractions(ctx context.Context, cursor string) (*crm.Page[crm.InteractionRecord], error) {
	resp, err := query[task](ctx, a, "query tasks", taskQuery, cursor)
	if err != nil {
		return nil, err
	}
	page := &crm.Page[crm.InteractionRecord]{NextCursor: resp.NextRecordsURL, Total: resp.TotalSize}
	for _, t := range resp.Records {
		rec, err := mapTask(t)
		page.Items = append(page.Items, crm.Item[crm.InteractionRecord]{ExternalID: t.ID, Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) CreateDonor(ctx context.Context, donor *records.Donor) (string, error) {
	var created createResponse
	err := a.transport.Do(ctx, crm.Request{
		Op: "create contact", Method: http.MethodPost, Path: dataPath("sobjects/Contact"), Body: toContact(donor),
	}, &created)
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("salesforce create contact: response has no id")
	}
	return created.ID, nil
}

func (a *Adapter) UpdateDonor(ctx context.Context, externalID string, donor *records.Donor) error {
	return a.transport.Do(ctx, crm.Request{
		Op: "update contact", Method: http.MethodPatch, Path: dataPath("sobjects/Contact/" + url.PathEscape(externalID)), Body: toContact(donor),
	}, nil)
}

func (a *Adapter) CreateInteraction(ctx context.Context, in *records.Interaction, donorExternalID string) (string, error) {
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = in.CreatedAt
	}
	body := task{
		WhoID:        donorExternalID,
		Subject:      in.Subject,
		Description:  in.Notes,
		ActivityDate: occurred.Format(dateLayout),
		Type:         crm.RemoteChannel(records.SourceSalesforce, in.Channel),
		Status:       "Completed",
	}
	if body.Subject == "" {
		body.Subject = body.Type
	}

	var created createResponse
	if err := a.transport.Do(ctx, crm.Request{
		Op: "create task", Method: http.MethodPost, Path: dataPath("sobjects/Task"), Body: body,
	}, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("salesforce create task: response has no id")
	}
	return created.ID, nil
}

func toContact(d *records.Donor) contact {
	first, last := d.FirstName, d.LastName
	if first == "" && last == "" {
		first, last = crm.SplitName(d.Name)
	}
	// LastName is required on Contact.
	if last == "" {
		first, last = "", d.Name
	}
	return contact{
		FirstName:     first,
		LastName:      last,
		Email:         d.Email,
		Phone:         d.Phone,
		MailingStreet: d.Address,
		Description:   d.Notes,
	}
}

func mapContact(c contact) (crm.DonorRecord, error) {
	if c.ID == "" {
		return crm.DonorRecord{}, crm.MappingError("", "contact without Id")
	}
	name := c.Name
	if name == "" {
		name = crm.JoinName(c.FirstName, c.LastName)
	}
	if name == "" {
		return crm.DonorRecord{}, crm.MappingError(c.ID, "contact has no name")
	}
	return crm.DonorRecord{
		Donor: records.Donor{
			Name:       name,
			FirstName:  c.FirstName,
			LastName:   c.LastName,
			Email:      c.Email,
			Phone:      c.Phone,
			Address:    crm.ComposeAddress(c.MailingStreet, c.MailingCity, c.MailingState, c.MailingPostalCode, c.MailingCountry),
			Notes:      c.Description,
			ExternalID: c.ID,
		},
		Columns: donorColumns,
	}, nil
}

func mapOpportunity(o opportunity) (crm.DonationRecord, error) {
	if o.ID == "" {
		return crm.DonationRecord{}, crm.MappingError("", "opportunity without Id")
	}
	if o.ContactID == "" {
		return crm.DonationRecord{}, crm.MappingError(o.ID, "opportunity has no ContactId")
	}
	if o.Amount == nil {
		return crm.DonationRecord{}, crm.MappingError(o.ID, "opportunity has no Amount")
	}
	if *o.Amount < 0 {
		return crm.DonationRecord{}, crm.MappingError(o.ID, "negative amount %v", *o.Amount)
	}
	var date time.Time
	if o.CloseDate != "" {
		var err error
		if date, err = time.Parse(dateLayout, o.CloseDate); err != nil {
			return crm.DonationRecord{}, crm.MappingError(o.ID, "bad CloseDate %q", o.CloseDate)
		}
	}

	d := records.Donation{
		Amount:      *o.Amount,
		Date:        date,
		IsRecurring: o.Type == "Recurring Donation",
		Notes:       o.Name,
		ExternalID:  o.ID,
	}
	if o.Campaign != nil {
		d.Campaign = o.Campaign.Name
	}
	return crm.DonationRecord{Donation: d, DonorExternalID: o.ContactID, Columns: donationColumns}, nil
}

func mapTask(t task) (crm.InteractionRecord, error) {
	if t.ID == "" {
		return crm.InteractionRecord{}, crm.MappingError("", "task without Id")
	}
	if t.WhoID == "" {
		return crm.InteractionRecord{}, crm.MappingError(t.ID, "task has no WhoId")
	}
	var occurred time.Time
	if t.ActivityDate != "" {
		var err error
		if occurred, err = time.Parse(dateLayout, t.ActivityDate); err != nil {
			return crm.InteractionRecord{}, crm.MappingError(t.ID, "bad ActivityDate %q", t.ActivityDate)
		}
	}
	kind := t.Type
	if kind == "" {
		kind = t.TaskSubtype
	}
	return crm.InteractionRecord{
		Interaction: records.Interaction{
			Channel:    crm.LookupChannel(records.SourceSalesforce, kind),
			Subject:    t.Subject,
			Notes:      t.Description,
			OccurredAt: occurred,
			ExternalID: t.ID,
		},
		DonorExternalID: t.WhoID,
		Columns:         interactionColumns,
	}, nil
}
