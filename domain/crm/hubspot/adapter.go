// Package hubspot adapts the HubSpot CRM API. Contacts are donors, deals
// are donations and engagements are interactions.
package hubspot

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

const DefaultBaseURL = "https://api.hubapi.com"

var contactProperties = strings.Join([]string{
	"firstname", "lastname", "email", "phone", "address", "city", "state", "zip", "country", "company", "lastmodifieddate",
}, ",")

var dealProperties = strings.Join([]string{
	"amount", "deal_currency_code", "closedate", "dealname", "payment_method", "campaign", "fund", "recurring",
}, ",")

var donorColumns = []string{
	records.DonorColName,
	records.DonorColFirstName,
	records.DonorColLastName,
	records.DonorColEmail,
	records.DonorColPhone,
	records.DonorColAddress,
}

var donationColumns = []string{
	records.DonationColAmount,
	records.DonationColCurrency,
	records.DonationColDate,
	records.DonationColPaymentMethod,
	records.DonationColCampaign,
	records.DonationColFund,
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

// New is the crm.Factory for HubSpot. Credentials must be an unexpired
// OAuth2 token.
func New(creds crm.Credentials, opts crm.Options) (crm.Adapter, error) {
	opts = opts.WithDefaults(DefaultBaseURL)
	token, err := crm.RequireOAuth2(records.SourceHubSpot, creds, opts.Now())
	if err != nil {
		return nil, err
	}
	client := crm.OAuthClient(opts.HTTPClient, token)
	return &Adapter{
		transport: crm.NewTransport(records.SourceHubSpot, opts.BaseURL, client, nil, opts.Retry, opts.Logger),
		// HubSpot caps object pages at 100.
		pageSize: min(opts.PageSize, 100),
	}, nil
}

func (a *Adapter) Provider() records.Source { return records.SourceHubSpot }

func (a *Adapter) TestConnection(ctx context.Context) error {
	var resp objectList
	return a.transport.Do(ctx, crm.Request{
		Op: "test connection", Method: http.MethodGet, Path: "crm/v3/objects/contacts",
		Query: url.Values{"limit": {"1"}},
	}, &resp)
}

func (a *Adapter) listObjects(ctx context.Context, op, kind, cursor string, q url.Values) (objectList, error) {
	q.Set("limit", strconv.Itoa(a.pageSize))
	if cursor != "" {
		q.Set("after", cursor)
	}
	var resp objectList
	err := a.transport.Do(ctx, crm.Request{Op: op, Method: http.MethodGet, Path: "crm/v3/objects/" + kind, Query: q}, &resp)
	return resp, err
}

func (a *Adapter) ListDonors(ctx context.Context, cursor string) (*crm.Page[crm.DonorRecord], error) {
	resp, err := a.listObjects(ctx, "list contacts", "contacts", cursor, url.Values{"properties": {contactProperties}})
	if err != nil {
		return nil, err
	}
	page := &crm.Page[crm.DonorRecord]{NextCursor: resp.after()}
	for _, o := range resp.Results {
		rec, err := mapContact(o)
		page.Items = append(page.Items, crm.Item[crm.DonorRecord]{ExternalID: o.ID, Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) ListDonations(ctx context.Context, cursor string) (*crm.Page[crm.DonationRecord], error) {
	resp, err := a.listObjects(ctx, "list deals", "deals", cursor, url.Values{
		"properties":   {dealProperties},
		"associations": {"contacts"},
	})
	if err != nil {
		return nil, err
	}
	page := &crm.Page[crm.DonationRecord]{NextCursor: resp.after()}
	for _, o := range resp.Results {
		rec, err := mapDeal(o)
		page.Items = append(page.Items, crm.Item[crm.DonationRecord]{ExternalID: o.ID, Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) ListInteractions(ctx context.Context, cursor string) (*crm.Page[crm.InteractionRecord], error) {
	q := url.Values{"limit": {strconv.Itoa(a.pageSize)}}
	if cursor != "" {
		q.Set("offset", cursor)
	}
	var resp engagementList
	if err := a.transport.Do(ctx, crm.Request{
		Op: "list engagements", Method: http.MethodGet, Path: "engagements/v1/engagements/paged", Query: q,
	}, &resp); err != nil {
		return nil, err
	}

	page := &crm.Page[crm.InteractionRecord]{}
	if resp.HasMore && len(resp.Results) > 0 {
		page.NextCursor = strconv.FormatInt(resp.Offset, 10)
	}
	for _, e := range resp.Results {
		rec, err := mapEngagement(e)
		page.Items = append(page.Items, crm.Item[crm.InteractionRecord]{ExternalID: engagementID(e), Record: rec, Err: err})
	}
	return page, nil
}

func (a *Adapter) CreateDonor(ctx context.Context, donor *records.Donor) (string, error) {
	var created object
	err := a.transport.Do(ctx, crm.Request{
		Op: "create contact", Method: http.MethodPost, Path: "crm/v3/objects/contacts",
		Body: object{Properties: contactProps(donor)},
	}, &created)
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("hubspot create contact: response has no id")
	}
	return created.ID, nil
}

func (a *Adapter) UpdateDonor(ctx context.Context, externalID string, donor *records.Donor) error {
	return a.transport.Do(ctx, crm.Request{
		Op: "update contact", Method: http.MethodPatch, Path: "crm/v3/objects/contacts/" + url.PathEscape(externalID),
		Body: object{Properties: contactProps(donor)},
	}, nil)
}

func (a *Adapter) CreateInteraction(ctx context.Context, in *records.Interaction, donorExternalID string) (string, error) {
	contactID, err := strconv.ParseInt(donorExternalID, 10, 64)
	if err != nil {
		return "", crm.MappingError(donorExternalID, "contact id is not numeric")
	}
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = in.CreatedAt
	}

	body := engagementEnvelope{
		Engagement:   engagement{Type: crm.RemoteChannel(records.SourceHubSpot, in.Channel), Timestamp: occurred.UnixMilli()},
		Associations: engagementAssociations{ContactIDs: []int64{contactID}},
		Metadata:     engagementMetadata{Subject: in.Subject, Body: in.Notes},
	}
	var created engagementEnvelope
	if err := a.transport.Do(ctx, crm.Request{
		Op: "create engagement", Method: http.MethodPost, Path: "engagements/v1/engagements", Body: body,
	}, &created); err != nil {
		return "", err
	}
	if created.Engagement.ID == 0 {
		return "", fmt.Errorf("hubspot create engagement: response has no id")
	}
	return strconv.FormatInt(created.Engagement.ID, 10), nil
}

func contactProps(d *records.Donor) map[string]string {
	first, last := d.FirstName, d.LastName
	if first == "" && last == "" {
		first, last = crm.SplitName(d.Name)
	}
	props := map[string]string{"firstname": first, "lastname": last}
	if d.Email != "" {
		props["email"] = d.Email
	}
	if d.Phone != "" {
		props["phone"] = d.Phone
	}
	if d.Address != "" {
		props["address"] = d.Address
	}
	if d.DonorType == "organization" {
		props["company"] = d.Name
	}
	return props
}

func mapContact(o object) (crm.DonorRecord, error) {
	if o.ID == "" {
		return crm.DonorRecord{}, crm.MappingError("", "contact without id")
	}
	p := o.Properties
	first, last := p["firstname"], p["lastname"]
	name := crm.JoinName(first, last)
	if name == "" {
		name = p["company"]
	}
	if name == "" {
		name = p["email"]
	}
	if name == "" {
		return crm.DonorRecord{}, crm.MappingError(o.ID, "contact has no name or email")
	}

	return crm.DonorRecord{
		Donor: records.Donor{
			Name:       name,
			FirstName:  first,
			LastName:   last,
			Email:      p["email"],
			Phone:      p["phone"],
			Address:    crm.ComposeAddress(p["address"], p["city"], p["state"], p["zip"], p["country"]),
			ExternalID: o.ID,
		},
		Columns: donorColumns,
	}, nil
}

func mapDeal(o object) (crm.DonationRecord, error) {
	if o.ID == "" {
		return crm.DonationRecord{}, crm.MappingError("", "deal without id")
	}
	p := o.Properties
	contactID := o.associated("contacts")
	if contactID == "" {
		return crm.DonationRecord{}, crm.MappingError(o.ID, "deal has no associated contact")
	}

	var amount float64
	if s := p["amount"]; s != "" {
		var err error
		if amount, err = strconv.ParseFloat(s, 64); err != nil {
			return crm.DonationRecord{}, crm.MappingError(o.ID, "bad amount %q", s)
		}
	}
	if amount < 0 {
		return crm.DonationRecord{}, crm.MappingError(o.ID, "negative amount %v", amount)
	}

	var date time.Time
	if s := p["closedate"]; s != "" {
		var err error
		if date, err = time.Parse(time.RFC3339, s); err != nil {
			return crm.DonationRecord{}, crm.MappingError(o.ID, "bad closedate %q", s)
		}
	}

	currency := strings.ToUpper(p["deal_currency_code"])
	if currency == "" {
		currency = "USD"
	}
	recurring, _ := strconv.ParseBool(p["recurring"])

	return crm.DonationRecord{
		Donation: records.Donation{
			Amount:        amount,
			Currency:      currency,
			Date:          date,
			PaymentMethod: crm.LookupPaymentMethod(records.SourceHubSpot, p["payment_method"]),
			Campaign:      p["campaign"],
			Fund:          p["fund"],
			IsRecurring:   recurring,
			Notes:         p["dealname"],
			ExternalID:    o.ID,
		},
		DonorExternalID: contactID,
		Columns:         donationColumns,
	}, nil
}

func engagementID(e engagementEnvelope) string {
	if e.Engagement.ID == 0 {
		return ""
	}
	return strconv.FormatInt(e.Engagement.ID, 10)
}

func mapEngagement(e engagementEnvelope) (crm.InteractionRecord, error) {
	id := engagementID(e)
	if id == "" {
		return crm.InteractionRecord{}, crm.MappingError("", "engagement without id")
	}
	if len(e.Associations.ContactIDs) == 0 {
		return crm.InteractionRecord{}, crm.MappingError(id, "engagement has no associated contact")
	}

	subject := e.Metadata.Subject
	if subject == "" {
		subject = e.Metadata.Title
	}
	in := records.Interaction{
		Channel:    crm.LookupChannel(records.SourceHubSpot, e.Engagement.Type),
		Subject:    subject,
		Notes:      e.Metadata.Body,
		ExternalID: id,
	}
	if e.Engagement.Timestamp > 0 {
		in.OccurredAt = time.UnixMilli(e.Engagement.Timestamp).UTC()
	}
	return crm.InteractionRecord{
		Interaction:     in,
		DonorExternalID: strconv.FormatInt(e.Associations.ContactIDs[0], 10),
		Columns:         interactionColumns,
	}, nil
}
