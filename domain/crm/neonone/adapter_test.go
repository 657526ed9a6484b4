package neonone

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
)

func newTestAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	a, err := New(crm.APIKeyCredentials{APIKey: "key", AccountID: "org1"}, crm.Options{
		BaseURL:  srv.URL,
		PageSize: 50,
		Retry:    crm.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	require.NoError(t, err)
	return a.(*Adapter)
}

func TestNew_OrgIDFallsBackToSecret(t *testing.T) {
	var user string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, _ = r.BasicAuth()
		fmt.Fprint(w, `{"accounts":[]}`)
	}))
	t.Cleanup(srv.Close)

	a, err := New(crm.APIKeyCredentials{APIKey: "key", APISecret: "legacy"}, crm.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, a.TestConnection(context.Background()))
	assert.Equal(t, "legacy", user)

	_, err = New(crm.APIKeyCredentials{APIKey: "key"}, crm.Options{})
	assert.ErrorIs(t, err, crm.ErrInvalidCredentials)
}

func TestDoesNotPushInteractions(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	_, ok := crm.Adapter(a).(crm.InteractionPusher)
	assert.False(t, ok)
}

func TestListDonors_PaginatesByPage(t *testing.T) {
	requests := 0
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "org1", user)
		assert.Equal(t, "key", pass)

		pageNo, _ := strconv.Atoi(r.URL.Query().Get("currentPage"))
		n := 50
		if pageNo == 2 {
			n = 20
		}
		resp := accountList{Pagination: pagination{CurrentPage: pageNo, PageSize: 50, TotalPages: 3, TotalResults: 120}}
		for i := 0; i < n; i++ {
			resp.Accounts = append(resp.Accounts, accountSummary{
				AccountID: strconv.Itoa(pageNo*50 + i + 1), FirstName: "Jo", LastName: "March", UserType: "INDIVIDUAL",
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	total := 0
	cursor := ""
	for {
		page, err := a.ListDonors(context.Background(), cursor)
		require.NoError(t, err)
		total += len(page.Items)
		if !page.HasMore() {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, 120, total)
	assert.Equal(t, 3, requests)
}

func TestListDonors_CompanyAccount(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"accounts":[{"accountId":"9","userType":"COMPANY","companyName":"Acme"},{"accountId":"10"}],"pagination":{"totalPages":1}}`)
	})
	page, err := a.ListDonors(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Acme", page.Items[0].Record.Donor.Name)
	assert.Equal(t, "organization", page.Items[0].Record.Donor.DonorType)
	assert.ErrorIs(t, page.Items[1].Err, crm.ErrMapping)
}

func TestListDonations_Search(t *testing.T) {
	var req searchRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/donations/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fmt.Fprint(w, `{"searchResults":[
			{"Donation ID":"d1","Account ID":"9","Donation Amount":"1,000.00","Donation Date":"2024-01-05","Fund":"General","Tender Type":"Check","Recurring Donation":"False"},
			{"Donation ID":"d2","Account ID":"9","Donation Amount":"n/a"}
		],"pagination":{"currentPage":1,"totalPages":2}}`)
	})

	page, err := a.ListDonations(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 1, req.Pagination.CurrentPage)
	assert.Equal(t, 50, req.Pagination.PageSize)
	assert.Contains(t, req.OutputFields, fieldDonationAmount)
	assert.False(t, page.HasMore())

	require.Len(t, page.Items, 2)
	rec := page.Items[0].Record
	require.NoError(t, page.Items[0].Err)
	assert.InDelta(t, 1000.0, rec.Donation.Amount, 0.001)
	assert.Equal(t, records.PaymentCheck, rec.Donation.PaymentMethod)
	assert.Equal(t, "9", rec.DonorExternalID)
	assert.ErrorIs(t, page.Items[1].Err, crm.ErrMapping)
}

func TestListInteractions_Search(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activities/search", r.URL.Path)
		fmt.Fprint(w, `{"searchResults":[{"Activity ID":"a1","Account ID":"9","Subject":"Visit","Start Date":"2024-02-02","Activity Type":"Meeting"}],"pagination":{"totalPages":1}}`)
	})
	page, err := a.ListInteractions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, records.ChannelMeeting, page.Items[0].Record.Interaction.Channel)
}

func TestCreateAndUpdateAccount(t *testing.T) {
	var method, path string
	var body accountBody
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body = accountBody{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"id":"321"}`)
	})

	id, err := a.CreateDonor(context.Background(), &records.Donor{Name: "Meg March", Email: "meg@example.org"})
	require.NoError(t, err)
	assert.Equal(t, "321", id)
	require.NotNil(t, body.IndividualAccount)
	assert.Equal(t, "Meg", body.IndividualAccount.PrimaryContact.FirstName)
	assert.Equal(t, "meg@example.org", body.IndividualAccount.PrimaryContact.Email1)

	require.NoError(t, a.UpdateDonor(context.Background(), "321", &records.Donor{Name: "Acme", DonorType: "organization"}))
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/accounts/321", path)
	require.NotNil(t, body.CompanyAccount)
	assert.Equal(t, "Acme", body.CompanyAccount.Name)
}

// The account list only returns summary fields, so phone and address are
// written but never claimed on the way back.
func TestCreateDonor_RoundTripsThroughListDonors(t *testing.T) {
	var stored accountBody
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/accounts":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&stored))
			_ = json.NewEncoder(w).Encode(createResponse{ID: "901"})
		case r.Method == http.MethodGet && r.URL.Path == "/accounts":
			require.NotNil(t, stored.IndividualAccount)
			c := stored.IndividualAccount.PrimaryContact
			_ = json.NewEncoder(w).Encode(accountList{
				Accounts: []accountSummary{{
					AccountID: "901", FirstName: c.FirstName, LastName: c.LastName, Email: c.Email1, UserType: "INDIVIDUAL",
				}},
				Pagination: pagination{TotalPages: 1, TotalResults: 1},
			})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	donor := &records.Donor{
		Name:      "Ada Lovelace",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.org",
		Phone:     "+44 20 7946 0000",
		Address:   "12 St James's Square, London",
	}
	externalID, err := a.CreateDonor(context.Background(), donor)
	require.NoError(t, err)
	assert.Equal(t, donor.Phone, stored.IndividualAccount.PrimaryContact.Phone1)
	require.Len(t, stored.IndividualAccount.PrimaryContact.Addresses, 1)
	assert.Equal(t, donor.Address, stored.IndividualAccount.PrimaryContact.Addresses[0].AddressLine1)

	page, err := a.ListDonors(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.NoError(t, page.Items[0].Err)

	got := page.Items[0].Record
	assert.Equal(t, externalID, got.Donor.ExternalID)
	assert.Equal(t, donor.Name, got.Donor.Name)
	assert.Equal(t, donor.FirstName, got.Donor.FirstName)
	assert.Equal(t, donor.LastName, got.Donor.LastName)
	assert.Equal(t, donor.Email, got.Donor.Email)
	assert.Equal(t, "individual", got.Donor.DonorType)
	assert.NotContains(t, got.Columns, records.DonorColPhone)
	assert.NotContains(t, got.Columns, records.DonorColAddress)
}
