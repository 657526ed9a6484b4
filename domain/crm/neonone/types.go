package neonone

type pagination struct {
	CurrentPage  int `json:"currentPage"`
	PageSize     int `json:"pageSize"`
	TotalPages   int `json:"totalPages"`
	TotalResults int `json:"totalResults"`
}

type accountSummary struct {
	AccountID   string `json:"accountId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	UserType    string `json:"userType"`
	CompanyName string `json:"companyName"`
}

type accountList struct {
	Accounts   []accountSummary `json:"accounts"`
	Pagination pagination       `json:"pagination"`
}

type searchField struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value,omitempty"`
}

type searchRequest struct {
	SearchFields []searchField `json:"searchFields"`
	OutputFields []string      `json:"outputFields"`
	Pagination   pagination    `json:"pagination"`
}

// searchResponse rows are keyed by the requested output field names.
type searchResponse struct {
	SearchResults []map[string]string `json:"searchResults"`
	Pagination    pagination          `json:"pagination"`
}

type addressBody struct {
	AddressLine1 string `json:"addressLine1,omitempty"`
	IsPrimary    bool   `json:"isPrimary"`
}

type contactBody struct {
	FirstName string        `json:"firstName,omitempty"`
	LastName  string        `json:"lastName,omitempty"`
	Email1    string        `json:"email1,omitempty"`
	Phone1    string        `json:"phone1,omitempty"`
	Addresses []addressBody `json:"addresses,omitempty"`
}

type individualAccount struct {
	PrimaryContact contactBody `json:"primaryContact"`
}

type companyAccount struct {
	Name           string      `json:"name"`
	PrimaryContact contactBody `json:"primaryContact"`
}

type accountBody struct {
	IndividualAccount *individualAccount `json:"individualAccount,omitempty"`
	CompanyAccount    *companyAccount    `json:"companyAccount,omitempty"`
}

type createResponse struct {
	ID string `json:"id"`
}
