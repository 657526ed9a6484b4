package salesforce

type queryResponse[T any] struct {
	TotalSize      int    `json:"totalSize"`
	Done           bool   `json:"done"`
	NextRecordsURL string `json:"nextRecordsUrl"`
	Records        []T    `json:"records"`
}

type contact struct {
	ID                string `json:"Id,omitempty"`
	FirstName         string `json:"FirstName,omitempty"`
	LastName          string `json:"LastName,omitempty"`
	Name              string `json:"Name,omitempty"`
	Email             string `json:"Email,omitempty"`
	Phone             string `json:"Phone,omitempty"`
	MailingStreet     string `json:"MailingStreet,omitempty"`
	MailingCity       string `json:"MailingCity,omitempty"`
	MailingState      string `json:"MailingState,omitempty"`
	MailingPostalCode string `json:"MailingPostalCode,omitempty"`
	MailingCountry    string `json:"MailingCountry,omitempty"`
	Description       string `json:"Description,omitempty"`
}

type relation struct {
	Name string `json:"Name"`
}

type opportunity struct {
	ID        string    `json:"Id"`
	Name      string    `json:"Name"`
	Amount    *float64  `json:"Amount"`
	CloseDate string    `json:"CloseDate"`
	ContactID string    `json:"ContactId"`
	Type      string    `json:"Type"`
	Campaign  *relation `json:"Campaign"`
}

type task struct {
	ID           string `json:"Id,omitempty"`
	WhoID        string `json:"WhoId,omitempty"`
	Subject      string `json:"Subject,omitempty"`
	Description  string `json:"Description,omitempty"`
	ActivityDate string `json:"ActivityDate,omitempty"`
	Type         string `json:"Type,omitempty"`
	TaskSubtype  string `json:"TaskSubtype,omitempty"`
	Status       string `json:"Status,omitempty"`
}

type createResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}
