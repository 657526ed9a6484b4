package bloomerang

// Wire types for the Bloomerang v2 REST API.

type listResponse[T any] struct {
	Total       int `json:"Total"`
	Start       int `json:"Start"`
	ResultCount int `json:"ResultCount"`
	Results     []T `json:"Results"`
}

type email struct {
	Value string `json:"Value"`
}

type phone struct {
	Number string `json:"Number"`
}

type address struct {
	Street     string `json:"Street"`
	City       string `json:"City"`
	State      string `json:"State"`
	PostalCode string `json:"PostalCode"`
	Country    string `json:"Country"`
}

type constituent struct {
	ID             int64    `json:"Id,omitempty"`
	Type           string   `json:"Type"`
	FirstName      string   `json:"FirstName,omitempty"`
	LastName       string   `json:"LastName,omitempty"`
	FullName       string   `json:"FullName,omitempty"`
	PrimaryEmail   *email   `json:"PrimaryEmail,omitempty"`
	PrimaryPhone   *phone   `json:"PrimaryPhone,omitempty"`
	PrimaryAddress *address `json:"PrimaryAddress,omitempty"`
}

type named struct {
	Name string `json:"Name"`
}

type designation struct {
	Amount   float64 `json:"Amount"`
	Type     string  `json:"Type"`
	Fund     *named  `json:"Fund,omitempty"`
	Campaign *named  `json:"Campaign,omitempty"`
}

type transaction struct {
	ID           int64         `json:"Id"`
	AccountID    int64         `json:"AccountId"`
	Amount       float64       `json:"Amount"`
	Date         string        `json:"Date"`
	Method       string        `json:"Method"`
	Designations []designation `json:"Designations"`
}

type interaction struct {
	ID        int64  `json:"Id,omitempty"`
	AccountID int64  `json:"AccountId"`
	Date      string `json:"Date"`
	Channel   string `json:"Channel"`
	Purpose   string `json:"Purpose,omitempty"`
	Subject   string `json:"Subject,omitempty"`
	Note      string `json:"Note,omitempty"`
	IsInbound bool   `json:"IsInbound"`
}
