package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds the details of one linked bank account.
type Account struct {
	ID        string
	IBAN      string
	Currency  string
	OwnerName string
	Name      string
	Product   string
}

// DisplayName returns the best human label for the account.
func (a Account) DisplayName() string {
	switch {
	case a.Name != "":
		return a.Name
	case a.OwnerName != "":
		return a.OwnerName
	}
	return a.ID
}

// Balance is one balance figure reported for an account.
type Balance struct {
	Type          string // e.g. "interimAvailable", "closingBooked"
	Amount        decimal.Decimal
	Currency      string
	LastChange    time.Time // zero when not reported
	ReferenceDate string
}
