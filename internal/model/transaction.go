package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus distinguishes settled from pending transactions.
type BookingStatus string

const (
	Booked  BookingStatus = "booked"
	Pending BookingStatus = "pending"
)

// Transaction is one account transaction as reported by the aggregator.
type Transaction struct {
	ID          string
	BookingDate time.Time // zero for pending rows without a booking date
	ValueDate   time.Time
	Amount      decimal.Decimal // negative = outflow, positive = inflow
	Currency    string
	Description string
	Status      BookingStatus
}

// BankTransaction is a transaction row of an export file, flattened with the
// bank and account it belongs to.
type BankTransaction struct {
	BankName    string
	AccountIBAN string
	ID          string
	Date        time.Time
	Amount      decimal.Decimal // negative = expense, positive = income
	AmountRaw   string          // original text, kept when Amount failed to parse
	Currency    string
	Description string
	Status      BookingStatus
}
