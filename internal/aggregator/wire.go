package aggregator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/bankfeed/internal/model"
)

// Wire formats of the Bank Account Data v2 API.

type tokenRequest struct {
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type tokenResponse struct {
	Access         string `json:"access"`
	AccessExpires  int    `json:"access_expires"`
	Refresh        string `json:"refresh"`
	RefreshExpires int    `json:"refresh_expires"`
}

// looseInt accepts a number sent either bare or quoted.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parsing %s as integer: %w", b, err)
	}
	*n = looseInt(v)
	return nil
}

type institution struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	BIC                  string   `json:"bic"`
	TransactionTotalDays looseInt `json:"transaction_total_days"`
	Countries            []string `json:"countries"`
	Logo                 string   `json:"logo"`
}

func (i institution) model() model.Institution {
	return model.Institution{
		ID:                   i.ID,
		Name:                 i.Name,
		BIC:                  i.BIC,
		TransactionTotalDays: int(i.TransactionTotalDays),
		Countries:            i.Countries,
		Logo:                 i.Logo,
	}
}

type agreementRequest struct {
	InstitutionID      string   `json:"institution_id"`
	MaxHistoricalDays  int      `json:"max_historical_days"`
	AccessValidForDays int      `json:"access_valid_for_days"`
	AccessScope        []string `json:"access_scope"`
}

type agreement struct {
	ID string `json:"id"`
}

type requisitionRequest struct {
	Redirect      string `json:"redirect"`
	InstitutionID string `json:"institution_id"`
	Reference     string `json:"reference"`
	Agreement     string `json:"agreement,omitempty"`
	UserLanguage  string `json:"user_language,omitempty"`
}

type requisition struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	InstitutionID string   `json:"institution_id"`
	Accounts      []string `json:"accounts"`
	Link          string   `json:"link"`
	Reference     string   `json:"reference"`
}

func (r requisition) model() model.Requisition {
	rec := model.Requisition{
		InstitutionID: r.InstitutionID,
		ID:            r.ID,
		Status:        model.ParseRequisitionStatus(r.Status),
		Link:          r.Link,
		Reference:     r.Reference,
	}
	if rec.Status == model.RequisitionLinked {
		rec.AccountIDs = r.Accounts
	}
	return rec
}

type requisitionPage struct {
	Count   int           `json:"count"`
	Next    *string       `json:"next"`
	Results []requisition `json:"results"`
}

type accountDetails struct {
	Account struct {
		ResourceID string `json:"resourceId"`
		IBAN       string `json:"iban"`
		Currency   string `json:"currency"`
		OwnerName  string `json:"ownerName"`
		Name       string `json:"name"`
		Product    string `json:"product"`
	} `json:"account"`
}

type amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type balance struct {
	BalanceAmount      amount `json:"balanceAmount"`
	BalanceType        string `json:"balanceType"`
	LastChangeDateTime string `json:"lastChangeDateTime"`
	ReferenceDate      string `json:"referenceDate"`
}

type balances struct {
	Balances []balance `json:"balances"`
}

type transaction struct {
	TransactionID                          string   `json:"transactionId"`
	InternalTransactionID                  string   `json:"internalTransactionId"`
	BookingDate                            string   `json:"bookingDate"`
	ValueDate                              string   `json:"valueDate"`
	TransactionAmount                      amount   `json:"transactionAmount"`
	RemittanceInformationUnstructured      string   `json:"remittanceInformationUnstructured"`
	RemittanceInformationUnstructuredArray []string `json:"remittanceInformationUnstructuredArray"`
	CreditorName                           string   `json:"creditorName"`
	DebtorName                             string   `json:"debtorName"`
	AdditionalInformation                  string   `json:"additionalInformation"`
}

type transactions struct {
	Transactions *struct {
		Booked  []transaction `json:"booked"`
		Pending []transaction `json:"pending"`
	} `json:"transactions"`
}

const dateLayout = "2006-01-02"

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func (t transaction) description() string {
	switch {
	case t.RemittanceInformationUnstructured != "":
		return t.RemittanceInformationUnstructured
	case len(t.RemittanceInformationUnstructuredArray) > 0:
		return strings.Join(t.RemittanceInformationUnstructuredArray, " ")
	case t.CreditorName != "":
		return t.CreditorName
	case t.DebtorName != "":
		return t.DebtorName
	}
	return t.AdditionalInformation
}

func (t transaction) model(status model.BookingStatus) (model.Transaction, error) {
	amt, err := decimal.NewFromString(t.TransactionAmount.Amount)
	if err != nil {
		return model.Transaction{}, err
	}
	id := t.TransactionID
	if id == "" {
		id = t.InternalTransactionID
	}
	return model.Transaction{
		ID:          id,
		BookingDate: parseDate(t.BookingDate),
		ValueDate:   parseDate(t.ValueDate),
		Amount:      amt,
		Currency:    t.TransactionAmount.Currency,
		Description: t.description(),
		Status:      status,
	}, nil
}
