package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/bankfeed/internal/model"
)

// ExportParser parses files written by download-all-transactions. Columns are
// addressed by header name, so files from older versions without a status
// column still parse.
type ExportParser struct{}

const exportDateFormat = "2006-01-02"

var (
	exportRequired = []string{"booking_date", "amount", "description"}
	exportOptional = []string{"bank_name", "account_iban", "transaction_id", "currency", "status"}
)

// Format returns the parser name.
func (p *ExportParser) Format() string { return "bankfeed" }

// Parse reads an export CSV. A row whose amount does not parse keeps the
// original text in AmountRaw and a zero Amount.
func (p *ExportParser) Parse(r io.Reader) ([]model.BankTransaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading export CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("missing header row")
	}

	cols := map[string]int{}
	for i, name := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range exportRequired {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	if len(records) == 1 {
		return nil, nil
	}

	var txns []model.BankTransaction
	for i, rec := range records[1:] {
		txn, err := parseExportRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func parseExportRow(rec []string, cols map[string]int) (model.BankTransaction, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var date time.Time
	if s := field("booking_date"); s != "" {
		d, err := time.Parse(exportDateFormat, s)
		if err != nil {
			return model.BankTransaction{}, fmt.Errorf("parsing date %q: %w", s, err)
		}
		date = d
	}

	txn := model.BankTransaction{
		BankName:    field("bank_name"),
		AccountIBAN: field("account_iban"),
		ID:          field("transaction_id"),
		Date:        date,
		Currency:    field("currency"),
		Description: field("description"),
		Status:      model.BookingStatus(field("status")),
	}

	raw := field("amount")
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		txn.AmountRaw = raw
	} else {
		txn.Amount = amount
	}
	return txn, nil
}
