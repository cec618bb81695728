package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/ledgerline/bankfeed/internal/model"
)

// Header is the CSV header of an export file.
const Header = "bank_name,account_iban,transaction_id,booking_date,amount,currency,description,status"

const (
	numFields  = 8
	dateFormat = "2006-01-02"
	colBank    = 0
	colIBAN    = 1
	colTxnID   = 2
	colDate    = 3
	colAmount  = 4
	colCurr    = 5
	colDesc    = 6
	colStatus  = 7
)

// Columns returns the export column names in order.
func Columns() []string {
	return strings.Split(Header, ",")
}

// MarshalRow converts a BankTransaction to a CSV row.
func MarshalRow(t model.BankTransaction) []string {
	row := make([]string, numFields)
	row[colBank] = t.BankName
	row[colIBAN] = t.AccountIBAN
	row[colTxnID] = t.ID
	if !t.Date.IsZero() {
		row[colDate] = t.Date.Format(dateFormat)
	}
	row[colAmount] = t.Amount.StringFixed(2)
	if t.AmountRaw != "" {
		row[colAmount] = t.AmountRaw
	}
	row[colCurr] = t.Currency
	row[colDesc] = t.Description
	row[colStatus] = string(t.Status)
	return row
}

// WriteRows writes rows to w, header first.
func WriteRows(w io.Writer, rows []model.BankTransaction) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Columns()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, r := range rows {
		if err := cw.Write(MarshalRow(r)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes rows to path atomically: a crash leaves either the old
// file or the complete new one.
func WriteFile(path string, rows []model.BankTransaction) error {
	var buf bytes.Buffer
	if err := WriteRows(&buf, rows); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
