// Package convert rewrites exported transactions into the spreadsheet layout
// used for household budgeting: one row per transaction with the month name
// and separate credit and debit columns.
package convert

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/text/language"

	"github.com/ledgerline/bankfeed/internal/id"
	"github.com/ledgerline/bankfeed/internal/model"
)

const dateFormat = "2006-01-02"

// OutputSuffix marks converted files so they are not converted again.
const OutputSuffix = "_converted"

type layout struct {
	header []string
	months [12]string
}

var layouts = map[language.Base]layout{
	mustBase("it"): {
		header: []string{"data", "mese", "descrizione", "importo entrata", "importo uscita", "categoria", "conto"},
		months: [12]string{"gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno",
			"luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre"},
	},
	mustBase("en"): {
		header: []string{"date", "month", "description", "credit", "debit", "category", "account"},
		months: [12]string{"January", "February", "March", "April", "May", "June",
			"July", "August", "September", "October", "November", "December"},
	},
}

func mustBase(tag string) language.Base {
	b, _ := language.MustParse(tag).Base()
	return b
}

// Converter writes the localized layout.
type Converter struct {
	layout layout
}

// New returns a Converter for locale, a BCP 47 tag such as "it" or "en-GB".
func New(locale string) (*Converter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("parsing locale %q: %w", locale, err)
	}
	base, _ := tag.Base()
	l, ok := layouts[base]
	if !ok {
		return nil, fmt.Errorf("locale %q is not supported (use it or en)", locale)
	}
	return &Converter{layout: l}, nil
}

// Header returns the column names of the layout.
func (c *Converter) Header() []string {
	return append([]string(nil), c.layout.header...)
}

// Row converts one transaction. Positive amounts fill the credit column,
// negative ones the debit column as an absolute value. Zero or unparseable
// amounts leave both empty. The category column is left for the user.
func (c *Converter) Row(t model.BankTransaction) []string {
	var date, month string
	if !t.Date.IsZero() {
		date = t.Date.Format(dateFormat)
		month = c.layout.months[t.Date.Month()-1]
	}

	var credit, debit string
	if t.AmountRaw == "" {
		switch {
		case t.Amount.IsPositive():
			credit = t.Amount.StringFixed(2)
		case t.Amount.IsNegative():
			debit = t.Amount.Abs().StringFixed(2)
		}
	}

	return []string{date, month, t.Description, credit, debit, "", t.AccountIBAN}
}

// Write writes txns to w, header first.
func (c *Converter) Write(w io.Writer, txns []model.BankTransaction) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(c.layout.header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, t := range txns {
		if err := cw.Write(c.Row(t)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes txns to path atomically.
func (c *Converter) WriteFile(path string, txns []model.BankTransaction) error {
	var buf bytes.Buffer
	if err := c.Write(&buf, txns); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// OutputPath returns the default output path for input:
// "<input-base>_converted_<YYYYmmdd_HHMMSS>.csv".
func OutputPath(input string, now time.Time) string {
	return id.DatedPath(input, OutputSuffix, now)
}
