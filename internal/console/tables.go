package console

import (
	"io"
	"strings"
	"unicode"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ledgerline/bankfeed/internal/model"
)

const dateLayout = "2006-01-02"

var titleCase = cases.Title(language.English)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// Institutions renders a numbered institution listing starting at first.
func Institutions(w io.Writer, institutions []model.Institution, first int) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Name", "ID", "BIC", "History (days)"})
	for i, inst := range institutions {
		t.AppendRow(table.Row{first + i, inst.Name, inst.ID, inst.BIC, inst.TransactionTotalDays})
	}
	t.Render()
}

// Connected renders the institutions with a cached requisition.
func Connected(w io.Writer, rows []ConnectedBank) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Bank", "Institution ID", "Requisition", "Status"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Name, r.InstitutionID, r.RequisitionID, r.Status})
	}
	t.Render()
}

// ConnectedBank is one row of the Connected table.
type ConnectedBank struct {
	Name          string
	InstitutionID string
	RequisitionID string
	Status        string
}

// Accounts renders a numbered account listing.
func Accounts(w io.Writer, accounts []model.Account) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Account", "IBAN", "Currency", "ID"})
	for i, a := range accounts {
		t.AppendRow(table.Row{i + 1, a.DisplayName(), a.IBAN, a.Currency, a.ID})
	}
	t.Render()
}

// Balances renders the balances of one account.
func Balances(w io.Writer, account model.Account, balances []model.Balance) {
	t := newTable(w)
	t.SetTitle(account.DisplayName() + " " + account.IBAN)
	t.AppendHeader(table.Row{"Type", "Amount", "Currency", "Date"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	for _, b := range balances {
		date := b.ReferenceDate
		if !b.LastChange.IsZero() {
			date = b.LastChange.Format(dateLayout)
		}
		t.AppendRow(table.Row{BalanceLabel(b.Type), b.Amount.StringFixed(2), b.Currency, date})
	}
	t.Render()
}

// Transactions renders the transactions of one account.
func Transactions(w io.Writer, account model.Account, txns []model.Transaction) {
	t := newTable(w)
	t.SetTitle(account.DisplayName() + " " + account.IBAN)
	t.AppendHeader(table.Row{"Date", "Amount", "Currency", "Description", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 4, WidthMax: 60},
	})
	for _, tx := range txns {
		date := ""
		if !tx.BookingDate.IsZero() {
			date = tx.BookingDate.Format(dateLayout)
		}
		t.AppendRow(table.Row{date, tx.Amount.StringFixed(2), tx.Currency, tx.Description, string(tx.Status)})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(txns)})
	t.Render()
}

// BalanceLabel turns an API balance type such as "interimAvailable" into
// "Interim Available".
func BalanceLabel(balanceType string) string {
	var b strings.Builder
	for i, r := range balanceType {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return titleCase.String(b.String())
}
