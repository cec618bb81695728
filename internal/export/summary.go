package export

import (
	"time"

	"github.com/ledgerline/bankfeed/internal/model"
)

// Summary describes an export file.
type Summary struct {
	Transactions int
	Banks        int
	Accounts     int
	First        time.Time // zero when no row has a date
	Last         time.Time
}

// Summarize computes the Summary of rows.
func Summarize(rows []model.BankTransaction) Summary {
	s := Summary{Transactions: len(rows)}
	banks := map[string]struct{}{}
	accounts := map[string]struct{}{}
	for _, r := range rows {
		banks[r.BankName] = struct{}{}
		accounts[r.AccountIBAN] = struct{}{}
		if r.Date.IsZero() {
			continue
		}
		if s.First.IsZero() || r.Date.Before(s.First) {
			s.First = r.Date
		}
		if r.Date.After(s.Last) {
			s.Last = r.Date
		}
	}
	s.Banks = len(banks)
	s.Accounts = len(accounts)
	return s
}
