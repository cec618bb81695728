package model

import "slices"

// Institution is a bank exposed by the aggregator.
type Institution struct {
	ID                   string
	Name                 string
	BIC                  string
	TransactionTotalDays int
	Countries            []string
	Logo                 string
}

// InCountry reports whether the institution supports the ISO country code.
func (i Institution) InCountry(code string) bool {
	return slices.Contains(i.Countries, code)
}

// PrimaryCountry returns the first supported country, or "".
func (i Institution) PrimaryCountry() string {
	if len(i.Countries) == 0 {
		return ""
	}
	return i.Countries[0]
}
