package model

// RequisitionStatus is the normalized consent state of a requisition.
type RequisitionStatus string

const (
	RequisitionCreated RequisitionStatus = "CREATED"
	RequisitionLinked  RequisitionStatus = "LINKED"
	RequisitionExpired RequisitionStatus = "EXPIRED"
	RequisitionUnknown RequisitionStatus = "UNKNOWN"
)

// ParseRequisitionStatus maps the aggregator's status codes onto
// RequisitionStatus. Both the short codes ("LN") and long names ("LINKED")
// are accepted.
func ParseRequisitionStatus(code string) RequisitionStatus {
	switch code {
	case "LN", "LINKED":
		return RequisitionLinked
	case "CR", "CREATED", "GC", "GIVING_CONSENT", "UA", "UNDERGOING_AUTHENTICATION",
		"SA", "SELECTING_ACCOUNTS", "GA", "GRANTING_ACCESS":
		return RequisitionCreated
	case "EX", "EXPIRED", "RJ", "REJECTED", "SU", "SUSPENDED":
		return RequisitionExpired
	}
	return RequisitionUnknown
}

// Requisition is one institution's consent record.
type Requisition struct {
	InstitutionID string
	ID            string
	Status        RequisitionStatus
	AccountIDs    []string // populated only when Status is LINKED
	Link          string
	Reference     string
}

// Usable reports whether the requisition grants access to at least one account.
func (r Requisition) Usable() bool {
	return r.Status == RequisitionLinked && len(r.AccountIDs) > 0
}

// ConsentRequest holds the parameters for starting a new consent session.
type ConsentRequest struct {
	InstitutionID      string
	RedirectURL        string
	Reference          string
	UserLanguage       string
	MaxHistoricalDays  int
	AccessValidForDays int
}

// ConsentSession is a started consent flow the user must complete in a browser.
type ConsentSession struct {
	InstitutionID string
	RequisitionID string
	AgreementID   string
	Link          string
}
