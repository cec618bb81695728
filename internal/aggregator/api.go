package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/bankfeed/internal/apperr"
	"github.com/ledgerline/bankfeed/internal/model"
)

var accessScope = []string{"balances", "details", "transactions"}

// GenerateToken exchanges the user secrets for a new token pair.
func (c *Client) GenerateToken(ctx context.Context, secretID, secretKey string) (model.TokenPair, error) {
	const op = "generate token"
	var resp tokenResponse
	if err := c.call(ctx, op, http.MethodPost, "token/new/", nil, tokenRequest{SecretID: secretID, SecretKey: secretKey}, &resp, false); err != nil {
		return model.TokenPair{}, err
	}
	if resp.Access == "" {
		return model.TokenPair{}, apperr.Newf(apperr.Malformed, op, "response carries no access token")
	}
	return resp.pair(), nil
}

// RefreshToken exchanges a refresh token for a new access token. The returned
// pair's RefreshToken is empty when the API did not rotate it.
func (c *Client) RefreshToken(ctx context.Context, refresh string) (model.TokenPair, error) {
	const op = "refresh token"
	var resp tokenResponse
	if err := c.call(ctx, op, http.MethodPost, "token/refresh/", nil, refreshRequest{Refresh: refresh}, &resp, false); err != nil {
		return model.TokenPair{}, err
	}
	if resp.Access == "" {
		return model.TokenPair{}, apperr.Newf(apperr.Malformed, op, "response carries no access token")
	}
	return resp.pair(), nil
}

func (r tokenResponse) pair() model.TokenPair {
	return model.TokenPair{
		AccessToken:      r.Access,
		AccessExpiresIn:  r.AccessExpires,
		RefreshToken:     r.Refresh,
		RefreshExpiresIn: r.RefreshExpires,
	}
}

// ListInstitutions returns the institutions available in country. An empty
// country lists every institution.
func (c *Client) ListInstitutions(ctx context.Context, country string) ([]model.Institution, error) {
	q := url.Values{}
	if country != "" {
		q.Set("country", strings.ToUpper(country))
	}
	var resp []institution
	if err := c.call(ctx, "list institutions", http.MethodGet, "institutions/", q, nil, &resp, true); err != nil {
		return nil, err
	}
	out := make([]model.Institution, 0, len(resp))
	for _, i := range resp {
		out = append(out, i.model())
	}
	return out, nil
}

// GetInstitution returns one institution by id.
func (c *Client) GetInstitution(ctx context.Context, id string) (model.Institution, error) {
	var resp institution
	if err := c.call(ctx, "get institution", http.MethodGet, "institutions/"+url.PathEscape(id)+"/", nil, nil, &resp, true); err != nil {
		return model.Institution{}, err
	}
	return resp.model(), nil
}

// InitiateConsent creates an end-user agreement and a requisition for it.
// The returned session's Link is where the user grants access.
func (c *Client) InitiateConsent(ctx context.Context, req model.ConsentRequest) (model.ConsentSession, error) {
	var agr agreement
	err := c.call(ctx, "create agreement", http.MethodPost, "agreements/enduser/", nil, agreementRequest{
		InstitutionID:      req.InstitutionID,
		MaxHistoricalDays:  req.MaxHistoricalDays,
		AccessValidForDays: req.AccessValidForDays,
		AccessScope:        accessScope,
	}, &agr, true)
	if err != nil {
		return model.ConsentSession{}, err
	}

	const op = "create requisition"
	var rq requisition
	err = c.call(ctx, op, http.MethodPost, "requisitions/", nil, requisitionRequest{
		Redirect:      req.RedirectURL,
		InstitutionID: req.InstitutionID,
		Reference:     req.Reference,
		Agreement:     agr.ID,
		UserLanguage:  req.UserLanguage,
	}, &rq, true)
	if err != nil {
		return model.ConsentSession{}, err
	}
	if rq.ID == "" || rq.Link == "" {
		return model.ConsentSession{}, apperr.Newf(apperr.Malformed, op, "response carries no requisition id or link")
	}

	return model.ConsentSession{
		InstitutionID: req.InstitutionID,
		RequisitionID: rq.ID,
		AgreementID:   agr.ID,
		Link:          rq.Link,
	}, nil
}

// GetRequisition returns the current state of a requisition.
func (c *Client) GetRequisition(ctx context.Context, id string) (model.Requisition, error) {
	var resp requisition
	if err := c.call(ctx, "get requisition", http.MethodGet, "requisitions/"+url.PathEscape(id)+"/", nil, nil, &resp, true); err != nil {
		return model.Requisition{}, err
	}
	if resp.ID == "" {
		resp.ID = id
	}
	return resp.model(), nil
}

// ListRequisitions returns up to limit requisitions of the user. It is also
// the cheapest authenticated call and serves as the token probe.
func (c *Client) ListRequisitions(ctx context.Context, limit int) ([]model.Requisition, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp requisitionPage
	if err := c.call(ctx, "list requisitions", http.MethodGet, "requisitions/", q, nil, &resp, true); err != nil {
		return nil, err
	}
	out := make([]model.Requisition, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, r.model())
	}
	return out, nil
}

// ListAccounts returns the account ids a requisition grants access to. Only
// linked requisitions carry accounts.
func (c *Client) ListAccounts(ctx context.Context, requisitionID string) ([]string, error) {
	r, err := c.GetRequisition(ctx, requisitionID)
	if err != nil {
		return nil, err
	}
	return r.AccountIDs, nil
}

// GetAccountDetails returns the details of one account.
func (c *Client) GetAccountDetails(ctx context.Context, accountID string) (model.Account, error) {
	var resp accountDetails
	if err := c.call(ctx, "get account details", http.MethodGet, accountPath(accountID, "details"), nil, nil, &resp, true); err != nil {
		return model.Account{}, err
	}
	a := resp.Account
	id := a.ResourceID
	if id == "" {
		id = accountID
	}
	return model.Account{
		ID:        id,
		IBAN:      a.IBAN,
		Currency:  a.Currency,
		OwnerName: a.OwnerName,
		Name:      a.Name,
		Product:   a.Product,
	}, nil
}

// GetBalances returns every balance figure reported for an account.
func (c *Client) GetBalances(ctx context.Context, accountID string) ([]model.Balance, error) {
	const op = "get balances"
	var resp balances
	if err := c.call(ctx, op, http.MethodGet, accountPath(accountID, "balances"), nil, nil, &resp, true); err != nil {
		return nil, err
	}
	out := make([]model.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		amt, err := decimal.NewFromString(b.BalanceAmount.Amount)
		if err != nil {
			return nil, apperr.New(apperr.Malformed, op, fmt.Errorf("balance amount %q: %w", b.BalanceAmount.Amount, err))
		}
		bal := model.Balance{
			Type:          b.BalanceType,
			Amount:        amt,
			Currency:      b.BalanceAmount.Currency,
			ReferenceDate: b.ReferenceDate,
		}
		if t, err := time.Parse(time.RFC3339, b.LastChangeDateTime); err == nil {
			bal.LastChange = t
		}
		out = append(out, bal)
	}
	return out, nil
}

// GetTransactions returns the booked then pending transactions of an account.
// Zero from or to leaves that end of the range to the API default.
func (c *Client) GetTransactions(ctx context.Context, accountID string, from, to time.Time) ([]model.Transaction, error) {
	const op = "get transactions"
	q := url.Values{}
	if !from.IsZero() {
		q.Set("date_from", from.Format(dateLayout))
	}
	if !to.IsZero() {
		q.Set("date_to", to.Format(dateLayout))
	}
	var resp transactions
	if err := c.call(ctx, op, http.MethodGet, accountPath(accountID, "transactions"), q, nil, &resp, true); err != nil {
		return nil, err
	}
	if resp.Transactions == nil {
		return nil, apperr.Newf(apperr.Malformed, op, "response carries no transactions object")
	}

	out := make([]model.Transaction, 0, len(resp.Transactions.Booked)+len(resp.Transactions.Pending))
	add := func(rows []transaction, status model.BookingStatus) error {
		for _, row := range rows {
			t, err := row.model(status)
			if err != nil {
				return apperr.New(apperr.Malformed, op, fmt.Errorf("transaction %q amount: %w", row.TransactionID, err))
			}
			out = append(out, t)
		}
		return nil
	}
	if err := add(resp.Transactions.Booked, model.Booked); err != nil {
		return nil, err
	}
	if err := add(resp.Transactions.Pending, model.Pending); err != nil {
		return nil, err
	}
	return out, nil
}

func accountPath(accountID, resource string) string {
	return "accounts/" + url.PathEscape(accountID) + "/" + resource + "/"
}
