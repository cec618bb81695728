package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/bankfeed/internal/apperr"
	"github.com/ledgerline/bankfeed/internal/credstore"
	"github.com/ledgerline/bankfeed/internal/model"
	"github.com/ledgerline/bankfeed/internal/requisition"
)

type fakeRemote struct {
	requisitions map[string]model.Requisition
	institutions map[string]model.Institution
	accounts     map[string]model.Account
	transactions map[string][]model.Transaction
	errs         map[string]error // keyed by account id or institution id
	txnErrs      map[string]error // keyed by account id
}

func (f *fakeRemote) GetRequisition(_ context.Context, id string) (model.Requisition, error) {
	r, ok := f.requisitions[id]
	if !ok {
		return model.Requisition{}, apperr.Newf(apperr.NotFound, "get requisition", "not found")
	}
	return r, nil
}

func (f *fakeRemote) InitiateConsent(context.Context, model.ConsentRequest) (model.ConsentSession, error) {
	panic("export must never start a consent flow")
}

func (f *fakeRemote) GetInstitution(_ context.Context, id string) (model.Institution, error) {
	i, ok := f.institutions[id]
	if !ok {
		return model.Institution{}, apperr.Newf(apperr.NotFound, "get institution", "not found")
	}
	return i, nil
}

func (f *fakeRemote) GetAccountDetails(_ context.Context, id string) (model.Account, error) {
	if err := f.errs[id]; err != nil {
		return model.Account{}, err
	}
	return f.accounts[id], nil
}

func (f *fakeRemote) GetTransactions(_ context.Context, id string, _, _ time.Time) ([]model.Transaction, error) {
	if err := f.txnErrs[id]; err != nil {
		return nil, err
	}
	return f.transactions[id], nil
}

func newCache(t *testing.T, content string) *requisition.Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return requisition.New(credstore.New(path), nil, requisition.ConsentOptions{})
}

func clientOf(r Remote) Runner {
	return func(_ context.Context, fn func(Remote) error) error { return fn(r) }
}

// renewing hands out handles in order, moving to the next one after a call
// is rejected with AuthExpired and running that call again once.
type renewing struct {
	handles []Remote
	current int
	renewed int
}

func (r *renewing) run(_ context.Context, fn func(Remote) error) error {
	err := fn(r.handles[r.current])
	if !errors.Is(err, apperr.AuthExpired) || r.current+1 >= len(r.handles) {
		return err
	}
	r.current++
	r.renewed++
	return fn(r.handles[r.current])
}

var day = func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func TestCollect_NoConnectedBanks(t *testing.T) {
	called := false
	c := NewCollector(func(context.Context, func(Remote) error) error {
		called = true
		return nil
	}, newCache(t, "GOCARDLESS_SECRET_ID=a\n"), nil)

	res, err := c.Collect(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, res.Connected)
	assert.Empty(t, res.Rows)
	assert.False(t, called, "no token is needed when nothing is connected")
}

func TestCollect_ContinuesPastFailures(t *testing.T) {
	remote := &fakeRemote{
		requisitions: map[string]model.Requisition{
			"req-a": {ID: "req-a", Status: model.RequisitionLinked, AccountIDs: []string{"acc-1", "acc-2"}},
			"req-b": {ID: "req-b", Status: model.RequisitionExpired},
		},
		institutions: map[string]model.Institution{"BANK_A": {ID: "BANK_A", Name: "Banca A"}},
		accounts:     map[string]model.Account{"acc-1": {ID: "acc-1", IBAN: "IT01"}},
		transactions: map[string][]model.Transaction{
			"acc-1": {
				{ID: "t1", BookingDate: day(5), Amount: decimal.RequireFromString("-42.50"), Currency: "EUR", Description: "Spesa", Status: model.Booked},
				{ID: "t2", ValueDate: day(7), Amount: decimal.RequireFromString("3"), Currency: "EUR", Description: "Bar", Status: model.Pending},
			},
		},
		errs: map[string]error{"acc-2": apperr.Newf(apperr.Unavailable, "get account details", "bad gateway")},
	}
	cache := newCache(t, "REQUISITION_ID_BANK_A=req-a\nREQUISITION_ID_BANK_B=req-b\nREQUISITION_ID_BANK_C=req-gone\n")
	c := NewCollector(clientOf(remote), cache, nil)

	res, err := c.Collect(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Connected)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, model.BankTransaction{
		BankName:    "Banca A",
		AccountIBAN: "IT01",
		ID:          "t1",
		Date:        day(5),
		Amount:      decimal.RequireFromString("-42.50"),
		Currency:    "EUR",
		Description: "Spesa",
		Status:      model.Booked,
	}, res.Rows[0])
	assert.Equal(t, day(7), res.Rows[1].Date, "pending rows fall back to the value date")

	assert.Equal(t, []string{"BANK_B", "BANK_C"}, res.Evicted)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "acc-2", res.Failures[0].AccountID)
	assert.ErrorIs(t, res.Failures[0].Err, apperr.Unavailable)

	ids, err := cache.Connected()
	require.NoError(t, err)
	assert.Equal(t, []string{"BANK_A"}, ids)
}

func TestCollect_CredentialFailureAborts(t *testing.T) {
	remote := &fakeRemote{
		requisitions: map[string]model.Requisition{
			"req-a": {ID: "req-a", Status: model.RequisitionLinked, AccountIDs: []string{"acc-1"}},
		},
		errs: map[string]error{"acc-1": apperr.Newf(apperr.AuthExpired, "get account details", "token expired")},
	}
	c := NewCollector(clientOf(remote), newCache(t, "REQUISITION_ID_BANK_A=req-a\n"), nil)

	_, err := c.Collect(context.Background(), time.Time{}, time.Time{})
	assert.ErrorIs(t, err, apperr.AuthExpired)
}

func TestCollect_ExpiredTokenIsRenewedMidRun(t *testing.T) {
	requisitions := map[string]model.Requisition{
		"req-a": {ID: "req-a", Status: model.RequisitionLinked, AccountIDs: []string{"acc-1", "acc-2"}},
	}
	accounts := map[string]model.Account{"acc-1": {ID: "acc-1", IBAN: "IT01"}, "acc-2": {ID: "acc-2", IBAN: "IT02"}}
	transactions := map[string][]model.Transaction{
		"acc-1": {{ID: "t1", BookingDate: day(5), Amount: decimal.RequireFromString("-1"), Currency: "EUR"}},
		"acc-2": {{ID: "t2", BookingDate: day(6), Amount: decimal.RequireFromString("2"), Currency: "EUR"}},
	}
	stale := &fakeRemote{
		requisitions: requisitions,
		accounts:     accounts,
		transactions: transactions,
		txnErrs:      map[string]error{"acc-2": apperr.Newf(apperr.AuthExpired, "get transactions", "token expired")},
	}
	fresh := &fakeRemote{requisitions: requisitions, accounts: accounts, transactions: transactions}
	r := &renewing{handles: []Remote{stale, fresh}}
	c := NewCollector(r.run, newCache(t, "REQUISITION_ID_BANK_A=req-a\n"), nil)

	res, err := c.Collect(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, r.renewed)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Rows, 2, "rows gathered before the renewal are not repeated")
	assert.Equal(t, "t1", res.Rows[0].ID)
	assert.Equal(t, "t2", res.Rows[1].ID)
}

func TestCollect_ClientFailureAborts(t *testing.T) {
	c := NewCollector(func(context.Context, func(Remote) error) error {
		return apperr.Newf(apperr.MissingCredentials, "generate token", "secrets not set")
	}, newCache(t, "REQUISITION_ID_BANK_A=req-a\n"), nil)

	_, err := c.Collect(context.Background(), time.Time{}, time.Time{})
	assert.ErrorIs(t, err, apperr.MissingCredentials)
}

func TestWriteRows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRows(&buf, []model.BankTransaction{
		{BankName: "Banca A", AccountIBAN: "IT01", ID: "t1", Date: day(5), Amount: decimal.RequireFromString("-42.50"), Currency: "EUR", Description: "Spesa, casa", Status: model.Booked},
		{BankName: "Banca A", AccountIBAN: "IT01", Amount: decimal.RequireFromString("3"), Status: model.Pending},
	}))
	assert.Equal(t, Header+"\n"+
		"Banca A,IT01,t1,2024-01-05,-42.50,EUR,\"Spesa, casa\",booked\n"+
		"Banca A,IT01,,,3.00,,,pending\n", buf.String())
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteFile(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Header+"\n", string(data))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]model.BankTransaction{
		{BankName: "A", AccountIBAN: "IT01", Date: day(9)},
		{BankName: "A", AccountIBAN: "IT02", Date: day(2)},
		{BankName: "B", AccountIBAN: "IT03"},
	})
	assert.Equal(t, Summary{Transactions: 3, Banks: 2, Accounts: 3, First: day(2), Last: day(9)}, s)
}
