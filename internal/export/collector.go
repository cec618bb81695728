// Package export gathers transactions of every connected bank into one
// dated CSV file.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerline/bankfeed/internal/apperr"
	"github.com/ledgerline/bankfeed/internal/model"
	"github.com/ledgerline/bankfeed/internal/requisition"
)

// Remote is the part of the aggregator API the collector needs.
type Remote interface {
	requisition.Remote
	GetInstitution(ctx context.Context, id string) (model.Institution, error)
	GetAccountDetails(ctx context.Context, accountID string) (model.Account, error)
	GetTransactions(ctx context.Context, accountID string, from, to time.Time) ([]model.Transaction, error)
}

// Requisitions is the part of the requisition cache the collector needs.
type Requisitions interface {
	Connected() ([]string, error)
	Resolve(ctx context.Context, remote requisition.Remote, institutionID string) (model.Requisition, bool, error)
}

// Runner runs fn with an authenticated API handle. When fn is rejected with
// AuthExpired the runner may recover the token and run fn once more.
type Runner func(ctx context.Context, fn func(Remote) error) error

// Failure is an institution or account that could not be exported.
type Failure struct {
	InstitutionID string
	AccountID     string // empty when the whole institution failed
	Err           error
}

func (f Failure) String() string {
	if f.AccountID == "" {
		return fmt.Sprintf("%s: %v", f.InstitutionID, f.Err)
	}
	return fmt.Sprintf("%s account %s: %v", f.InstitutionID, f.AccountID, f.Err)
}

// Result is the outcome of one collection run.
type Result struct {
	Connected int // cached requisitions found
	Rows      []model.BankTransaction
	Evicted   []string // institutions whose consent went stale
	Failures  []Failure
}

// Collector walks every cached requisition and gathers its transactions.
type Collector struct {
	run    Runner
	reqs   Requisitions
	logger *zap.Logger
}

// NewCollector creates a Collector.
func NewCollector(run Runner, reqs Requisitions, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{run: run, reqs: reqs, logger: logger}
}

// Collect gathers the transactions booked between from and to (zero means
// unbounded) for every connected bank. Failures scoped to one institution or
// account are recorded and the run continues. Each API step goes through the
// runner on its own, so a token recovered mid-run never repeats rows already
// gathered. Credential failures that survive recovery and cancellation abort
// the run.
func (c *Collector) Collect(ctx context.Context, from, to time.Time) (Result, error) {
	var res Result

	insts, err := c.reqs.Connected()
	if err != nil {
		return res, err
	}
	res.Connected = len(insts)
	if len(insts) == 0 {
		return res, nil
	}

	for _, inst := range insts {
		if err := c.collectInstitution(ctx, inst, from, to, &res); err != nil {
			if abort(ctx, err) {
				return res, err
			}
			c.logger.Warn("institution skipped", zap.String("institution", inst), zap.Error(err))
			res.Failures = append(res.Failures, Failure{InstitutionID: inst, Err: err})
		}
	}
	return res, nil
}

func (c *Collector) collectInstitution(ctx context.Context, inst string, from, to time.Time, res *Result) error {
	var (
		rec model.Requisition
		ok  bool
	)
	err := c.run(ctx, func(remote Remote) error {
		var err error
		rec, ok, err = c.reqs.Resolve(ctx, remote, inst)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Info("stale requisition evicted", zap.String("institution", inst))
		res.Evicted = append(res.Evicted, inst)
		return nil
	}

	bankName := inst
	var info model.Institution
	err = c.run(ctx, func(remote Remote) error {
		var err error
		info, err = remote.GetInstitution(ctx, inst)
		return err
	})
	if err == nil && info.Name != "" {
		bankName = info.Name
	} else if err != nil {
		if abort(ctx, err) {
			return err
		}
		c.logger.Debug("institution name unavailable", zap.String("institution", inst), zap.Error(err))
	}

	for _, accountID := range rec.AccountIDs {
		var rows []model.BankTransaction
		err := c.run(ctx, func(remote Remote) error {
			var err error
			rows, err = c.collectAccount(ctx, remote, bankName, accountID, from, to)
			return err
		})
		if err != nil {
			if abort(ctx, err) {
				return err
			}
			c.logger.Warn("account skipped", zap.String("institution", inst), zap.String("account", accountID), zap.Error(err))
			res.Failures = append(res.Failures, Failure{InstitutionID: inst, AccountID: accountID, Err: err})
			continue
		}
		res.Rows = append(res.Rows, rows...)
	}
	return nil
}

func (c *Collector) collectAccount(ctx context.Context, remote Remote, bankName, accountID string, from, to time.Time) ([]model.BankTransaction, error) {
	acct, err := remote.GetAccountDetails(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account details: %w", err)
	}
	txns, err := remote.GetTransactions(ctx, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("transactions: %w", err)
	}

	iban := acct.IBAN
	if iban == "" {
		iban = accountID
	}
	rows := make([]model.BankTransaction, 0, len(txns))
	for _, t := range txns {
		date := t.BookingDate
		if date.IsZero() {
			date = t.ValueDate
		}
		rows = append(rows, model.BankTransaction{
			BankName:    bankName,
			AccountIBAN: iban,
			ID:          t.ID,
			Date:        date,
			Amount:      t.Amount,
			Currency:    t.Currency,
			Description: t.Description,
			Status:      t.Status,
		})
	}
	return rows, nil
}

// abort reports whether err ends the whole run rather than one entity.
func abort(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return apperr.KindOf(err).Fatal()
}
