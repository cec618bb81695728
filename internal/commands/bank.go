package commands

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerline/bankfeed/internal/aggregator"
	"github.com/ledgerline/bankfeed/internal/apperr"
	"github.com/ledgerline/bankfeed/internal/console"
	"github.com/ledgerline/bankfeed/internal/model"
)

// bank is one institution with a usable requisition and its account details.
type bank struct {
	inst     model.Institution
	req      model.Requisition
	accounts []model.Account
}

// openBank looks up institutionID, makes sure a usable requisition exists
// (running the consent flow if needed) and fetches the account details. The
// consent flow recovers a rejected token per step, so the user is never
// prompted twice.
func (e *env) openBank(ctx context.Context, institutionID string) (*bank, error) {
	var b bank
	err := e.tokens.Do(ctx, func(c *aggregator.Client) error {
		inst, err := c.GetInstitution(ctx, institutionID)
		if err != nil {
			return fmt.Errorf("looking up bank %s: %w", institutionID, err)
		}
		b.inst = inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.out.Success("Found bank: %s", b.inst.Name)

	if _, ok, err := e.reqs.Lookup(institutionID); err != nil {
		return nil, err
	} else if ok {
		e.out.Info("Found existing authorization, checking it")
	}
	b.req, err = e.reqs.Connect(ctx, e.requisitionRunner(), institutionID)
	if err != nil {
		return nil, err
	}

	err = e.tokens.Do(ctx, func(c *aggregator.Client) error {
		var err error
		b.accounts, err = e.accountDetails(ctx, c, institutionID, b.req.AccountIDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// accountDetails fetches each account. An account that fails is reported and
// skipped.
func (e *env) accountDetails(ctx context.Context, c *aggregator.Client, institutionID string, ids []string) ([]model.Account, error) {
	accounts := make([]model.Account, 0, len(ids))
	for _, accountID := range ids {
		a, err := c.GetAccountDetails(ctx, accountID)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			e.logger.Warn("account skipped", zap.String("account", accountID), zap.Error(err))
			e.out.Warn("Could not read account %s: %v", accountID, err)
			continue
		}
		accounts = append(accounts, a)
	}
	if len(accounts) == 0 {
		return nil, apperr.Newf(apperr.NotFound, "list accounts", "no readable accounts for %s", institutionID)
	}
	return accounts, nil
}

func (e *env) showBalances(ctx context.Context, account model.Account) error {
	var balances []model.Balance
	err := e.tokens.Do(ctx, func(c *aggregator.Client) error {
		var err error
		balances, err = c.GetBalances(ctx, account.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("reading balances of %s: %w", account.DisplayName(), err)
	}
	if len(balances) == 0 {
		e.out.Info("No balance information for %s", account.DisplayName())
		return nil
	}
	console.Balances(e.out.Writer(), account, balances)
	return nil
}

func (e *env) showTransactions(ctx context.Context, account model.Account, from, to time.Time) error {
	var txns []model.Transaction
	err := e.tokens.Do(ctx, func(c *aggregator.Client) error {
		var err error
		txns, err = c.GetTransactions(ctx, account.ID, from, to)
		return err
	})
	if err != nil {
		return fmt.Errorf("reading transactions of %s: %w", account.DisplayName(), err)
	}
	if len(txns) == 0 {
		e.out.Info("No transactions for %s", account.DisplayName())
		return nil
	}
	console.Transactions(e.out.Writer(), account, txns)
	return nil
}

// eachAccount runs fn for every account of b. A failure scoped to one account
// is reported and the loop continues; credential failures stop it.
func (e *env) eachAccount(ctx context.Context, b *bank, fn func(model.Account) error) error {
	for _, a := range b.accounts {
		if err := fn(a); err != nil {
			if fatal(ctx, err) {
				return err
			}
			e.out.Failure(err)
		}
	}
	return nil
}

// fatal reports whether err must stop the whole invocation.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || apperr.KindOf(err).Fatal()
}
