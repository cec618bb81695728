package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/bankfeed/internal/model"
)

func newCheckBalancesCommand(g *globalOptions) *cobra.Command {
	var bankID string

	cmd := &cobra.Command{
		Use:   "check-balances",
		Short: "Show the balances of every account at a bank",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.newEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()
			return runCheckBalances(cmd.Context(), e, bankID)
		},
	}

	cmd.Flags().StringVar(&bankID, "bank-id", "", "institution id of the bank (required)")
	_ = cmd.MarkFlagRequired("bank-id")

	return cmd
}

func runCheckBalances(ctx context.Context, e *env, bankID string) error {
	b, err := e.openBank(ctx, bankID)
	if err != nil {
		return err
	}
	return e.eachAccount(ctx, b, func(a model.Account) error {
		return e.showBalances(ctx, a)
	})
}

func newCheckTransactionsCommand(g *globalOptions) *cobra.Command {
	var bankID string
	var dates dateRange

	cmd := &cobra.Command{
		Use:   "check-transactions",
		Short: "Show the transactions of every account at a bank",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := dates.parse()
			if err != nil {
				return err
			}
			e, err := g.newEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()
			return runCheckTransactions(cmd.Context(), e, bankID, from, to)
		},
	}

	cmd.Flags().StringVar(&bankID, "bank-id", "", "institution id of the bank (required)")
	_ = cmd.MarkFlagRequired("bank-id")
	dates.register(cmd)

	return cmd
}

func runCheckTransactions(ctx context.Context, e *env, bankID string, from, to time.Time) error {
	b, err := e.openBank(ctx, bankID)
	if err != nil {
		return err
	}
	return e.eachAccount(ctx, b, func(a model.Account) error {
		return e.showTransactions(ctx, a, from, to)
	})
}

const flagDateLayout = "2006-01-02"

// dateRange holds the --date-from and --date-to flags.
type dateRange struct {
	from string
	to   string
}

func (d *dateRange) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.from, "date-from", "", "first booking date to fetch (YYYY-MM-DD)")
	cmd.Flags().StringVar(&d.to, "date-to", "", "last booking date to fetch (YYYY-MM-DD)")
}

// parse returns the range. Unset ends are zero.
func (d *dateRange) parse() (from, to time.Time, err error) {
	if d.from != "" {
		if from, err = time.Parse(flagDateLayout, d.from); err != nil {
			return from, to, usageError{fmt.Errorf("--date-from: %w", err)}
		}
	}
	if d.to != "" {
		if to, err = time.Parse(flagDateLayout, d.to); err != nil {
			return from, to, usageError{fmt.Errorf("--date-to: %w", err)}
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, usageError{fmt.Errorf("--date-to %s is before --date-from %s", d.to, d.from)}
	}
	return from, to, nil
}
