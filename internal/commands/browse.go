package commands

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/bankfeed/internal/aggregator"
	"github.com/ledgerline/bankfeed/internal/console"
	"github.com/ledgerline/bankfeed/internal/model"
)

func newBrowseBanksCommand(g *globalOptions) *cobra.Command {
	var country string

	cmd := &cobra.Command{
		Use:   "browse-banks",
		Short: "Browse banks, connect one and explore its accounts",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.newEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()
			if country == "" {
				country = e.cfg.Browse.Country
			}
			return runBrowseBanks(cmd.Context(), e, strings.ToUpper(country))
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "ISO country code of the banks to list (default from config)")

	return cmd
}

func runBrowseBanks(ctx context.Context, e *env, country string) error {
	e.out.Info("Ready to interact with the bank data API")

	insts, err := e.listInstitutions(ctx, country)
	if err != nil {
		return err
	}
	e.out.Info("Retrieved %d %s banks", len(insts), country)

	for {
		inst, ok, err := e.selectInstitution(ctx, insts)
		if err == nil && ok {
			err = e.browseBank(ctx, inst.ID)
		}
		switch {
		case errors.Is(err, console.ErrAborted) || (err == nil && !ok):
			e.out.Info("Thank you for using bankfeed")
			return nil
		case err != nil && fatal(ctx, err):
			return err
		case err != nil:
			e.out.Failure(err)
		}
	}
}

func (e *env) listInstitutions(ctx context.Context, country string) ([]model.Institution, error) {
	var insts []model.Institution
	err := e.tokens.Do(ctx, func(c *aggregator.Client) error {
		var err error
		insts, err = c.ListInstitutions(ctx, country)
		return err
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(insts, func(a, b model.Institution) int {
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return insts, nil
}

var bankMenu = []string{
	"List all banks",
	"Search by name",
	"Filter by country",
	"Enter bank ID directly",
	"Exit",
}

// selectInstitution runs the bank selection menu. ok is false when the
// operator exits.
func (e *env) selectInstitution(ctx context.Context, insts []model.Institution) (model.Institution, bool, error) {
	for {
		choice, err := e.prompt.Choose("Bank selection", bankMenu)
		if err != nil {
			return model.Institution{}, false, err
		}

		var shown []model.Institution
		switch choice {
		case 1:
			shown = insts
		case 2:
			term, err := e.prompt.Ask("Enter bank name or part of it")
			if err != nil {
				return model.Institution{}, false, err
			}
			shown = searchInstitutions(insts, term)
		case 3:
			code, err := e.prompt.Ask("Enter country code (e.g. IT for Italy)")
			if err != nil {
				return model.Institution{}, false, err
			}
			if shown, err = e.listInstitutions(ctx, strings.ToUpper(code)); err != nil {
				return model.Institution{}, false, err
			}
		case 4:
			bankID, err := e.prompt.Ask("Enter the bank ID")
			if err != nil {
				return model.Institution{}, false, err
			}
			if inst, ok := findInstitution(insts, bankID); ok {
				return inst, true, nil
			}
			e.out.Warn("Bank ID %q not found", bankID)
			continue
		default:
			return model.Institution{}, false, nil
		}

		if err := e.prompt.Page(shown, e.cfg.Browse.PageSize); err != nil {
			return model.Institution{}, false, err
		}
		if len(shown) == 0 {
			continue
		}
		inst, ok, err := e.prompt.SelectInstitution(shown)
		if err != nil || ok {
			return inst, ok, err
		}
	}
}

var accountMenu = []string{
	"Check balance",
	"Show transactions",
	"Choose a different account",
	"Exit",
}

// browseBank connects to one bank and runs the account menu until the
// operator goes back.
func (e *env) browseBank(ctx context.Context, institutionID string) error {
	b, err := e.openBank(ctx, institutionID)
	if err != nil {
		return err
	}

	for {
		account, ok, err := e.prompt.SelectAccount(b.accounts)
		if err != nil || !ok {
			return err
		}

	actions:
		for {
			choice, err := e.prompt.Choose(account.DisplayName()+" options", accountMenu)
			if err != nil {
				return err
			}
			switch choice {
			case 1:
				err = e.showBalances(ctx, account)
			case 2:
				err = e.showTransactions(ctx, account, time.Time{}, time.Time{})
			case 3:
				break actions
			default:
				return console.ErrAborted
			}
			if err != nil {
				if fatal(ctx, err) {
					return err
				}
				e.out.Failure(err)
			}
		}
	}
}

func searchInstitutions(insts []model.Institution, term string) []model.Institution {
	term = strings.ToLower(strings.TrimSpace(term))
	var out []model.Institution
	for _, inst := range insts {
		if strings.Contains(strings.ToLower(inst.Name), term) {
			out = append(out, inst)
		}
	}
	return out
}

func findInstitution(insts []model.Institution, id string) (model.Institution, bool) {
	for _, inst := range insts {
		if strings.EqualFold(inst.ID, id) {
			return inst, true
		}
	}
	return model.Institution{}, false
}
