package commands

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerline/bankfeed/internal/aggregator"
	"github.com/ledgerline/bankfeed/internal/console"
	"github.com/ledgerline/bankfeed/internal/model"
	"github.com/ledgerline/bankfeed/internal/requisition"
)

func newListBanksCommand(g *globalOptions) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "list-banks",
		Short: "List the banks you have connected",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.newEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.close()
			return runListBanks(cmd.Context(), e, verify)
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "ask the API whether each authorization is still valid")

	return cmd
}

func runListBanks(ctx context.Context, e *env, verify bool) error {
	insts, err := e.reqs.Connected()
	if err != nil {
		return err
	}
	if len(insts) == 0 {
		e.out.Info("No connected banks found. Use 'bankfeed browse-banks' to connect one.")
		return nil
	}

	rows := make([]console.ConnectedBank, 0, len(insts))
	for _, inst := range insts {
		rec, _, err := e.reqs.Lookup(inst)
		if err != nil {
			return err
		}
		rows = append(rows, console.ConnectedBank{InstitutionID: inst, RequisitionID: rec.ID, Status: "not checked"})
	}

	if verify {
		err := e.tokens.Do(ctx, func(c *aggregator.Client) error {
			return e.verifyConnected(ctx, c, rows)
		})
		if err != nil {
			return err
		}
	}

	console.Connected(e.out.Writer(), rows)
	return nil
}

// verifyConnected fills in the bank name and live status of each row. Stale
// records are reported, not evicted.
func (e *env) verifyConnected(ctx context.Context, c *aggregator.Client, rows []console.ConnectedBank) error {
	for i := range rows {
		r := &rows[i]
		if inst, err := c.GetInstitution(ctx, r.InstitutionID); err == nil {
			r.Name = inst.Name
		} else if fatal(ctx, err) {
			return err
		}

		cur, v, err := e.reqs.Validate(ctx, c, model.Requisition{InstitutionID: r.InstitutionID, ID: r.RequisitionID})
		if err != nil {
			return err
		}
		r.Status = string(cur.Status)
		if v == requisition.Invalid {
			r.Status += " (reconnect)"
		}
	}
	return nil
}

func newFindBankIDCommand(g *globalOptions) *cobra.Command {
	var search, country string

	cmd := &cobra.Command{
		Use:   "find-bank-id",
		Short: "Find a bank ID by name or part of it",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.newEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.close()
			if country == "" {
				country = e.cfg.Browse.Country
			}
			return runFindBankID(cmd.Context(), e, search, strings.ToUpper(country))
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "bank name or part of it (empty lists every bank)")
	cmd.Flags().StringVar(&country, "country", "", "ISO country code (default from config)")

	return cmd
}

func runFindBankID(ctx context.Context, e *env, search, country string) error {
	insts, err := e.listInstitutions(ctx, country)
	if err != nil {
		return err
	}

	var matches []model.Institution
	for _, inst := range searchInstitutions(insts, search) {
		if inst.InCountry(country) {
			matches = append(matches, inst)
		}
	}
	if len(matches) == 0 {
		e.out.Warn("No banks found matching %q in %s", search, country)
		return nil
	}

	console.Institutions(e.out.Writer(), matches, 1)
	e.out.Info("%d matching banks in %s", len(matches), country)
	return nil
}
