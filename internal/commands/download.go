package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/bankfeed/internal/aggregator"
	"github.com/ledgerline/bankfeed/internal/export"
	"github.com/ledgerline/bankfeed/internal/id"
)

func newDownloadAllTransactionsCommand(g *globalOptions) *cobra.Command {
	var output string
	var dates dateRange

	cmd := &cobra.Command{
		Use:   "download-all-transactions",
		Short: "Export the transactions of every connected bank to a dated CSV file",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := dates.parse()
			if err != nil {
				return err
			}
			e, err := g.newEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.close()
			if output == "" {
				output = e.cfg.Export.Output
			}
			return runDownloadAllTransactions(cmd.Context(), e, output, from, to, time.Now())
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "output CSV file name, a timestamp is appended (default from config)")
	dates.register(cmd)

	return cmd
}

func runDownloadAllTransactions(ctx context.Context, e *env, output string, from, to, now time.Time) error {
	e.out.Info("Fetching transactions from all connected banks...")

	collector := export.NewCollector(func(ctx context.Context, fn func(export.Remote) error) error {
		return e.tokens.Do(ctx, func(c *aggregator.Client) error { return fn(c) })
	}, e.reqs, e.logger.Named("export"))

	res, err := collector.Collect(ctx, from, to)
	if err != nil {
		return err
	}
	if res.Connected == 0 {
		e.out.Info("No connected banks found. Use 'bankfeed browse-banks' to connect one.")
		return nil
	}
	for _, inst := range res.Evicted {
		e.out.Warn("Authorization for %s has expired. Reconnect it with 'bankfeed check-transactions --bank-id %s'.", inst, inst)
	}
	for _, f := range res.Failures {
		e.out.Warn("Skipped %s", f)
	}
	if len(res.Rows) == 0 {
		if len(res.Failures) > 0 {
			return fmt.Errorf("no transactions exported: %w", res.Failures[0].Err)
		}
		e.out.Warn("No transactions found.")
		return nil
	}

	path := id.DatedPath(output, "", now)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := export.WriteFile(path, res.Rows); err != nil {
		return err
	}

	sum := export.Summarize(res.Rows)
	e.recorder.Record("export", "download", path, fmt.Sprintf("%d transactions, %d banks", sum.Transactions, sum.Banks))
	e.out.Success("Saved %d transactions to %s", sum.Transactions, path)
	e.out.Info("Total banks: %d", sum.Banks)
	e.out.Info("Total accounts: %d", sum.Accounts)
	if !sum.First.IsZero() {
		e.out.Info("Date range: %s to %s", sum.First.Format(flagDateLayout), sum.Last.Format(flagDateLayout))
	}
	return nil
}
