package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/bankfeed/internal/config"
	"github.com/ledgerline/bankfeed/internal/console"
	"github.com/ledgerline/bankfeed/internal/convert"
	"github.com/ledgerline/bankfeed/internal/export"
	"github.com/ledgerline/bankfeed/internal/importer"
)

func newConvertTransactionsCommand(g *globalOptions) *cobra.Command {
	var output, format, locale string

	cmd := &cobra.Command{
		Use:   "convert-transactions INPUT",
		Short: "Convert an exported transactions file to the spreadsheet layout",
		Long: "Convert an exported transactions file, or every export in a directory, to the\n" +
			"date, month, description, credit, debit, category, account layout.",
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(g.configPath)
			if err != nil {
				return err
			}
			if locale == "" {
				locale = cfg.Export.Locale
			}
			return runConvertTransactions(console.NewPrinter(cmd.OutOrStdout()), args[0], output, format, locale, time.Now())
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "output CSV file (default <input>_converted_<timestamp>.csv)")
	cmd.Flags().StringVar(&format, "format", "bankfeed", "input format")
	cmd.Flags().StringVar(&locale, "locale", "", "language of the layout, it or en (default from config)")

	return cmd
}

func runConvertTransactions(out *console.Printer, input, output, format, locale string, now time.Time) error {
	registry := importer.DefaultRegistry()
	parser := registry.Get(format)
	if parser == nil {
		return usageError{fmt.Errorf("unknown format %q (available: %s)", format, strings.Join(registry.Formats(), ", "))}
	}
	conv, err := convert.New(locale)
	if err != nil {
		return usageError{err}
	}

	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	if !info.IsDir() {
		if output == "" {
			output = convert.OutputPath(input, now)
		}
		return convertFile(out, parser, conv, input, output)
	}

	if output != "" {
		return usageError{fmt.Errorf("--output cannot be used with a directory input")}
	}
	files, err := importer.Scan(input, convert.OutputSuffix+"_")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		out.Warn("No CSV files to convert in %s", input)
		return nil
	}
	failed := 0
	for _, f := range files {
		if err := convertFile(out, parser, conv, f.Path, convert.OutputPath(f.Path, now)); err != nil {
			out.Failure(err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be converted", failed, len(files))
	}
	return nil
}

func convertFile(out *console.Printer, parser importer.Parser, conv *convert.Converter, input, output string) error {
	txns, err := importer.ParseFile(parser, input)
	if err != nil {
		return err
	}
	if err := conv.WriteFile(output, txns); err != nil {
		return err
	}

	sum := export.Summarize(txns)
	out.Success("Converted %s to %s", input, output)
	out.Info("Total transactions: %d", sum.Transactions)
	if !sum.First.IsZero() {
		out.Info("Date range: %s to %s", sum.First.Format(flagDateLayout), sum.Last.Format(flagDateLayout))
	}
	out.Info("Total accounts: %d", sum.Accounts)
	return nil
}
