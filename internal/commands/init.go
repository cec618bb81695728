package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ledgerline/bankfeed/internal/config"
	"github.com/ledgerline/bankfeed/internal/console"
	"github.com/ledgerline/bankfeed/internal/credstore"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a default bankfeed.yaml and a credential file template",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd.OutOrStdout(), absDir)
		},
	}

	return cmd
}

func runInit(w io.Writer, dir string) error {
	out := console.NewPrinter(w)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	// Write bankfeed.yaml unless one exists.
	cfg := config.Default()
	cfgPath := filepath.Join(dir, config.DefaultPath)
	switch _, err := os.Stat(cfgPath); {
	case err == nil:
		out.Info("Keeping existing %s", cfgPath)
	case errors.Is(err, fs.ErrNotExist):
		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}
		out.Success("Wrote %s", cfgPath)
	default:
		return fmt.Errorf("checking config: %w", err)
	}

	// Write the credential file template.
	credPath := filepath.Join(dir, cfg.Credentials.Path)
	created, err := credstore.Init(credPath)
	if err != nil {
		return err
	}
	if !created {
		out.Info("Keeping existing %s", credPath)
		return nil
	}
	out.Success("Wrote %s", credPath)
	out.Info("Add your secret id and key from the GoCardless Bank Account Data portal to %s", credPath)
	return nil
}
