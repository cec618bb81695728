package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ledgerline/bankfeed/internal/apperr"
	"github.com/ledgerline/bankfeed/internal/buildinfo"
	"github.com/ledgerline/bankfeed/internal/config"
)

// globalOptions holds the persistent flags and what PersistentPreRunE builds
// from them.
type globalOptions struct {
	configPath string
	verbose    bool

	logger *zap.Logger
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	g := &globalOptions{logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:     "bankfeed",
		Short:   "Pull balances and transactions from your banks",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(g.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, g.verbose)
			if err != nil {
				return err
			}
			g.logger = logger
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", config.DefaultPath, "path to bankfeed.yaml")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log debug diagnostics to stderr")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(
		newInitCommand(),
		newTokenCommand(g),
		newBrowseBanksCommand(g),
		newCheckBalancesCommand(g),
		newCheckTransactionsCommand(g),
		newListBanksCommand(g),
		newFindBankIDCommand(g),
		newDownloadAllTransactionsCommand(g),
		newConvertTransactionsCommand(g),
	)

	return rootCmd
}

// newLogger builds the stderr diagnostics logger. Stdout stays reserved for
// tables and messages.
func newLogger(w io.Writer, level string, verbose bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.EncodeCaller = nil
	encCfg.CallerKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(zapcore.AddSync(w)), lvl)
	return zap.New(core), nil
}

// usageError marks a bad invocation so it exits with apperr.ExitUsage.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// usageArgs wraps an argument validator so its failures count as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// ExitCode maps an error returned by the root command to the process exit code.
func ExitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return apperr.ExitUsage
	}
	if err != nil {
		msg := err.Error()
		if strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "required flag") {
			return apperr.ExitUsage
		}
	}
	return apperr.ExitCode(err)
}
