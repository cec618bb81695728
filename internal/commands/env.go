package commands

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ledgerline/bankfeed/internal/activitylog"
	"github.com/ledgerline/bankfeed/internal/aggregator"
	"github.com/ledgerline/bankfeed/internal/config"
	"github.com/ledgerline/bankfeed/internal/console"
	"github.com/ledgerline/bankfeed/internal/credstore"
	"github.com/ledgerline/bankfeed/internal/requisition"
	"github.com/ledgerline/bankfeed/internal/token"
)

// env is everything a command talking to the aggregator needs. It lives for
// one invocation.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	out      *console.Printer
	prompt   *console.Prompter
	store    *credstore.Store
	recorder *activitylog.Recorder
	tokens   *token.Manager
	reqs     *requisition.Cache
}

// newEnv loads the config and wires the credential store, token manager and
// requisition cache. interactive enables the consent prompt.
func (g *globalOptions) newEnv(cmd *cobra.Command, interactive bool) (*env, error) {
	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageError{err}
	}

	dir := filepath.Dir(g.configPath)
	store := credstore.New(resolvePath(dir, cfg.Credentials.Path))
	recorder := activitylog.NewRecorder(resolvePath(dir, cfg.ActivityLog.Path))

	base, err := aggregator.New(cfg.API.BaseURL,
		aggregator.WithTimeout(cfg.API.Timeout),
		aggregator.WithRetry(cfg.API.MaxRetries, cfg.API.RetryWaitMin, cfg.API.RetryWaitMax),
		aggregator.WithRateLimit(cfg.API.RequestsPerSecond),
		aggregator.WithLogger(g.logger.Named("api")),
	)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:      cfg,
		logger:   g.logger,
		out:      console.NewPrinter(cmd.OutOrStdout()),
		prompt:   console.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
		store:    store,
		recorder: recorder,
	}
	e.tokens = token.NewManager(base, store,
		token.WithLogger(g.logger.Named("token")),
		token.WithRecorder(recorder),
	)

	var prompter requisition.Prompter
	if interactive {
		prompter = e.prompt
	}
	e.reqs = requisition.New(store, prompter, requisition.ConsentOptions{
		RedirectURL:        cfg.Consent.RedirectURL,
		UserLanguage:       cfg.Consent.UserLanguage,
		MaxHistoricalDays:  cfg.Consent.MaxHistoricalDays,
		AccessValidForDays: cfg.Consent.AccessValidForDays,
	},
		requisition.WithLogger(g.logger.Named("requisition")),
		requisition.WithRecorder(recorder),
	)
	return e, nil
}

// close flushes the activity log. A failed flush never fails the command.
func (e *env) close() {
	if err := e.recorder.Flush(); err != nil {
		e.logger.Warn("activity log not written", zap.Error(err))
	}
	_ = e.logger.Sync()
}

// requisitionRunner takes each requisition step through the token manager.
func (e *env) requisitionRunner() requisition.Runner {
	return func(ctx context.Context, fn func(requisition.Remote) error) error {
		return e.tokens.Do(ctx, func(c *aggregator.Client) error { return fn(c) })
	}
}

// resolvePath resolves p against dir unless it is absolute.
func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
