package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ledgerline/bankfeed/internal/activitylog"
	"github.com/ledgerline/bankfeed/internal/apperr"
	"github.com/ledgerline/bankfeed/internal/credstore"
	"github.com/ledgerline/bankfeed/internal/model"
)

func newTokenCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API access tokens",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "generate",
			Short: "Issue a new token pair from the stored secrets",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := g.newEnv(cmd, false)
				if err != nil {
					return err
				}
				defer e.close()
				c, err := e.tokens.Generate(cmd.Context())
				if err != nil {
					return err
				}
				e.out.Success("Generated new access token %s", model.Mask(c.AccessToken()))
				e.out.Info("Saved to %s", e.store.Path())
				return nil
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Exchange the stored refresh token for a new access token",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := g.newEnv(cmd, false)
				if err != nil {
					return err
				}
				defer e.close()
				c, err := e.tokens.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				e.out.Success("Refreshed access token %s", model.Mask(c.AccessToken()))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which credentials are stored, without contacting the API",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := g.newEnv(cmd, false)
				if err != nil {
					return err
				}
				defer e.close()
				return runTokenStatus(e)
			},
		},
	)

	return cmd
}

const recentTokenEntries = 5

func runTokenStatus(e *env) error {
	creds, err := e.store.Load()
	if err != nil {
		return err
	}
	reqs, err := e.store.Requisitions()
	if err != nil {
		return err
	}

	e.out.Info("Credential file: %s", e.store.Path())
	e.out.Info("%s: %s", credstore.KeySecretID, model.Mask(creds.SecretID))
	e.out.Info("%s: %s", credstore.KeySecretKey, model.Mask(creds.SecretKey))
	e.out.Info("%s: %s", credstore.KeyAccessToken, model.Mask(creds.AccessToken))
	e.out.Info("%s: %s", credstore.KeyRefreshToken, model.Mask(creds.RefreshToken))
	e.out.Info("Connected banks: %d", len(reqs))

	recent, err := activitylog.Recent(e.recorder.Path(), "token", recentTokenEntries)
	if err != nil {
		e.logger.Warn("activity log unreadable", zap.Error(err))
	}
	if len(recent) > 0 {
		e.out.Info("Recent token activity:")
		for _, r := range recent {
			e.out.Info("  %s  %-8s %s", r.Timestamp.Local().Format("2006-01-02 15:04"), r.Action, r.Subject)
		}
	}

	if !creds.HasSecrets() {
		return apperr.Newf(apperr.MissingCredentials, "token status", "secret id or secret key missing from %s", e.store.Path())
	}
	return nil
}
