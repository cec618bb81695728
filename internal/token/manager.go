// Package token decides whether the persisted access token is usable and
// drives refresh or regeneration when it is not.
//
// Recovery always takes the cheapest path: a missing access token is
// generated, a rejected one is refreshed, and only a failed refresh falls
// back to generation.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ledgerline/bankfeed/internal/activitylog"
	"github.com/ledgerline/bankfeed/internal/aggregator"
	"github.com/ledgerline/bankfeed/internal/apperr"
	"github.com/ledgerline/bankfeed/internal/credstore"
	"github.com/ledgerline/bankfeed/internal/model"
)

const component = "token"

// Issuer exchanges secrets and refresh tokens for access tokens and binds
// access tokens to client handles.
type Issuer interface {
	GenerateToken(ctx context.Context, secretID, secretKey string) (model.TokenPair, error)
	RefreshToken(ctx context.Context, refresh string) (model.TokenPair, error)
	WithAccessToken(token string) *aggregator.Client
}

// Store is the persisted credential state.
type Store interface {
	Load() (model.Credentials, error)
	Save(fields map[string]string) error
}

// Prober makes one cheap authenticated call to confirm a token is accepted.
type Prober func(ctx context.Context, c *aggregator.Client) error

// ProbeRequisitions is the default Prober.
func ProbeRequisitions(ctx context.Context, c *aggregator.Client) error {
	_, err := c.ListRequisitions(ctx, 1)
	return err
}

// Manager hands out client handles bound to a validated access token. The
// validated handle is cached for the life of the Manager, which is one CLI
// invocation.
type Manager struct {
	issuer   Issuer
	store    Store
	probe    Prober
	logger   *zap.Logger
	recorder *activitylog.Recorder

	mu     sync.Mutex
	client *aggregator.Client
}

// Option configures a Manager.
type Option func(*Manager)

// WithProber replaces the default token probe.
func WithProber(p Prober) Option {
	return func(m *Manager) { m.probe = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRecorder records token transitions in the activity log.
func WithRecorder(r *activitylog.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a Manager.
func NewManager(issuer Issuer, store Store, opts ...Option) *Manager {
	m := &Manager{
		issuer: issuer,
		store:  store,
		probe:  ProbeRequisitions,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Client returns a handle whose access token is valid for the next call.
// Repeated calls reuse the validated handle without touching the network.
func (m *Manager) Client(ctx context.Context) (*aggregator.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	creds, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	c, err := m.resolve(ctx, creds)
	if err != nil {
		return nil, err
	}
	m.client = c
	return c, nil
}

// Do runs fn with a validated handle. If fn is rejected with AuthExpired the
// token is recovered once and fn is retried once.
func (m *Manager) Do(ctx context.Context, fn func(*aggregator.Client) error) error {
	c, err := m.Client(ctx)
	if err != nil {
		return err
	}
	err = fn(c)
	if !errors.Is(err, apperr.AuthExpired) {
		return err
	}

	m.logger.Info("access token rejected mid-operation, recovering")
	m.record("reject", model.Mask(c.AccessToken()), "call rejected")

	m.mu.Lock()
	m.client = nil
	creds, lerr := m.store.Load()
	if lerr != nil {
		m.mu.Unlock()
		return fmt.Errorf("loading credentials: %w", lerr)
	}
	c, err = m.recover(ctx, creds)
	if err == nil {
		m.client = c
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(c)
}

// Generate discards any cached handle and issues a new token pair from the
// secrets.
func (m *Manager) Generate(ctx context.Context) (*aggregator.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.client = nil
	creds, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	c, err := m.generate(ctx, creds)
	if err != nil {
		return nil, err
	}
	m.client = c
	return c, nil
}

// Refresh discards any cached handle and exchanges the stored refresh token.
// Unlike Client, a failed refresh is returned rather than followed by
// generation.
func (m *Manager) Refresh(ctx context.Context) (*aggregator.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.client = nil
	creds, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	c, err := m.refresh(ctx, creds)
	if err != nil {
		return nil, err
	}
	m.client = c
	return c, nil
}

// Invalidate drops the cached handle so the next Client call validates again.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.client = nil
	m.mu.Unlock()
}

func (m *Manager) resolve(ctx context.Context, creds model.Credentials) (*aggregator.Client, error) {
	if creds.AccessToken == "" {
		m.logger.Debug("no access token stored")
		return m.generate(ctx, creds)
	}

	c := m.issuer.WithAccessToken(creds.AccessToken)
	err := m.probe(ctx, c)
	if err == nil {
		m.logger.Debug("access token accepted", zap.String("token", model.Mask(creds.AccessToken)))
		return c, nil
	}
	if !errors.Is(err, apperr.AuthExpired) {
		return nil, fmt.Errorf("probing access token: %w", err)
	}

	m.logger.Info("access token rejected", zap.String("token", model.Mask(creds.AccessToken)))
	m.record("reject", model.Mask(creds.AccessToken), "probe rejected")
	return m.recover(ctx, creds)
}

// recover refreshes when a refresh token exists and generates otherwise or
// when the refresh fails.
func (m *Manager) recover(ctx context.Context, creds model.Credentials) (*aggregator.Client, error) {
	if creds.RefreshToken == "" {
		return m.generate(ctx, creds)
	}

	c, err := m.refresh(ctx, creds)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, apperr.StoreUnavailable) || ctx.Err() != nil {
		return nil, err
	}

	m.logger.Info("refresh failed, generating new tokens", zap.Error(err))
	return m.generate(ctx, creds)
}

func (m *Manager) refresh(ctx context.Context, creds model.Credentials) (*aggregator.Client, error) {
	if creds.RefreshToken == "" {
		return nil, apperr.Newf(apperr.AuthExpired, "refresh token", "no refresh token stored")
	}

	pair, err := m.issuer.RefreshToken(ctx, creds.RefreshToken)
	if err != nil {
		m.record("refresh_failed", model.Mask(creds.RefreshToken), apperr.KindOf(err).String())
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}

	fields := map[string]string{credstore.KeyAccessToken: pair.AccessToken}
	details := "refresh token kept"
	if pair.RefreshToken != "" {
		fields[credstore.KeyRefreshToken] = pair.RefreshToken
		details = "refresh token rotated"
	}
	if err := m.store.Save(fields); err != nil {
		return nil, fmt.Errorf("saving refreshed token: %w", err)
	}

	m.logger.Info("access token refreshed", zap.String("token", model.Mask(pair.AccessToken)), zap.String("refresh", details))
	m.record("refresh", model.Mask(pair.AccessToken), details)
	return m.issuer.WithAccessToken(pair.AccessToken), nil
}

func (m *Manager) generate(ctx context.Context, creds model.Credentials) (*aggregator.Client, error) {
	const op = "generate token"
	if !creds.HasSecrets() {
		var missing []string
		if creds.SecretID == "" {
			missing = append(missing, credstore.KeySecretID)
		}
		if creds.SecretKey == "" {
			missing = append(missing, credstore.KeySecretKey)
		}
		return nil, apperr.Newf(apperr.MissingCredentials, op, "%s not set", strings.Join(missing, ", "))
	}

	pair, err := m.issuer.GenerateToken(ctx, creds.SecretID, creds.SecretKey)
	if err != nil {
		m.record("generate_failed", model.Mask(creds.SecretID), apperr.KindOf(err).String())
		if rejectedSecrets(err) {
			return nil, apperr.New(apperr.MissingCredentials, op, fmt.Errorf("secrets rejected: %w", err))
		}
		return nil, fmt.Errorf("generating tokens: %w", err)
	}

	fields := map[string]string{credstore.KeyAccessToken: pair.AccessToken}
	if pair.RefreshToken != "" {
		fields[credstore.KeyRefreshToken] = pair.RefreshToken
	}
	if err := m.store.Save(fields); err != nil {
		return nil, fmt.Errorf("saving generated tokens: %w", err)
	}

	m.logger.Info("new tokens generated", zap.String("token", model.Mask(pair.AccessToken)))
	m.record("generate", model.Mask(pair.AccessToken), fmt.Sprintf("access expires in %ds", pair.AccessExpiresIn))
	return m.issuer.WithAccessToken(pair.AccessToken), nil
}

// rejectedSecrets reports whether the token endpoint refused the secrets
// themselves, which no retry can fix.
func rejectedSecrets(err error) bool {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Status == http.StatusUnauthorized || ae.Status == http.StatusForbidden
}

func (m *Manager) record(action, subject, details string) {
	m.recorder.Record(component, action, subject, details)
}
