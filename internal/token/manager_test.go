package token

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ledgerline/bankfeed/internal/activitylog"
	"github.com/ledgerline/bankfeed/internal/aggregator"
	"github.com/ledgerline/bankfeed/internal/apperr"
	"github.com/ledgerline/bankfeed/internal/credstore"
	"github.com/ledgerline/bankfeed/internal/model"
)

type fakeIssuer struct {
	base *aggregator.Client

	calls []string

	generatePair model.TokenPair
	generateErr  error
	refreshPair  model.TokenPair
	refreshErr   error
}

func newFakeIssuer(t require.TestingT) *fakeIssuer {
	c, err := aggregator.New("https://bankdata.test/api/v2/")
	require.NoError(t, err)
	return &fakeIssuer{
		base:         c,
		generatePair: model.TokenPair{AccessToken: "AAA", RefreshToken: "RRR"},
		refreshPair:  model.TokenPair{AccessToken: "AAA2"},
	}
}

func (f *fakeIssuer) GenerateToken(_ context.Context, _, _ string) (model.TokenPair, error) {
	f.calls = append(f.calls, "generate")
	return f.generatePair, f.generateErr
}

func (f *fakeIssuer) RefreshToken(_ context.Context, _ string) (model.TokenPair, error) {
	f.calls = append(f.calls, "refresh")
	return f.refreshPair, f.refreshErr
}

func (f *fakeIssuer) WithAccessToken(token string) *aggregator.Client {
	return f.base.WithAccessToken(token)
}

func (f *fakeIssuer) count(call string) int {
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

type memStore struct {
	kv      map[string]string
	saves   int
	saveErr error
}

func newMemStore(c model.Credentials) *memStore {
	kv := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			kv[k] = v
		}
	}
	set(credstore.KeySecretID, c.SecretID)
	set(credstore.KeySecretKey, c.SecretKey)
	set(credstore.KeyAccessToken, c.AccessToken)
	set(credstore.KeyRefreshToken, c.RefreshToken)
	return &memStore{kv: kv}
}

func (s *memStore) Load() (model.Credentials, error) {
	return model.Credentials{
		SecretID:     s.kv[credstore.KeySecretID],
		SecretKey:    s.kv[credstore.KeySecretKey],
		AccessToken:  s.kv[credstore.KeyAccessToken],
		RefreshToken: s.kv[credstore.KeyRefreshToken],
	}, nil
}

func (s *memStore) Save(fields map[string]string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	for k, v := range fields {
		s.kv[k] = v
	}
	return nil
}

// rejectTokens returns a prober that rejects the listed access tokens.
func rejectTokens(probes *[]string, rejected ...string) Prober {
	return func(_ context.Context, c *aggregator.Client) error {
		*probes = append(*probes, c.AccessToken())
		for _, r := range rejected {
			if c.AccessToken() == r {
				return apperr.Newf(apperr.AuthExpired, "list requisitions", "token expired")
			}
		}
		return nil
	}
}

var errNetwork = apperr.Newf(apperr.Unavailable, "refresh token", "connection reset")

func TestClient_NoTokenGenerates(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b"})
	var probes []string
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes)))

	c, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AAA", c.AccessToken())
	assert.Equal(t, []string{"generate"}, issuer.calls)
	assert.Empty(t, probes, "a freshly generated token is not probed")
	assert.Equal(t, "AAA", store.kv[credstore.KeyAccessToken])
	assert.Equal(t, "RRR", store.kv[credstore.KeyRefreshToken])
}

func TestClient_ValidTokenIsProbedOnce(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: "R"})
	var probes []string
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes)))

	for range 3 {
		c, err := m.Client(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "OLD", c.AccessToken())
	}
	assert.Equal(t, []string{"OLD"}, probes)
	assert.Empty(t, issuer.calls)
	assert.Zero(t, store.saves)
}

func TestClient_RejectedTokenRefreshes(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: "R"})
	var probes []string
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes, "OLD")))

	c, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AAA2", c.AccessToken())
	assert.Equal(t, []string{"refresh"}, issuer.calls)
	assert.Equal(t, "R", store.kv[credstore.KeyRefreshToken], "refresh without rotation keeps the old refresh token")
}

func TestClient_RefreshRotatesRefreshToken(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.refreshPair = model.TokenPair{AccessToken: "AAA2", RefreshToken: "R2"}
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: "R"})
	var probes []string
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes, "OLD")))

	_, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "R2", store.kv[credstore.KeyRefreshToken])
}

func TestClient_FailedRefreshGenerates(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.refreshErr = apperr.Newf(apperr.AuthExpired, "refresh token", "refresh expired")
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: "R"})
	var probes []string
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes, "OLD")))

	c, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AAA", c.AccessToken())
	assert.Equal(t, []string{"refresh", "generate"}, issuer.calls)
	assert.Equal(t, "RRR", store.kv[credstore.KeyRefreshToken])
}

func TestClient_RejectedWithoutRefreshTokenGenerates(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD"})
	var probes []string
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes, "OLD")))

	_, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"generate"}, issuer.calls)
}

func TestClient_MissingSecrets(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a"})
	m := NewManager(issuer, store)

	_, err := m.Client(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.MissingCredentials)
	assert.Contains(t, err.Error(), credstore.KeySecretKey)
	assert.Empty(t, issuer.calls)
}

func TestClient_RejectedSecretsAreMissingCredentials(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.generateErr = &apperr.Error{Kind: apperr.AuthExpired, Op: "generate token", Status: http.StatusUnauthorized, Err: errors.New("Authentication failed")}
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "wrong"})
	m := NewManager(issuer, store)

	_, err := m.Client(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.MissingCredentials, apperr.KindOf(err))
}

func TestClient_ProbeFailureOtherThanAuthPropagates(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: "R"})
	m := NewManager(issuer, store, WithProber(func(context.Context, *aggregator.Client) error {
		return apperr.Newf(apperr.Unavailable, "list requisitions", "bad gateway")
	}))

	_, err := m.Client(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.Unavailable)
	assert.Empty(t, issuer.calls)
}

func TestClient_SaveFailureIsFatal(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: "R"})
	store.saveErr = apperr.Newf(apperr.StoreUnavailable, "writing .env", "permission denied")
	var probes []string
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes, "OLD")))

	_, err := m.Client(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.StoreUnavailable)
	assert.Equal(t, []string{"refresh"}, issuer.calls, "a store failure does not fall through to generate")
}

func TestDo_RetriesOnceAfterRecovery(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: "R"})
	var probes []string
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes)))

	var seen []string
	err := m.Do(context.Background(), func(c *aggregator.Client) error {
		seen = append(seen, c.AccessToken())
		if c.AccessToken() == "OLD" {
			return apperr.Newf(apperr.AuthExpired, "get balances", "token expired")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"OLD", "AAA2"}, seen)
	assert.Equal(t, []string{"refresh"}, issuer.calls)

	c, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AAA2", c.AccessToken(), "the recovered handle is cached")
}

func TestDo_DoesNotRetryOtherFailures(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b"})
	m := NewManager(issuer, store)

	calls := 0
	err := m.Do(context.Background(), func(*aggregator.Client) error {
		calls++
		return apperr.Newf(apperr.NotFound, "get account details", "gone")
	})
	assert.ErrorIs(t, err, apperr.NotFound)
	assert.Equal(t, 1, calls)
}

func TestGenerate_Forced(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: "R"})
	m := NewManager(issuer, store)

	c, err := m.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AAA", c.AccessToken())
	assert.Equal(t, []string{"generate"}, issuer.calls)
}

func TestRefresh_FailureIsReturned(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.refreshErr = errNetwork
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: "R"})
	m := NewManager(issuer, store)

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, apperr.Unavailable)
	assert.Equal(t, []string{"refresh"}, issuer.calls)
}

func TestInvalidate(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD"})
	var probes []string
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes)))

	_, err := m.Client(context.Background())
	require.NoError(t, err)
	m.Invalidate()
	_, err = m.Client(context.Background())
	require.NoError(t, err)
	assert.Len(t, probes, 2)
}

func TestRecorderSeesTransitions(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.refreshErr = errNetwork
	store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: "R"})
	var probes []string
	rec := activitylog.NewRecorder("")
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes, "OLD")), WithRecorder(rec))

	_, err := m.Client(context.Background())
	require.NoError(t, err)

	var actions []string
	for _, e := range rec.Pending() {
		assert.Equal(t, "token", e.Component)
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"reject", "refresh_failed", "generate"}, actions)
}

// Store has secret_id="a", secret_key="b" and no tokens; generate returns
// AAA/RRR. The file ends up with exactly those four fields.
func TestScenario_FirstRunWritesFourFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	store := credstore.New(path)
	require.NoError(t, godotenv.Write(map[string]string{
		credstore.KeySecretID:  "a",
		credstore.KeySecretKey: "b",
	}, path))

	issuer := newFakeIssuer(t)
	var probes []string
	m := NewManager(issuer, store, WithProber(rejectTokens(&probes)))

	c, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AAA", c.AccessToken())

	kv, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		credstore.KeySecretID:     "a",
		credstore.KeySecretKey:    "b",
		credstore.KeyAccessToken:  "AAA",
		credstore.KeyRefreshToken: "RRR",
	}, kv)
}

// Refresh without a new refresh token leaves the stored one untouched
// through a real file round trip.
func TestScenario_RefreshKeepsStoredRefreshToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, godotenv.Write(map[string]string{
		credstore.KeySecretID:     "a",
		credstore.KeySecretKey:    "b",
		credstore.KeyAccessToken:  "OLD",
		credstore.KeyRefreshToken: "RRR",
	}, path))
	store := credstore.New(path)

	issuer := newFakeIssuer(t)
	m := NewManager(issuer, store)

	_, err := m.Refresh(context.Background())
	require.NoError(t, err)

	creds, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "AAA2", creds.AccessToken)
	assert.Equal(t, "RRR", creds.RefreshToken)
}

var tokenGen = rapid.StringMatching(`[A-Za-z0-9._-]{1,24}`)

func TestProperty_NoAccessTokenGeneratesExactlyOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		creds := model.Credentials{
			SecretID:     tokenGen.Draw(rt, "secret_id"),
			SecretKey:    tokenGen.Draw(rt, "secret_key"),
			RefreshToken: rapid.OneOf(rapid.Just(""), tokenGen).Draw(rt, "refresh"),
		}
		issuer := newFakeIssuer(rt)
		var probes []string
		m := NewManager(issuer, newMemStore(creds), WithProber(rejectTokens(&probes)))

		calls := rapid.IntRange(1, 4).Draw(rt, "calls")
		for range calls {
			if _, err := m.Client(context.Background()); err != nil {
				rt.Fatalf("Client: %v", err)
			}
		}
		if issuer.count("generate") != 1 || issuer.count("refresh") != 0 {
			rt.Fatalf("calls = %v, want exactly one generate", issuer.calls)
		}
	})
}

func TestProperty_RejectedTokenRefreshesBeforeGenerate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		creds := model.Credentials{
			SecretID:     tokenGen.Draw(rt, "secret_id"),
			SecretKey:    tokenGen.Draw(rt, "secret_key"),
			AccessToken:  tokenGen.Draw(rt, "access"),
			RefreshToken: tokenGen.Draw(rt, "refresh"),
		}
		issuer := newFakeIssuer(rt)
		if rapid.Bool().Draw(rt, "refresh_fails") {
			issuer.refreshErr = rapid.SampledFrom([]error{
				errNetwork,
				apperr.Newf(apperr.AuthExpired, "refresh token", "expired"),
				apperr.Newf(apperr.Malformed, "refresh token", "bad body"),
			}).Draw(rt, "refresh_err")
		}
		var probes []string
		m := NewManager(issuer, newMemStore(creds), WithProber(rejectTokens(&probes, creds.AccessToken)))

		if _, err := m.Client(context.Background()); err != nil {
			rt.Fatalf("Client: %v", err)
		}
		if len(issuer.calls) == 0 || issuer.calls[0] != "refresh" || issuer.count("refresh") != 1 {
			rt.Fatalf("calls = %v, want exactly one refresh first", issuer.calls)
		}
		wantGenerate := 0
		if issuer.refreshErr != nil {
			wantGenerate = 1
		}
		if issuer.count("generate") != wantGenerate {
			rt.Fatalf("calls = %v, want %d generate", issuer.calls, wantGenerate)
		}
	})
}

func TestProperty_RefreshWithoutRotationKeepsRefreshToken(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		refresh := tokenGen.Draw(rt, "refresh")
		store := newMemStore(model.Credentials{SecretID: "a", SecretKey: "b", AccessToken: "OLD", RefreshToken: refresh})
		issuer := newFakeIssuer(rt)
		issuer.refreshPair = model.TokenPair{AccessToken: tokenGen.Draw(rt, "new_access")}
		m := NewManager(issuer, store)

		if _, err := m.Refresh(context.Background()); err != nil {
			rt.Fatalf("Refresh: %v", err)
		}
		got, _ := store.Load()
		if got.RefreshToken != refresh {
			rt.Fatalf("refresh token = %q, want %q", got.RefreshToken, refresh)
		}
	})
}
