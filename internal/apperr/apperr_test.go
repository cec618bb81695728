package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsKind(t *testing.T) {
	err := fmt.Errorf("fetching bank: %w", New(NotFound, "get institution", errors.New("no such id")))

	assert.ErrorIs(t, err, NotFound)
	assert.NotErrorIs(t, err, Unavailable)
	assert.Equal(t, NotFound, KindOf(err))
}

func TestKindOfBareKind(t *testing.T) {
	err := fmt.Errorf("loading: %w", StoreUnavailable)
	assert.Equal(t, StoreUnavailable, KindOf(err))
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, Unknown, KindOf(nil))
}

func TestErrorMessage(t *testing.T) {
	e := &Error{Kind: RateLimited, Op: "get transactions", Status: 429, Err: errors.New("daily limit")}
	assert.Equal(t, "get transactions: rate limited (status 429): daily limit", e.Error())
}

func TestKindPolicy(t *testing.T) {
	tests := []struct {
		kind      Kind
		transient bool
		fatal     bool
	}{
		{MissingCredentials, false, true},
		{StoreUnavailable, false, true},
		{AuthExpired, false, true},
		{ConsentIncomplete, false, false},
		{NotFound, false, false},
		{RateLimited, true, false},
		{Unavailable, true, false},
		{Malformed, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.transient, tt.kind.Transient(), "Transient(%s)", tt.kind)
		assert.Equal(t, tt.fatal, tt.kind.Fatal(), "Fatal(%s)", tt.kind)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitGeneric, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitMissingCredentials, ExitCode(New(MissingCredentials, "generate", nil)))
	assert.Equal(t, ExitUnavailable, ExitCode(New(RateLimited, "list", nil)))
	assert.Equal(t, ExitUnavailable, ExitCode(New(Unavailable, "list", nil)))
	assert.Equal(t, ExitMalformed, ExitCode(fmt.Errorf("x: %w", New(Malformed, "decode", nil))))
}

func TestHints(t *testing.T) {
	assert.NotEmpty(t, Hints(New(MissingCredentials, "", nil)))
	assert.NotEmpty(t, Hints(New(NotFound, "", nil)))
	assert.Nil(t, Hints(errors.New("plain")))
}
