package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ledgerline/bankfeed/internal/apperr"
)

// classifyStatus maps a non-2xx response onto a failure kind.
func classifyStatus(op string, status int, msg string) error {
	kind := apperr.Malformed
	switch {
	case status == http.StatusUnauthorized:
		kind = apperr.AuthExpired
	case status == http.StatusNotFound:
		kind = apperr.NotFound
	case status == http.StatusTooManyRequests:
		kind = apperr.RateLimited
	case status >= 500:
		kind = apperr.Unavailable
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &apperr.Error{Kind: kind, Op: op, Status: status, Err: errors.New(msg)}
}

// classifyTransport maps a failure to get any response. Cancellation by the
// caller is returned unclassified.
func classifyTransport(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return apperr.New(apperr.Unavailable, op, err)
}
