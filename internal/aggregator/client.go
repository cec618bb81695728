// Package aggregator is the single client of the GoCardless Bank Account Data
// API. Every remote failure it returns is classified with an apperr.Kind.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ledgerline/bankfeed/internal/apperr"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	maxBodyBytes      = 16 << 20
	userAgent         = "bankfeed"
)

// Client calls the aggregator API. A Client is immutable: WithAccessToken
// returns a new handle and leaves the receiver untouched, so handles can be
// shared freely.
type Client struct {
	baseURL *url.URL
	shared  http.RoundTripper // retrying, cached, rate-limited stack
	anon    *http.Client      // token endpoints
	authed  *http.Client      // nil until bound to an access token
	token   string
	logger  *zap.Logger
}

type options struct {
	transport         http.RoundTripper
	timeout           time.Duration
	maxRetries        int
	retryWaitMin      time.Duration
	retryWaitMax      time.Duration
	requestsPerSecond float64
	logger            *zap.Logger
}

// Option configures a Client.
type Option func(*options)

// WithTransport sets the base transport requests are finally sent through.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetry bounds retries of transient failures (429, 5xx, network errors).
func WithRetry(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(o *options) {
		o.maxRetries = maxRetries
		o.retryWaitMin = waitMin
		o.retryWaitMax = waitMax
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limiter.
func WithRateLimit(rps float64) Option {
	return func(o *options) { o.requestsPerSecond = rps }
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an unauthenticated Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	o := options{
		timeout:      defaultTimeout,
		maxRetries:   defaultMaxRetries,
		retryWaitMin: time.Second,
		retryWaitMax: 10 * time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q is not absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	shared := newTransport(o)
	return &Client{
		baseURL: u,
		shared:  shared,
		anon:    &http.Client{Transport: shared},
		logger:  o.logger,
	}, nil
}

// WithAccessToken returns a handle that authenticates every call with token.
func (c *Client) WithAccessToken(token string) *Client {
	cp := *c
	cp.token = token
	cp.authed = &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.shared,
		},
	}
	return &cp
}

// AccessToken returns the token the handle is bound to, or "".
func (c *Client) AccessToken() string {
	return c.token
}

// apiError is the error body returned by the API.
type apiError struct {
	Summary    string `json:"summary"`
	Detail     any    `json:"detail"`
	StatusCode int    `json:"status_code"`
}

func (e apiError) message() string {
	var detail string
	switch d := e.Detail.(type) {
	case string:
		detail = d
	case nil:
	default:
		b, _ := json.Marshal(d)
		detail = string(b)
	}
	switch {
	case e.Summary != "" && detail != "" && detail != e.Summary:
		return e.Summary + ": " + detail
	case e.Summary != "":
		return e.Summary
	}
	return detail
}

// call performs one API operation. Authenticated calls fail with AuthExpired
// on a handle that has no access token.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, in, out any, auth bool) error {
	hc := c.anon
	if auth {
		if c.authed == nil || c.token == "" {
			return apperr.Newf(apperr.AuthExpired, op, "no access token")
		}
		hc = c.authed
	}

	ref := &url.URL{Path: path}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	target := c.baseURL.ResolveReference(ref)

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", target.Path),
		zap.Int("status", resp.StatusCode),
		zap.Bool("cached", resp.Header.Get(cachedHeader) != ""),
		zap.Duration("elapsed", time.Since(start)),
	)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return classifyTransport(ctx, op, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		_ = json.Unmarshal(data, &ae)
		return classifyStatus(op, resp.StatusCode, ae.message())
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.New(apperr.Malformed, op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
