package aggregator

import (
	"net/http"
	"strings"

	"github.com/gregjones/httpcache"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const cachedHeader = httpcache.XFromCache

// newTransport builds the stack shared by every handle of a Client:
// retries on top of conditional caching on top of the rate limiter. Only
// institution lookups go through the cache.
func newTransport(o options) http.RoundTripper {
	base := o.transport
	if base == nil {
		base = http.DefaultTransport
	}
	if o.requestsPerSecond > 0 {
		base = &limitTransport{
			limiter: rate.NewLimiter(rate.Limit(o.requestsPerSecond), 1),
			next:    base,
		}
	}

	cache := &publicCache{
		cached: &httpcache.Transport{
			Transport:           base,
			Cache:               httpcache.NewMemoryCache(),
			MarkCachedResponses: true,
		},
		next: base,
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: cache, Timeout: o.timeout}
	rc.RetryMax = o.maxRetries
	rc.RetryWaitMin = o.retryWaitMin
	rc.RetryWaitMax = o.retryWaitMax
	rc.Logger = retryLogger{s: o.logger.Sugar()}
	// Hand the last response back instead of a synthetic "giving up" error so
	// the final status code can still be classified.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &retryablehttp.RoundTripper{Client: rc}
}

// publicCache caches institution lookups, which read the same for every
// token. Requisition and account data is per token and never cached.
type publicCache struct {
	cached http.RoundTripper
	next   http.RoundTripper
}

func (t *publicCache) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet && strings.Contains(req.URL.Path, "/institutions/") {
		return t.cached.RoundTrip(req)
	}
	return t.next.RoundTrip(req)
}

// limitTransport waits for the limiter before each attempt.
type limitTransport struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) { l.s.Errorw(msg, keysAndValues...) }
func (l retryLogger) Info(msg string, keysAndValues ...interface{})  { l.s.Infow(msg, keysAndValues...) }
func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) { l.s.Debugw(msg, keysAndValues...) }
func (l retryLogger) Warn(msg string, keysAndValues ...interface{})  { l.s.Warnw(msg, keysAndValues...) }

var _ retryablehttp.LeveledLogger = retryLogger{}
