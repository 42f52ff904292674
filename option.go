package x402client

import (
	"net/http"
	"time"

	"github.com/vitwit/x402-client/authorization"
	"github.com/vitwit/x402-client/logger"
	"github.com/vitwit/x402-client/metrics"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger installs a structured logger. Defaults to a no-op logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithMetrics installs a metrics recorder. Defaults to a no-op recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = r
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithTimeout sets the per-request timeout on the underlying HTTP client.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = t
	}
}

// WithPreferredScheme sets the scheme chosen first from a challenge's
// accepts list. Pass an empty string to always take the server's first
// entry.
func WithPreferredScheme(scheme string) Option {
	return func(c *Client) {
		c.preferred = scheme
	}
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn ObserverFunc) Option {
	return func(c *Client) {
		c.observer = fn
	}
}

// WithSessionHeaders registers an accessor whose headers are attached to
// both the initial and the retried request.
func WithSessionHeaders(fn HeadersFunc) Option {
	return func(c *Client) {
		c.headers = fn
	}
}

// WithExchangeRate registers the exchange rate source used by the native
// scheme to convert a USD price into token units.
func WithExchangeRate(fn RateFunc) Option {
	return func(c *Client) {
		c.rate = fn
	}
}

// WithNonce overrides the authorization nonce source. Tests use this to
// make nonces predictable; production code should never need it.
func WithNonce(fn authorization.NonceFunc) Option {
	return func(c *Client) {
		c.nonce = fn
	}
}

// WithClock overrides the time source used for authorization validity
// windows.
func WithClock(fn authorization.NowFunc) Option {
	return func(c *Client) {
		c.now = fn
	}
}
