package x402client

import (
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/vitwit/x402-client/metrics"
	"github.com/vitwit/x402-client/utils"
)

// paymentRoundTripper retries exactly one time after paying a 402
// challenge. Any further 402 comes back to the caller untouched, so a
// misbehaving server can never drain a wallet through repeated charges.
type paymentRoundTripper struct {
	base   http.RoundTripper
	client *Client
}

// WrapHTTPClient returns a copy of h whose transport pays x402 challenges
// transparently. Requests with a non-replayable body (GetBody unset) are
// not retried; their 402 response is returned as-is.
func (c *Client) WrapHTTPClient(h *http.Client) *http.Client {
	if h == nil {
		h = &http.Client{}
	}
	base := h.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	wrapped := *h
	wrapped.Transport = &paymentRoundTripper{base: base, client: c}
	return &wrapped
}

func (rt *paymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusPaymentRequired {
		return resp, err
	}

	// A request body has already been consumed by the first attempt; it
	// can only be replayed through GetBody.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	c := rt.client
	if err := c.begin(); err != nil {
		resp.Body.Close()
		return nil, err
	}
	defer c.end()

	attempt := uuid.NewString()
	c.transition(attempt, StateChallenged, "", nil)
	c.metrics.IncCounter(metrics.EventChallenged, c.labels(""))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBytes))
	resp.Body.Close()
	if err != nil {
		return nil, c.fail(attempt, "", fmt.Errorf("read 402 body: %w", err))
	}

	challenge, err := utils.ParsePaymentRequired(body)
	if err != nil {
		return nil, c.fail(attempt, "", err)
	}

	selected := c.selectRequirement(challenge.Accepts)
	if err := selected.Validate(); err != nil {
		return nil, c.fail(attempt, selected.Scheme, err)
	}

	encoded, _, err := c.pay(req.Context(), attempt, selected)
	if err != nil {
		return nil, c.fail(attempt, selected.Scheme, err)
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		if retry.Body, err = req.GetBody(); err != nil {
			return nil, c.fail(attempt, selected.Scheme, fmt.Errorf("replay request body: %w", err))
		}
	}
	retry.Header.Set(PaymentHeader, encoded)

	c.transition(attempt, StateSubmitting, selected.Scheme, nil)
	retryResp, err := rt.base.RoundTrip(retry)
	if err != nil {
		return nil, c.fail(attempt, selected.Scheme, err)
	}

	if retryResp.StatusCode >= 200 && retryResp.StatusCode < 300 {
		c.transition(attempt, StateSettled, selected.Scheme, nil)
		c.metrics.IncCounter(metrics.EventSettled, c.labels(selected.Scheme))
	} else {
		c.transition(attempt, StateFailed, selected.Scheme, nil)
		c.metrics.IncCounter(metrics.EventSettlementRejected, c.labels(selected.Scheme))
	}
	return retryResp, nil
}
