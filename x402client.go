// Package x402client implements the buyer side of the x402 payment
// protocol: issue a request, detect an HTTP 402 challenge, build and sign a
// payment authorization, and retry the request with the proof attached.
package x402client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitwit/x402-client/authorization"
	"github.com/vitwit/x402-client/codec"
	"github.com/vitwit/x402-client/logger"
	"github.com/vitwit/x402-client/metrics"
	"github.com/vitwit/x402-client/signer"
	"github.com/vitwit/x402-client/types"
	"github.com/vitwit/x402-client/utils"
)

// PaymentHeader carries the encoded proof on the retried request.
const PaymentHeader = "X-Payment"

// SettlementHeader is where servers may report settlement results.
const SettlementHeader = "X-Payment-Response"

// maxChallengeBytes bounds how much of a 402 body the client will read.
const maxChallengeBytes = 1 << 20

// State is a phase of the negotiation state machine.
type State string

const (
	StateIdle        State = "idle"
	StateChallenged  State = "challenged"
	StateAuthorizing State = "authorizing"
	StateSigning     State = "signing"
	StateSubmitting  State = "submitting"
	StateSettled     State = "settled"
	StateFailed      State = "failed"
)

// Event is delivered to the observer on every state transition, keyed by a
// per-attempt id so UIs can correlate transitions without owning any flow
// state themselves.
type Event struct {
	AttemptID string
	State     State
	Scheme    string
	Err       error
}

// ObserverFunc receives state machine transitions.
type ObserverFunc func(Event)

// HeadersFunc supplies session auth headers that are passed through
// unmodified on both the initial and the retried request.
type HeadersFunc func() map[string]string

// RateFunc supplies the live USD-per-native-token exchange rate for the
// native scheme. The client performs no price fetching of its own.
type RateFunc func(ctx context.Context) (string, error)

// RequestSpec describes the request to execute. The body is held as bytes
// so the identical request can be reissued after payment.
type RequestSpec struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Result is the outcome of one Execute call. When the initial response is
// not a 402, Response holds it untouched and Paid is false.
type Result struct {
	Response *http.Response
	Paid     bool
	State    State

	// Payload is the envelope that was attached to the retried request.
	Payload *types.PaymentPayload

	// Settlement is the decoded X-Payment-Response header, when present.
	Settlement *types.SettlementResponse
}

// Client negotiates x402 payment challenges. One Client is shared by all
// callers against a network so nonce, timing and error semantics stay
// consistent; a negotiation for the same Client is exclusive while it is
// outstanding.
type Client struct {
	httpClient *http.Client
	config     types.NetworkConfig
	gateway    *signer.Gateway
	builder    *authorization.Builder

	preferred string
	rate      RateFunc
	headers   HeadersFunc
	observer  ObserverFunc
	log       logger.Logger
	metrics   metrics.Recorder

	nonce authorization.NonceFunc
	now   authorization.NowFunc

	mu       sync.Mutex
	inFlight bool
}

// New creates a Client for one network over the given wallet transport.
func New(cfg types.NetworkConfig, transport signer.Transport, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     cfg,
		preferred:  types.SchemeEIP3009,
		log:        logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.gateway = signer.NewGateway(transport, signer.WithGatewayLogger(c.log))
	c.builder = authorization.NewBuilder(cfg, c.nonce, c.now)

	return c
}

// Execute sends the request, pays if challenged, and returns the final
// response. A non-402 initial response is returned as-is: no payment was
// needed and that is a valid outcome, not an error. On a second failure
// after payment the response is likewise returned verbatim; the client
// never silently retries with the same nonce.
func (c *Client) Execute(ctx context.Context, spec RequestSpec) (*Result, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	attempt := uuid.NewString()
	start := time.Now()

	resp, err := c.send(ctx, spec, "")
	if err != nil {
		return nil, fmt.Errorf("initial request: %w", err)
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return &Result{Response: resp, State: StateIdle}, nil
	}

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

	req := c.selectRequirement(challenge.Accepts)
	if err := req.Validate(); err != nil {
		return nil, c.fail(attempt, req.Scheme, err)
	}

	c.log.Info("payment challenge received", map[string]any{
		"attempt": attempt,
		"scheme":  req.Scheme,
		"network": req.Network,
		"payTo":   req.PayTo,
	})

	encoded, payload, err := c.pay(ctx, attempt, req)
	if err != nil {
		return nil, c.fail(attempt, req.Scheme, err)
	}

	c.transition(attempt, StateSubmitting, req.Scheme, nil)
	retryResp, err := c.send(ctx, spec, encoded)
	if err != nil {
		return nil, c.fail(attempt, req.Scheme, fmt.Errorf("retried request: %w", err))
	}

	result := &Result{
		Response: retryResp,
		Paid:     true,
		Payload:  payload,
	}
	if hdr := retryResp.Header.Get(SettlementHeader); hdr != "" {
		if settlement, err := codec.DecodeSettlement(hdr); err == nil {
			result.Settlement = settlement
		}
	}

	if retryResp.StatusCode >= 200 && retryResp.StatusCode < 300 {
		result.State = StateSettled
		c.transition(attempt, StateSettled, req.Scheme, nil)
		c.metrics.IncCounter(metrics.EventSettled, c.labels(req.Scheme))
	} else {
		// The server saw a valid-looking proof and still refused. The
		// response goes back verbatim; the caller decides what is final.
		result.State = StateFailed
		c.transition(attempt, StateFailed, req.Scheme,
			types.NewError(types.ErrSettlementRejected, "retried request returned %d", retryResp.StatusCode))
		c.metrics.IncCounter(metrics.EventSettlementRejected, c.labels(req.Scheme))
	}

	c.metrics.ObserveLatency("negotiate", time.Since(start), c.labels(req.Scheme))
	return result, nil
}

// pay drives the authorization, signing and encoding steps for one selected
// requirement and returns the encoded header value plus the envelope.
func (c *Client) pay(ctx context.Context, attempt string, req *types.PaymentRequirements) (string, *types.PaymentPayload, error) {
	var envelope *types.PaymentPayload

	switch req.Scheme {
	case types.SchemeEIP3009:
		c.transition(attempt, StateAuthorizing, req.Scheme, nil)
		payer, err := c.gateway.Account(ctx)
		if err != nil {
			return "", nil, err
		}

		auth, err := c.builder.BuildEIP3009(req, payer)
		if err != nil {
			return "", nil, err
		}

		c.transition(attempt, StateSigning, req.Scheme, nil)
		// This blocks on human approval inside the wallet; ctx is the only
		// bound on how long that takes.
		sig, err := c.gateway.SignTypedData(ctx, c.builder.TypedData(auth, req))
		if err != nil {
			return "", nil, err
		}

		envelope, err = types.NewEIP3009PaymentPayload(c.config, req.Asset, &types.EIP3009Payload{
			From:        auth.From,
			To:          auth.To,
			Value:       auth.Value,
			ValidAfter:  auth.ValidAfter,
			ValidBefore: auth.ValidBefore,
			Nonce:       auth.Nonce,
			Signature:   sig,
		})
		if err != nil {
			return "", nil, err
		}

	case types.SchemeNative:
		c.transition(attempt, StateAuthorizing, req.Scheme, nil)
		payer, err := c.gateway.Account(ctx)
		if err != nil {
			return "", nil, err
		}

		var rate string
		if c.rate != nil {
			if rate, err = c.rate(ctx); err != nil {
				return "", nil, fmt.Errorf("fetch exchange rate: %w", err)
			}
		}

		desc, err := c.builder.BuildNative(req, payer, rate)
		if err != nil {
			return "", nil, err
		}

		c.transition(attempt, StateSigning, req.Scheme, nil)
		txHash, err := c.gateway.SendTransaction(ctx, desc.To, desc.ValueWei, nil)
		if err != nil {
			return "", nil, err
		}

		envelope, err = types.NewNativePaymentPayload(c.config, &types.NativePayload{
			TxHash: txHash,
			From:   desc.From,
			To:     desc.To,
			Amount: desc.Amount,
		})
		if err != nil {
			return "", nil, err
		}

	default:
		return "", nil, types.NewError(types.ErrUnsupportedScheme,
			"unsupported payment scheme: %s", req.Scheme)
	}

	encoded, err := codec.EncodePayment(envelope)
	if err != nil {
		return "", nil, err
	}
	return encoded, envelope, nil
}

// selectRequirement picks exactly one entry from accepts. Selection is
// deterministic because it decides real monetary cost: the first entry
// matching the preferred scheme wins, otherwise the first entry in server
// order.
func (c *Client) selectRequirement(accepts []types.PaymentRequirements) *types.PaymentRequirements {
	if c.preferred != "" {
		for i := range accepts {
			if accepts[i].Scheme == c.preferred {
				return &accepts[i]
			}
		}
	}
	return &accepts[0]
}

// send builds and issues one HTTP request from the spec. Session headers
// from the accessor are passed through unmodified.
func (c *Client) send(ctx context.Context, spec RequestSpec, paymentHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, bytes.NewReader(spec.Body))
	if err != nil {
		return nil, err
	}

	for k, vs := range spec.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.headers != nil {
		for k, v := range c.headers() {
			req.Header.Set(k, v)
		}
	}
	if paymentHeader != "" {
		req.Header.Set(PaymentHeader, paymentHeader)
	}

	return c.httpClient.Do(req)
}

// begin guards against concurrent double-submission: a new negotiation must
// not start while a prior one is outstanding.
func (c *Client) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return types.NewError(types.ErrNegotiationInFlight,
			"a payment negotiation is already in flight")
	}
	c.inFlight = true
	return nil
}

func (c *Client) end() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// fail records the terminal failed state and returns err unchanged so the
// original message reaches the caller.
func (c *Client) fail(attempt, scheme string, err error) error {
	c.transition(attempt, StateFailed, scheme, err)
	c.metrics.IncCounter(metrics.EventFailed, c.labels(scheme))
	c.log.Error("payment negotiation failed", map[string]any{
		"attempt": attempt,
		"scheme":  scheme,
		"error":   err.Error(),
	})
	return err
}

func (c *Client) transition(attempt string, state State, scheme string, err error) {
	c.log.Debug("state transition", map[string]any{
		"attempt": attempt,
		"state":   string(state),
		"scheme":  scheme,
	})
	if c.observer != nil {
		c.observer(Event{AttemptID: attempt, State: state, Scheme: scheme, Err: err})
	}
}

func (c *Client) labels(scheme string) map[string]string {
	return map[string]string{
		"network": c.config.Network,
		"scheme":  scheme,
	}
}
