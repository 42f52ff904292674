// Package types defines the wire-level and configuration types for the
// x402 payer client.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// X402Version is the protocol version this client speaks.
const X402Version = 1

// Payment schemes the client can fulfil.
const (
	// SchemeEIP3009 is the gas-sponsored stablecoin scheme: the payer signs
	// an EIP-3009 transferWithAuthorization off-chain and the server (or its
	// facilitator) submits it.
	SchemeEIP3009 = "x402-eip3009"

	// SchemeNative is the direct native-token scheme: the payer broadcasts a
	// plain value transfer and presents the transaction hash as proof.
	SchemeNative = "x402-native"
)

// PaymentRequirements is one entry of the `accepts` list in a 402 response.
// It describes a single payment method the resource server will honor.
type PaymentRequirements struct {
	Scheme  string `json:"scheme" validate:"required"`
	Network string `json:"network" validate:"required"`

	// MaxAmountRequired is the required amount in atomic units of the asset.
	// Represented as a string because Go does not support uint256.
	MaxAmountRequired string `json:"maxAmountRequired,omitempty"`

	// Price is the USD-denominated price as a decimal string. Servers send
	// either this or MaxAmountRequired.
	Price string `json:"price,omitempty"`

	// PayTo is the address the payment must be sent to.
	PayTo string `json:"payTo" validate:"required"`

	// Asset is the token contract address. Empty for native-token payments.
	Asset string `json:"asset,omitempty"`

	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra carries scheme-specific hints, e.g. the EIP-712 domain `name`
	// and `version` of the token contract.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequiredResponse is the body of an HTTP 402 response.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
}

// EIP3009Authorization is the unsigned transfer-with-authorization message.
// All uint256 fields are decimal strings; Nonce is 0x-prefixed hex of 32
// random bytes. A nonce is generated fresh for every authorization and never
// reused.
type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// EIP3009Payload is the scheme-specific payload for SchemeEIP3009: the
// authorization fields plus the payer's 65-byte EIP-712 signature in hex.
type EIP3009Payload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

// NativePayload is the scheme-specific payload for SchemeNative. It exists
// only after the transfer transaction has been broadcast.
type NativePayload struct {
	TxHash string `json:"txHash"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// PaymentPayload is the versioned envelope carried in the X-PAYMENT header
// (base64 of its JSON encoding). It lives for the duration of one retried
// request and is never persisted.
type PaymentPayload struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	ChainID     int64  `json:"chainId"`
	Token       string `json:"token,omitempty"`

	// Payload is the scheme-specific part. Kept raw so the envelope
	// round-trips without reinterpreting big integers.
	Payload json.RawMessage `json:"payload"`
}

// EIP3009 decodes the scheme-specific payload as an EIP3009Payload.
func (p *PaymentPayload) EIP3009() (*EIP3009Payload, error) {
	if p.Scheme != SchemeEIP3009 {
		return nil, fmt.Errorf("payload scheme is %q, not %q", p.Scheme, SchemeEIP3009)
	}
	var out EIP3009Payload
	if err := json.Unmarshal(p.Payload, &out); err != nil {
		return nil, fmt.Errorf("decode eip3009 payload: %w", err)
	}
	return &out, nil
}

// Native decodes the scheme-specific payload as a NativePayload.
func (p *PaymentPayload) Native() (*NativePayload, error) {
	if p.Scheme != SchemeNative {
		return nil, fmt.Errorf("payload scheme is %q, not %q", p.Scheme, SchemeNative)
	}
	var out NativePayload
	if err := json.Unmarshal(p.Payload, &out); err != nil {
		return nil, fmt.Errorf("decode native payload: %w", err)
	}
	return &out, nil
}

// NewEIP3009PaymentPayload wraps a signed authorization in the envelope.
func NewEIP3009PaymentPayload(cfg NetworkConfig, asset string, payload *EIP3009Payload) (*PaymentPayload, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal eip3009 payload: %w", err)
	}
	return &PaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemeEIP3009,
		Network:     cfg.Network,
		ChainID:     cfg.ChainID,
		Token:       asset,
		Payload:     raw,
	}, nil
}

// NewNativePaymentPayload wraps a broadcast transfer proof in the envelope.
func NewNativePaymentPayload(cfg NetworkConfig, payload *NativePayload) (*PaymentPayload, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal native payload: %w", err)
	}
	return &PaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemeNative,
		Network:     cfg.Network,
		ChainID:     cfg.ChainID,
		Payload:     raw,
	}, nil
}

// SettlementResponse is the decoded X-PAYMENT-RESPONSE header a server may
// attach to the retried request's response.
type SettlementResponse struct {
	Success   bool   `json:"success"`
	TxHash    string `json:"txHash,omitempty"`
	NetworkID string `json:"networkId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Quote is a server-supplied price estimate. It is advisory input to amount
// conversion only; the server re-verifies on submission.
type Quote struct {
	PriceUSD string `json:"priceUsd"`
	Tokens   int64  `json:"tokens,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`

	// Recommended maps scheme -> recommended amount in atomic units.
	Recommended map[string]string `json:"recommended,omitempty"`
}

// Error codes. Codes are stable strings so callers can branch on them
// without importing sentinel values.
const (
	ErrMalformedChallenge  = "MALFORMED_CHALLENGE"
	ErrWalletUnavailable   = "WALLET_UNAVAILABLE"
	ErrNoAccount           = "NO_ACCOUNT"
	ErrUserRejected        = "USER_REJECTED"
	ErrInsufficientFunds   = "INSUFFICIENT_FUNDS"
	ErrMethodUnsupported   = "METHOD_UNSUPPORTED"
	ErrSettlementRejected  = "SETTLEMENT_REJECTED"
	ErrNegotiationInFlight = "NEGOTIATION_IN_FLIGHT"
	ErrUnsupportedScheme   = "UNSUPPORTED_SCHEME"
	ErrConfigError         = "CONFIG_ERROR"
)

// X402Error is the typed error surfaced at package boundaries.
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *X402Error) Error() string {
	return e.Message
}

// NewError builds an X402Error with a formatted message.
func NewError(code, format string, args ...interface{}) *X402Error {
	return &X402Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the x402 error code from err, or "" if err is not an
// X402Error anywhere in its chain.
func ErrorCode(err error) string {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}

// IsCode reports whether err carries the given x402 error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// Amount returns the required amount and whether it is already expressed in
// atomic units. Servers send maxAmountRequired (atomic) or price (USD).
func (pr *PaymentRequirements) Amount() (value string, atomic bool) {
	if pr.MaxAmountRequired != "" {
		return pr.MaxAmountRequired, true
	}
	return pr.Price, false
}

// Validate checks the fields validator tags cannot express.
func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme != SchemeEIP3009 && pr.Scheme != SchemeNative {
		return NewError(ErrUnsupportedScheme, "unsupported payment scheme: %s", pr.Scheme)
	}
	if pr.MaxAmountRequired == "" && pr.Price == "" {
		return NewError(ErrMalformedChallenge, "requirement has neither maxAmountRequired nor price")
	}
	if pr.Scheme == SchemeEIP3009 && pr.Asset == "" {
		return NewError(ErrMalformedChallenge, "eip3009 requirement is missing the asset address")
	}
	return nil
}
