// Package codec encodes and decodes x402 payment data for HTTP transport:
// base64 of the JSON envelope. Every big-integer value inside the envelope is
// already a string, so the encoding is stable across serializers.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/vitwit/x402-client/types"
)

// EncodePayment converts a PaymentPayload to the base64 JSON string carried
// in the X-PAYMENT header.
func EncodePayment(payment *types.PaymentPayload) (string, error) {
	raw, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayment is the inverse of EncodePayment. Decoding is the server's
// job in production; the client keeps it for tests and symmetry.
func DecodePayment(encoded string) (*types.PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	var payment types.PaymentPayload
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}
	return &payment, nil
}

// DecodeSettlement decodes the X-PAYMENT-RESPONSE header a server may set on
// the retried request's response.
func DecodeSettlement(encoded string) (*types.SettlementResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	var settlement types.SettlementResponse
	if err := json.Unmarshal(raw, &settlement); err != nil {
		return nil, fmt.Errorf("unmarshal settlement: %w", err)
	}
	return &settlement, nil
}
