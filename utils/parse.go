// Package utils holds parsing and validation helpers shared by the payment
// client.
package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vitwit/x402-client/types"
)

var validate = validator.New()

// ParsePaymentRequired parses and validates the body of a 402 response. An
// absent or empty accepts list is a malformed challenge: there is nothing
// the client could pay.
func ParsePaymentRequired(data []byte) (*types.PaymentRequiredResponse, error) {
	var resp types.PaymentRequiredResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, types.NewError(types.ErrMalformedChallenge,
			"failed to parse 402 body: %v", err)
	}

	if len(resp.Accepts) == 0 {
		return nil, types.NewError(types.ErrMalformedChallenge,
			"402 body has no accepts entries")
	}

	for i := range resp.Accepts {
		if err := validate.Struct(&resp.Accepts[i]); err != nil {
			return nil, types.NewError(types.ErrMalformedChallenge,
				"accepts[%d] validation failed: %v", i, err)
		}
	}

	return &resp, nil
}

// ValidateAmount checks that an amount string is a non-negative decimal.
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}
