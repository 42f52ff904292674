// Package conv converts USD-denominated prices into asset amounts. It is
// pure: the native-token exchange rate is supplied by the caller.
package conv

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// StablecoinDecimals is fixed for USDC-style stablecoins.
	StablecoinDecimals int32 = 6

	// NativeDecimals is the precision used for native-token amounts.
	NativeDecimals int32 = 18
)

// divPrecision gives the division enough headroom that truncating to the
// asset's precision afterwards is exact.
const divPrecision int32 = 36

// StablecoinUnits converts a USD price string into micro-USDC:
// ceil(price * 10^6), returned as an integer string. Rounding goes up, never
// down, so truncation can never underpay the quoted price.
func StablecoinUnits(price string) (string, error) {
	d, err := parsePrice(price)
	if err != nil {
		return "", err
	}
	return d.Shift(StablecoinDecimals).Ceil().String(), nil
}

// NativeTokenAmount converts a USD price into a native-token amount using a
// caller-supplied exchange rate (USD per token). The result is a decimal
// string truncated to 18 places; anything past the asset's minimum unit is
// dropped rather than rounded.
func NativeTokenAmount(priceUSD, usdPerToken string) (string, error) {
	price, err := parsePrice(priceUSD)
	if err != nil {
		return "", err
	}
	rate, err := decimal.NewFromString(usdPerToken)
	if err != nil {
		return "", fmt.Errorf("invalid exchange rate %q: %w", usdPerToken, err)
	}
	if rate.Sign() <= 0 {
		return "", fmt.Errorf("exchange rate must be positive, got %s", rate)
	}
	return price.DivRound(rate, divPrecision).Truncate(NativeDecimals).String(), nil
}

// ToBaseUnits converts a decimal asset amount into its smallest unit
// (e.g. wei for 18 decimals), truncating below the minimum unit.
func ToBaseUnits(amount string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("amount cannot be negative: %s", amount)
	}
	return d.Shift(decimals).Truncate(0).String(), nil
}

// FromBaseUnits formats an atomic amount back into a decimal string. Used
// for display and logging only.
func FromBaseUnits(atomic string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(atomic)
	if err != nil {
		return "", fmt.Errorf("invalid atomic amount %q: %w", atomic, err)
	}
	return d.Shift(-decimals).String(), nil
}

func parsePrice(price string) (decimal.Decimal, error) {
	if price == "" {
		return decimal.Decimal{}, fmt.Errorf("price cannot be empty")
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("price cannot be negative: %s", price)
	}
	return d, nil
}
