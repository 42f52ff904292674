// Package authorization builds the scheme-specific unsigned payment
// authorizations: EIP-3009 transfer-with-authorization messages for the
// stablecoin scheme and transfer descriptors for the native scheme.
package authorization

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vitwit/x402-client/conv"
	"github.com/vitwit/x402-client/eip712"
	"github.com/vitwit/x402-client/types"
)

// Validity window applied to every authorization. The grace period tolerates
// minor clock skew between payer and verifier; the expiry bounds exposure if
// the signed proof leaks.
const (
	GracePeriod    = 60 * time.Second
	ValidityWindow = time.Hour
)

// NonceFunc produces the 32-byte nonce for one authorization. The default
// reads crypto/rand; tests may inject a deterministic source.
type NonceFunc func() ([32]byte, error)

// NowFunc supplies the current time.
type NowFunc func() time.Time

// DefaultNonce returns 32 bytes from a cryptographically secure source.
func DefaultNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("read nonce: %w", err)
	}
	return nonce, nil
}

// NativeTransferDescriptor is an unsigned native-token transfer. Broadcasting
// the transaction is the proof; there is no signing step here.
type NativeTransferDescriptor struct {
	From string
	To   string

	// Amount is the token amount as a decimal string.
	Amount string

	// ValueWei is Amount in the chain's smallest unit.
	ValueWei *big.Int
}

// Builder constructs authorizations for one configured network.
type Builder struct {
	config types.NetworkConfig
	nonce  NonceFunc
	now    NowFunc
}

// NewBuilder creates a Builder. nonce and now may be nil to use the
// cryptographically secure and wall-clock defaults.
func NewBuilder(cfg types.NetworkConfig, nonce NonceFunc, now NowFunc) *Builder {
	if nonce == nil {
		nonce = DefaultNonce
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{config: cfg, nonce: nonce, now: now}
}

// BuildEIP3009 builds an unsigned transfer-with-authorization message for a
// stablecoin requirement. The USD price is converted with ceiling rounding
// so truncation can never underpay.
func (b *Builder) BuildEIP3009(req *types.PaymentRequirements, payer string) (*types.EIP3009Authorization, error) {
	amount, atomic := req.Amount()
	value := amount
	if !atomic {
		var err error
		value, err = conv.StablecoinUnits(amount)
		if err != nil {
			return nil, fmt.Errorf("convert price: %w", err)
		}
	}
	if _, ok := new(big.Int).SetString(value, 10); !ok {
		return nil, fmt.Errorf("invalid atomic amount %q", value)
	}

	nonce, err := b.nonce()
	if err != nil {
		return nil, err
	}

	now := b.now().Unix()
	validAfter := now - int64(GracePeriod/time.Second)
	validBefore := now + int64(ValidityWindow/time.Second)

	return &types.EIP3009Authorization{
		From:        payer,
		To:          req.PayTo,
		Value:       value,
		ValidAfter:  strconv.FormatInt(validAfter, 10),
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       hexutil.Encode(nonce[:]),
	}, nil
}

// BuildNative builds a transfer descriptor for a native-token requirement.
// usdPerToken is the live exchange rate the caller fetched; it is required
// when the server quoted a USD price instead of an atomic amount.
func (b *Builder) BuildNative(req *types.PaymentRequirements, payer, usdPerToken string) (*NativeTransferDescriptor, error) {
	amount, atomic := req.Amount()

	var tokenAmount, weiStr string
	if atomic {
		wei, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid atomic amount %q", amount)
		}
		display, err := conv.FromBaseUnits(amount, b.config.NativeDecimals)
		if err != nil {
			return nil, err
		}
		return &NativeTransferDescriptor{
			From:     payer,
			To:       req.PayTo,
			Amount:   display,
			ValueWei: wei,
		}, nil
	}

	if usdPerToken == "" {
		return nil, types.NewError(types.ErrConfigError,
			"native scheme requires a USD exchange rate for price %s", amount)
	}
	tokenAmount, err := conv.NativeTokenAmount(amount, usdPerToken)
	if err != nil {
		return nil, fmt.Errorf("convert price: %w", err)
	}
	weiStr, err = conv.ToBaseUnits(tokenAmount, b.config.NativeDecimals)
	if err != nil {
		return nil, err
	}
	wei, ok := new(big.Int).SetString(weiStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", weiStr)
	}

	return &NativeTransferDescriptor{
		From:     payer,
		To:       req.PayTo,
		Amount:   tokenAmount,
		ValueWei: wei,
	}, nil
}

// TypedData assembles the EIP-712 typed data a wallet is asked to sign for
// the given authorization against the given token contract.
func (b *Builder) TypedData(auth *types.EIP3009Authorization, req *types.PaymentRequirements) eip712.TypedData {
	domain := eip712.Domain{
		Name:              b.config.DomainName(req),
		Version:           b.config.DomainVersion(req),
		ChainID:           strconv.FormatInt(b.config.ChainID, 10),
		VerifyingContract: common.HexToAddress(req.Asset).Hex(),
	}
	return eip712.NewTransferWithAuthorizationTypedData(
		domain, auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce)
}
