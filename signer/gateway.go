package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vitwit/x402-client/eip712"
	"github.com/vitwit/x402-client/logger"
	"github.com/vitwit/x402-client/types"
)

// SigningStrategy is one named signing method to try. Strategies are
// attempted in order; a method-unsupported failure moves on to the next one,
// anything else stops the chain.
type SigningStrategy struct {
	Name   string
	Method string
}

// DefaultSigningStrategies tries the current typed-data method first, then
// the legacy variant older wallets still expose.
var DefaultSigningStrategies = []SigningStrategy{
	{Name: "typed-data-v4", Method: "eth_signTypedData_v4"},
	{Name: "typed-data-legacy", Method: "eth_signTypedData"},
}

// Gateway drives a wallet Transport. Signing operations are serialized: most
// wallet transports serialize prompts, so only one request is in flight at a
// time.
type Gateway struct {
	transport  Transport
	strategies []SigningStrategy
	log        logger.Logger

	mu      sync.Mutex
	account string
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithStrategies overrides the ordered signing method list.
func WithStrategies(strategies []SigningStrategy) GatewayOption {
	return func(g *Gateway) {
		g.strategies = strategies
	}
}

// WithAccount seeds the signer address from already-known connection state,
// skipping the eth_accounts query.
func WithAccount(address string) GatewayOption {
	return func(g *Gateway) {
		g.account = address
	}
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l logger.Logger) GatewayOption {
	return func(g *Gateway) {
		g.log = l
	}
}

// NewGateway creates a Gateway over the given transport.
func NewGateway(transport Transport, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		transport:  transport,
		strategies: DefaultSigningStrategies,
		log:        logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Account resolves the signer's address, querying the transport on first
// use.
func (g *Gateway) Account(ctx context.Context) (string, error) {
	if g.transport == nil {
		return "", types.NewError(types.ErrWalletUnavailable, "no wallet transport attached")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.account != "" {
		return g.account, nil
	}

	raw, err := g.transport.Request(ctx, "eth_accounts")
	if err != nil {
		if typed := classify(err); typed != nil {
			return "", typed
		}
		return "", fmt.Errorf("query accounts: %w", err)
	}

	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return "", fmt.Errorf("decode accounts response: %w", err)
	}
	if len(accounts) == 0 || accounts[0] == "" {
		return "", types.NewError(types.ErrNoAccount, "wallet reports no accounts")
	}

	g.account = accounts[0]
	return g.account, nil
}

// SignTypedData asks the wallet to sign EIP-712 typed data, trying each
// configured strategy in order. User rejection and non-method failures
// propagate immediately; only a method-unsupported class of failure falls
// through to the next strategy.
func (g *Gateway) SignTypedData(ctx context.Context, td eip712.TypedData) (string, error) {
	account, err := g.Account(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(td)
	if err != nil {
		return "", fmt.Errorf("marshal typed data: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var lastErr error
	for _, strategy := range g.strategies {
		raw, err := g.transport.Request(ctx, strategy.Method, account, string(payload))
		if err == nil {
			var sig string
			if uerr := json.Unmarshal(raw, &sig); uerr != nil {
				return "", fmt.Errorf("decode %s response: %w", strategy.Method, uerr)
			}
			return normalizeHex(sig), nil
		}

		typed := classify(err)
		if typed != nil && typed.Code == types.ErrMethodUnsupported {
			g.log.Debug("signing method unsupported, falling back", map[string]any{
				"strategy": strategy.Name,
				"method":   strategy.Method,
			})
			lastErr = typed
			continue
		}
		if typed != nil {
			return "", typed
		}
		return "", fmt.Errorf("%s: %w", strategy.Method, err)
	}

	if lastErr != nil {
		return "", lastErr
	}
	return "", types.NewError(types.ErrMethodUnsupported, "no signing strategies configured")
}

// SendTransaction asks the wallet to broadcast a transfer and returns the
// transaction hash. value must never travel as a float: it is hex-encoded.
func (g *Gateway) SendTransaction(ctx context.Context, to string, value *big.Int, data []byte) (string, error) {
	account, err := g.Account(ctx)
	if err != nil {
		return "", err
	}

	tx := map[string]string{
		"from":  account,
		"to":    to,
		"value": hexutil.EncodeBig(value),
	}
	if len(data) > 0 {
		tx["data"] = hexutil.Encode(data)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	raw, err := g.transport.Request(ctx, "eth_sendTransaction", tx)
	if err != nil {
		if typed := classify(err); typed != nil {
			return "", typed
		}
		return "", fmt.Errorf("eth_sendTransaction: %w", err)
	}

	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return "", fmt.Errorf("decode transaction hash: %w", err)
	}
	return txHash, nil
}

func normalizeHex(s string) string {
	if !strings.HasPrefix(s, "0x") {
		return "0x" + s
	}
	return s
}
