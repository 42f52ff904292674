package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402-client/eip712"
)

// LocalKeyTransport is a wallet transport backed by an in-memory secp256k1
// key. It lets non-interactive callers (services, tests) pay without a
// browser wallet. It signs typed data locally and cannot broadcast
// transactions, so the native scheme needs a real node-backed transport.
type LocalKeyTransport struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ Transport = (*LocalKeyTransport)(nil)

// NewLocalKeyTransport parses a hex-encoded private key (with or without the
// 0x prefix).
func NewLocalKeyTransport(privHex string) (*LocalKeyTransport, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &LocalKeyTransport{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the account derived from the key.
func (t *LocalKeyTransport) Address() common.Address {
	return t.address
}

// Request implements Transport for the methods a local key can serve.
func (t *LocalKeyTransport) Request(_ context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	switch method {
	case "eth_accounts":
		return json.Marshal([]string{t.address.Hex()})

	case "eth_signTypedData_v4", "eth_signTypedData":
		if len(params) != 2 {
			return nil, &RPCError{Code: -32602, Message: "expected [address, typedData] params"}
		}
		payload, ok := params[1].(string)
		if !ok {
			return nil, &RPCError{Code: -32602, Message: "typed data param must be a JSON string"}
		}
		sig, err := t.signTypedData(payload)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sig)

	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %s not available on local key transport", method)}
	}
}

func (t *LocalKeyTransport) signTypedData(payload string) (string, error) {
	td, err := eip712.ParseTypedData([]byte(payload))
	if err != nil {
		return "", &RPCError{Code: -32602, Message: err.Error()}
	}

	digest, err := eip712.TransferWithAuthorizationDigestOf(td)
	if err != nil {
		return "", &RPCError{Code: CodeUnsupportedMethod, Message: err.Error()}
	}

	sig, err := crypto.Sign(digest[:], t.key)
	if err != nil {
		return "", fmt.Errorf("sign digest: %w", err)
	}

	// wallets return V as 27/28
	sig[64] += 27
	return hexutil.Encode(sig), nil
}
