// Package signer abstracts "ask the connected wallet to sign or send" over
// differing wallet transport backends, with ordered method fallbacks and
// normalized typed errors.
package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vitwit/x402-client/types"
)

// Transport is an EIP-1193 style wallet connection: a single Request method
// dispatching JSON-RPC style calls to whatever backend carries them
// (injected provider bridge, WalletConnect relay, local key).
type Transport interface {
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
}

// Standard provider error codes (EIP-1193 / JSON-RPC).
const (
	CodeUserRejected      = 4001
	CodeUnsupportedMethod = 4200
	CodeMethodNotFound    = -32601
)

// RPCError is the error shape wallet transports return.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet rpc error %d: %s", e.Code, e.Message)
}

// classify maps a transport failure onto the client's error taxonomy. User
// rejection is kept distinct from transport/method failure so callers can
// show "you declined" instead of "something broke".
func classify(err error) *types.X402Error {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return nil
	}
	switch rpcErr.Code {
	case CodeUserRejected:
		return &types.X402Error{Code: types.ErrUserRejected, Message: rpcErr.Message}
	case CodeUnsupportedMethod, CodeMethodNotFound:
		return &types.X402Error{Code: types.ErrMethodUnsupported, Message: rpcErr.Message}
	}
	if strings.Contains(strings.ToLower(rpcErr.Message), "insufficient funds") {
		// surfaced verbatim from the wallet
		return &types.X402Error{Code: types.ErrInsufficientFunds, Message: rpcErr.Message}
	}
	return nil
}
