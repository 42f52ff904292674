package eip712

import (
	"encoding/json"
	"fmt"
)

// TypeEntry is one field of an EIP-712 type definition.
type TypeEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedData is the JSON structure wallets expect for eth_signTypedData_v4:
// type table, primary type, domain and message.
type TypedData struct {
	Types       map[string][]TypeEntry `json:"types"`
	PrimaryType string                 `json:"primaryType"`
	Domain      Domain                 `json:"domain"`
	Message     map[string]interface{} `json:"message"`
}

// TransferWithAuthorizationTypes is the type table for EIP-3009 signing.
var TransferWithAuthorizationTypes = map[string][]TypeEntry{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// NewTransferWithAuthorizationTypedData assembles the typed data for one
// authorization. All numeric fields stay strings so no JSON serializer ever
// sees a raw big integer.
func NewTransferWithAuthorizationTypedData(domain Domain, from, to, value, validAfter, validBefore, nonce string) TypedData {
	return TypedData{
		Types:       TransferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain:      domain,
		Message: map[string]interface{}{
			"from":        from,
			"to":          to,
			"value":       value,
			"validAfter":  validAfter,
			"validBefore": validBefore,
			"nonce":       nonce,
		},
	}
}

// TransferWithAuthorizationDigestOf computes the signable digest of typed
// data whose primary type is TransferWithAuthorization.
func TransferWithAuthorizationDigestOf(td TypedData) ([32]byte, error) {
	var out [32]byte
	if td.PrimaryType != "TransferWithAuthorization" {
		return out, fmt.Errorf("unsupported primary type %q", td.PrimaryType)
	}

	field := func(name string) (string, error) {
		v, ok := td.Message[name].(string)
		if !ok {
			return "", fmt.Errorf("message field %q missing or not a string", name)
		}
		return v, nil
	}

	from, err := field("from")
	if err != nil {
		return out, err
	}
	to, err := field("to")
	if err != nil {
		return out, err
	}
	value, err := field("value")
	if err != nil {
		return out, err
	}
	validAfter, err := field("validAfter")
	if err != nil {
		return out, err
	}
	validBefore, err := field("validBefore")
	if err != nil {
		return out, err
	}
	nonce, err := field("nonce")
	if err != nil {
		return out, err
	}

	digest, err := TransferWithAuthorizationDigest(td.Domain, from, to, value, validAfter, validBefore, nonce)
	if err != nil {
		return out, err
	}
	copy(out[:], digest.Bytes())
	return out, nil
}

// ParseTypedData decodes the JSON form passed over a wallet transport.
func ParseTypedData(raw []byte) (TypedData, error) {
	var td TypedData
	if err := json.Unmarshal(raw, &td); err != nil {
		return td, fmt.Errorf("parse typed data: %w", err)
	}
	return td, nil
}
