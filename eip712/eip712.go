// Package eip712 implements the EIP-712 hashing needed to sign and verify
// EIP-3009 transfer authorizations: domain separator, struct hash, final
// digest, and signature split/recover helpers.
package eip712

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain is the EIP-712 domain separator input. ChainID is a decimal string
// so uint256 chain ids survive JSON transport without precision loss.
type Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	transferAuthTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// DomainSeparator hashes the domain per EIP-712:
// keccak256(abi.encode(typeHash, keccak256(name), keccak256(version), chainId, verifyingContract)).
func DomainSeparator(d Domain) (common.Hash, error) {
	if d.Name == "" || d.Version == "" || d.ChainID == "" || d.VerifyingContract == "" {
		return common.Hash{}, errors.New("incomplete eip712 domain")
	}

	chainID, err := stringToBig(d.ChainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("domain chainId: %w", err)
	}

	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		padLeft32(chainID),
		addressTo32(common.HexToAddress(d.VerifyingContract)),
	), nil
}

// HashTransferWithAuthorization computes the struct hash of an EIP-3009
// TransferWithAuthorization message.
func HashTransferWithAuthorization(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	return crypto.Keccak256Hash(
		transferAuthTypeHash.Bytes(),
		addressTo32(from),
		addressTo32(to),
		padLeft32(value),
		padLeft32(validAfter),
		padLeft32(validBefore),
		nonce[:],
	)
}

// Digest returns the final signable hash:
// keccak256("\x19\x01" || domainSeparator || structHash).
func Digest(domainSeparator, structHash common.Hash) common.Hash {
	prefix := []byte{0x19, 0x01}
	return crypto.Keccak256Hash(append(append(prefix, domainSeparator.Bytes()...), structHash.Bytes()...))
}

// TransferWithAuthorizationDigest builds the digest for an authorization
// whose numeric fields are decimal strings and whose nonce is hex, matching
// the wire representation.
func TransferWithAuthorizationDigest(domain Domain, fromHex, toHex, valueDec, validAfterDec, validBeforeDec, nonceHex string) (common.Hash, error) {
	domainSep, err := DomainSeparator(domain)
	if err != nil {
		return common.Hash{}, err
	}

	value, err := stringToBig(valueDec)
	if err != nil {
		return common.Hash{}, fmt.Errorf("value: %w", err)
	}
	validAfter, err := stringToBig(validAfterDec)
	if err != nil {
		return common.Hash{}, fmt.Errorf("validAfter: %w", err)
	}
	validBefore, err := stringToBig(validBeforeDec)
	if err != nil {
		return common.Hash{}, fmt.Errorf("validBefore: %w", err)
	}
	nonce, err := HexToBytes32(nonceHex)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}

	structHash := HashTransferWithAuthorization(
		common.HexToAddress(fromHex), common.HexToAddress(toHex),
		value, validAfter, validBefore, nonce)
	return Digest(domainSep, structHash), nil
}

// RecoverSigner recovers the address that signed the digest. sig must be 65
// bytes (R||S||V); V may be 0/1 or 27/28, both are accepted.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// copy to avoid mutating the caller's slice
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("sig to pub: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SplitSignature splits a 65-byte hex signature into (v, r, s) with v
// normalized to 27/28 for on-chain submission.
func SplitSignature(sigHex string) (v uint8, r, s [32]byte, err error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return 0, r, s, fmt.Errorf("decode signature hex: %w", err)
	}
	if len(sig) != 65 {
		return 0, r, s, fmt.Errorf("invalid signature length: %d", len(sig))
	}

	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}

// HexToBytes32 converts hex (with or without 0x) into a 32-byte array.
func HexToBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func stringToBig(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal integer %q", s)
	}
	return n, nil
}

// padLeft32 right-aligns a big.Int into 32 bytes.
func padLeft32(i *big.Int) []byte {
	return common.LeftPadBytes(i.Bytes(), 32)
}

// addressTo32 left-pads an address into 32 bytes.
func addressTo32(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
