// Package evm implements the typed-data digest construction and network
// reads the payment engine needs on EVM networks. The digest layout must be
// byte-exact for verifier compatibility; see TransferDigest.
package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// transferTypeHash is the EIP-3009 TransferWithAuthorization type hash.
var transferTypeHash = crypto.Keccak256Hash([]byte(
	"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
))

// TransferDigest computes the signing digest for a transfer authorization:
//
//	structHash = keccak256(typeHash || from || to || value || validAfter || validBefore || nonce)
//	digest     = keccak256(0x19 0x01 || domainSeparator || structHash)
//
// Every field is encoded as a 32-byte word: addresses and integers are
// left-padded big-endian, the nonce is left-padded into bytes32. The domain
// separator arrives pre-hashed from the token contract, so the standard
// typed-data domain encoding is not re-derived here.
func TransferDigest(
	domainSeparator [32]byte,
	from, to common.Address,
	value, validAfter, validBefore *big.Int,
	nonce []byte,
) ([32]byte, error) {
	var digest [32]byte
	if len(nonce) == 0 || len(nonce) > 32 {
		return digest, fmt.Errorf("nonce must be 1..32 bytes, got %d", len(nonce))
	}
	for name, v := range map[string]*big.Int{"value": value, "validAfter": validAfter, "validBefore": validBefore} {
		if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
			return digest, fmt.Errorf("%s does not fit uint256", name)
		}
	}

	enc := make([]byte, 0, 7*32)
	enc = append(enc, transferTypeHash.Bytes()...)
	enc = append(enc, leftPadAddress(from)...)
	enc = append(enc, leftPadAddress(to)...)
	enc = append(enc, leftPadBig(value)...)
	enc = append(enc, leftPadBig(validAfter)...)
	enc = append(enc, leftPadBig(validBefore)...)
	enc = append(enc, leftPadBytes(nonce)...)
	structHash := crypto.Keccak256(enc)

	raw := make([]byte, 0, 2+32+32)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator[:]...)
	raw = append(raw, structHash...)
	copy(digest[:], crypto.Keccak256(raw))
	return digest, nil
}

func leftPadAddress(a common.Address) []byte {
	var word [32]byte
	copy(word[12:], a.Bytes())
	return word[:]
}

func leftPadBig(v *big.Int) []byte {
	var word [32]byte
	v.FillBytes(word[:])
	return word[:]
}

func leftPadBytes(b []byte) []byte {
	var word [32]byte
	copy(word[32-len(b):], b)
	return word[:]
}
