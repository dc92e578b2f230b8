package agentpay

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/axobase/agentpay/evm"
)

// AuthorizationDigest recomputes the signing digest for an authorization
// against a known domain separator.
func AuthorizationDigest(auth *Authorization, domainSeparator [32]byte) ([32]byte, error) {
	var digest [32]byte

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return digest, fmt.Errorf("invalid value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return digest, fmt.Errorf("invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return digest, fmt.Errorf("invalid validBefore %q", auth.ValidBefore)
	}
	nonce, err := hex.DecodeString(auth.Nonce)
	if err != nil {
		return digest, fmt.Errorf("invalid nonce: %w", err)
	}

	return evm.TransferDigest(
		domainSeparator,
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value, validAfter, validBefore, nonce,
	)
}

// RecoverAuthorizationSigner recovers the address that signed an
// authorization. Verifiers compare it against the declared sender; it must
// also match for the engine's own sanity checks and test fixtures.
func RecoverAuthorizationSigner(auth *Authorization, domainSeparator [32]byte) (string, error) {
	digest, err := AuthorizationDigest(auth, domainSeparator)
	if err != nil {
		return "", err
	}

	r, err := hex.DecodeString(auth.R)
	if err != nil || len(r) != 32 {
		return "", fmt.Errorf("invalid r component")
	}
	s, err := hex.DecodeString(auth.S)
	if err != nil || len(s) != 32 {
		return "", fmt.Errorf("invalid s component")
	}
	if auth.V != 27 && auth.V != 28 {
		return "", fmt.Errorf("invalid v %d", auth.V)
	}

	sig := make([]byte, 65)
	copy(sig[:32], r)
	copy(sig[32:64], s)
	sig[64] = auth.V - 27

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return "", fmt.Errorf("signature recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
