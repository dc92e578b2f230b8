package custody

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Static is a KeyCustodian over a fixed in-process private key. It trades
// the sealed custodian's per-operation key discipline for simplicity; use
// it for tests and local development, not for unattended agents holding
// real funds.
type Static struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// NewStatic parses a hex-encoded private key (with or without the "0x"
// prefix) into a static custodian.
func NewStatic(privateKeyHex string) (*Static, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Static{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// Address returns the signing identity's address.
func (s *Static) Address() string {
	return s.address
}

// Sign signs a 32-byte digest and returns a 65-byte r||s||v signature with
// v in {27, 28}.
func (s *Static) Sign(_ context.Context, digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
