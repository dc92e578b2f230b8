// Package custody produces recoverable signatures over payment digests
// without exposing key material to the rest of the engine. The Sealed
// custodian sources its key from an external encrypted store for the
// duration of a single signing operation and wipes it afterwards.
package custody

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/axobase/agentpay"
	"github.com/axobase/agentpay/secret"
)

// signingKeyTag is the secret-store tag under which key material lives
// while a signing operation is in progress.
const signingKeyTag = "signing-key"

// keyTTL bounds how long fetched key material may sit in the store if a
// wipe is somehow skipped. The explicit deferred wipe is the primary
// cleanup; the TTL is the backstop.
const keyTTL = 30 * time.Second

// KeySource is the external encrypted-key collaborator. Decryption happens
// outside the engine; the source hands back a hex-encoded private key that
// the custodian holds only transiently.
type KeySource interface {
	PrivateKeyHex(ctx context.Context) (string, error)
}

// Sealed is a KeyCustodian that never retains key material between signing
// operations. Each Sign fetches the key, signs, and wipes — on every exit
// path.
type Sealed struct {
	source  KeySource
	store   *secret.Store
	address string
}

// NewSealed constructs a sealed custodian. The key is fetched once to
// derive the signing address, then wiped immediately.
func NewSealed(ctx context.Context, source KeySource, store *secret.Store) (*Sealed, error) {
	c := &Sealed{source: source, store: store}
	defer c.wipeKey()

	key, err := c.fetchKey(ctx)
	if err != nil {
		return nil, err
	}

	c.address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	return c, nil
}

// Address returns the signing identity's address.
func (c *Sealed) Address() string {
	return c.address
}

// Sign signs a 32-byte digest and returns a 65-byte r||s||v signature with
// v in {27, 28}. Key material is wiped from the secret store before Sign
// returns, regardless of outcome.
func (c *Sealed) Sign(ctx context.Context, digest [32]byte) (sig []byte, err error) {
	defer c.wipeKey()

	key, err := c.fetchKey(ctx)
	if err != nil {
		return nil, err
	}

	sig, err = crypto.Sign(digest[:], key)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	// Recovery id 0/1 becomes 27/28.
	sig[64] += 27
	return sig, nil
}

// fetchKey pulls the key from the external source through the secret store
// and parses it. Errors never include key bytes.
func (c *Sealed) fetchKey(ctx context.Context) (*ecdsa.PrivateKey, error) {
	hexKey, err := c.source.PrivateKeyHex(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agentpay.ErrKeyUnavailable, err)
	}
	hexKey = strings.TrimPrefix(hexKey, "0x")

	c.store.Put(signingKeyTag, []byte(hexKey), keyTTL)

	raw, ok := c.store.Get(signingKeyTag)
	if !ok {
		return nil, fmt.Errorf("%w: key material wiped before use", agentpay.ErrKeyUnavailable)
	}
	defer zero(raw)

	key, err := crypto.HexToECDSA(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: key material unparseable", agentpay.ErrKeyUnavailable)
	}
	return key, nil
}

func (c *Sealed) wipeKey() {
	c.store.Wipe(signingKeyTag)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
