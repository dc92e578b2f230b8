package agentpay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/axobase/agentpay/evm"
)

// validAfterSkew is subtracted from the current time when opening the
// validity window, so verifiers with slightly behind clocks still accept a
// freshly issued authorization.
const validAfterSkew = 60 * time.Second

// nonceBytes is the length of the random authorization nonce. Collision
// probability at 16 bytes is negligible; the ReplayGuard treats an actual
// collision as an RNG fault.
const nonceBytes = 16

// AuthorizationSigner builds and signs transfer authorizations against a
// specific recipient and amount. It re-checks the balance before every
// signature and reserves the nonce before constructing the digest.
type AuthorizationSigner struct {
	custodian KeyCustodian
	reader    NetworkReader
	replay    *ReplayGuard
	balance   *BalanceState
	token     string // default token contract when the challenge omits one
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthorizationSigner wires a signer from its collaborators. token is the
// default token contract used when a challenge does not name one.
func NewAuthorizationSigner(
	custodian KeyCustodian,
	reader NetworkReader,
	replay *ReplayGuard,
	balance *BalanceState,
	token string,
	logger *slog.Logger,
) *AuthorizationSigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationSigner{
		custodian: custodian,
		reader:    reader,
		replay:    replay,
		balance:   balance,
		token:     token,
		logger:    logger,
		now:       time.Now,
	}
}

// SignAuthorization produces a signed authorization satisfying the given
// requirement. The balance check happens strictly before the nonce is
// reserved, and the nonce is reserved strictly before the signature is
// constructed. A failed signing releases the reservation, leaving the
// ReplayGuard unchanged.
func (s *AuthorizationSigner) SignAuthorization(ctx context.Context, req *PaymentRequirement) (*Authorization, error) {
	amount, ok := req.Amount()
	if !ok {
		return nil, fmt.Errorf("%w: unparseable amount %q", ErrMalformedChallenge, req.MaxAmountRequired)
	}

	if balance := s.balance.Token(); balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}
	nonceHex := hex.EncodeToString(nonce)
	if err := s.replay.Reserve(nonceHex); err != nil {
		// Fresh randomness collided with a live reservation: an RNG or
		// clock fault, not a recoverable condition.
		return nil, err
	}

	auth, err := s.buildAndSign(ctx, req, amount, nonce, nonceHex)
	if err != nil {
		s.replay.Release(nonceHex)
		return nil, err
	}
	return auth, nil
}

func (s *AuthorizationSigner) buildAndSign(
	ctx context.Context,
	req *PaymentRequirement,
	amount *big.Int,
	nonce []byte,
	nonceHex string,
) (*Authorization, error) {
	now := s.now()
	validAfter := big.NewInt(now.Add(-validAfterSkew).Unix())
	validBefore := big.NewInt(now.Add(time.Duration(req.ValidForSeconds) * time.Second).Unix())

	token := req.USDCContract
	if token == "" {
		token = s.token
	}
	domainSeparator, err := s.reader.DomainSeparator(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("domain separator read failed: %w", err)
	}

	from := common.HexToAddress(s.custodian.Address())
	to := common.HexToAddress(req.Beneficiary)
	digest, err := evm.TransferDigest(domainSeparator, from, to, amount, validAfter, validBefore, nonce)
	if err != nil {
		return nil, fmt.Errorf("digest construction failed: %w", err)
	}

	sig, err := s.custodian.Sign(ctx, digest)
	if err != nil {
		return nil, err
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("custodian returned %d-byte signature, want 65", len(sig))
	}

	s.logger.Debug("authorization signed",
		"to", to.Hex(),
		"value", amount.String(),
		"validBefore", validBefore.String(),
	)

	return &Authorization{
		From:        from.Hex(),
		To:          to.Hex(),
		Value:       amount.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonceHex,
		V:           sig[64],
		R:           hex.EncodeToString(sig[:32]),
		S:           hex.EncodeToString(sig[32:64]),
	}, nil
}

func newNonce() ([]byte, error) {
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
