package agentpay

import (
	"context"
	"math/big"
)

// Ledger is the external transaction-history collaborator. The engine emits
// receipts, alerts, and anomaly warnings to it and reads historical averages
// from it; it never stores history itself.
type Ledger interface {
	// RecordReceipt stores the receipt for a completed payment.
	RecordReceipt(ctx context.Context, r *Receipt) error

	// RecordAlert stores a balance threshold alert.
	RecordAlert(ctx context.Context, a *BalanceAlert) error

	// RecordAnomaly stores a price-anomaly warning record.
	RecordAnomaly(ctx context.Context, a *AnomalyRecord) error

	// AverageCost returns the historical average cost for a resource in
	// minor units. A nil or zero result means no history is available and
	// no anomaly check is possible.
	AverageCost(ctx context.Context, resource string) (*big.Int, error)
}

// NetworkReader is the read-only view of the settlement network. The engine
// only reads balances and the token contract's signing domain from it;
// submission and confirmation mechanics live behind the facilitator.
type NetworkReader interface {
	// DomainSeparator returns the EIP-712 domain separator published by the
	// token contract.
	DomainSeparator(ctx context.Context, tokenContract string) ([32]byte, error)

	// TokenBalance returns the holder's fungible-token balance in minor units.
	TokenBalance(ctx context.Context, tokenContract, holder string) (*big.Int, error)

	// NativeBalance returns the holder's native-gas balance.
	NativeBalance(ctx context.Context, holder string) (*big.Int, error)
}

// KeyCustodian produces signatures without ever exposing key material to the
// engine. Implementations may delegate to an external encrypted-key service;
// any transiently held key bytes must be wiped on every exit path.
type KeyCustodian interface {
	// Address returns the signing identity's address.
	Address() string

	// Sign signs a 32-byte digest and returns a 65-byte recoverable
	// signature (r || s || v, with v in {27, 28}).
	Sign(ctx context.Context, digest [32]byte) ([]byte, error)
}

// FacilitatorClient talks to the external settlement-confirmation service.
type FacilitatorClient interface {
	// SubmitEvidence posts proof-of-payment evidence for settlement.
	SubmitEvidence(ctx context.Context, ev *Evidence) error

	// Status reports the settlement status of a transaction.
	Status(ctx context.Context, txHash string) (SettlementStatus, error)
}

// NopLedger discards everything and reports no history. Useful for tests and
// for agents that run without an external ledger attached.
type NopLedger struct{}

func (NopLedger) RecordReceipt(context.Context, *Receipt) error { return nil }
func (NopLedger) RecordAlert(context.Context, *BalanceAlert) error { return nil }
func (NopLedger) RecordAnomaly(context.Context, *AnomalyRecord) error { return nil }
func (NopLedger) AverageCost(context.Context, string) (*big.Int, error) {
	return nil, nil
}
