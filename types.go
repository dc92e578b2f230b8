// Package agentpay implements the autonomous payment and settlement engine
// used by unattended agents to pay per-request for metered services. The
// engine answers 402 payment challenges with signed, time-boxed transfer
// authorizations and drives settlement of accepted payments to finality.
package agentpay

import (
	"math/big"
	"sync"
	"time"
)

// SchemeExact is the only supported payment scheme: the challenge names a
// fixed amount and the authorization transfers exactly that amount.
const SchemeExact = "exact"

// PaymentRequirement is the structured form of a 402 challenge. It is parsed
// once per challenge and never mutated afterwards.
type PaymentRequirement struct {
	Scheme            string `json:"scheme"`
	NetworkID         string `json:"networkId"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Beneficiary       string `json:"beneficiary"`
	USDCContract      string `json:"usdcContract"`
	ValidForSeconds   int64  `json:"validForSeconds,omitempty"`
}

// Amount parses the required amount (minor units) as a big integer.
func (r *PaymentRequirement) Amount() (*big.Int, bool) {
	return new(big.Int).SetString(r.MaxAmountRequired, 10)
}

// Authorization is a signed, single-use, time-boxed transfer authorization.
// The nonce is the uniqueness key; ReplayGuard holds it for five minutes
// after issuance regardless of outcome.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	V           uint8  `json:"v"`
	R           string `json:"r"`
	S           string `json:"s"`
}

// Evidence is the proof of payment submitted to the settlement facilitator.
// It is owned by the SettlementTracker until confirmed, failed, or cached
// for reprocessing; it is never silently dropped.
type Evidence struct {
	ID            string         `json:"id"`
	TxHash        string         `json:"txHash"`
	NetworkID     string         `json:"networkId"`
	Authorization *Authorization `json:"authorization"`
	CapturedAt    time.Time      `json:"capturedAt"`
}

// SettlementStatus is the facilitator's view of a settlement.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
)

// PaymentResponse is the decoded X-PAYMENT-RESPONSE header returned by a
// provider after a paid request.
type PaymentResponse struct {
	Status string `json:"status"`
	TxHash string `json:"txHash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Payment response error reasons a provider may return.
const (
	PaymentErrorFundsExceeded = "funds_exceeded"
	PaymentErrorInvalid       = "invalid"
)

// Quote is one provider's price and affordability assessment for a pending
// request. Quotes are recomputed fresh per request; prices and balance drift
// too quickly for caching.
type Quote struct {
	Provider    string
	Priority    int
	Cost        *big.Int
	Available   bool
	Reason      string
	Requirement *PaymentRequirement // set for protocol-native providers
}

// Receipt is emitted to the external ledger after every completed payment.
type Receipt struct {
	ID       string    `json:"id"`
	Provider string    `json:"provider"`
	Resource string    `json:"resource"`
	Amount   string    `json:"amount"`
	TxHash   string    `json:"txHash"`
	IssuedAt time.Time `json:"issuedAt"`
}

// AlertLevel classifies a balance threshold crossing.
type AlertLevel string

const (
	AlertLow      AlertLevel = "low"
	AlertCritical AlertLevel = "critical"
)

// BalanceAlert is emitted to the ledger when a configured balance threshold
// is crossed. It is advisory only; the signer performs its own fresh balance
// check per payment.
type BalanceAlert struct {
	Level     AlertLevel `json:"level"`
	Balance   string     `json:"balance"`
	Threshold string     `json:"threshold"`
	At        time.Time  `json:"at"`
}

// AnomalyRecord is the warning evidence written to the ledger when a
// requested amount deviates excessively from the historical average.
type AnomalyRecord struct {
	Resource     string    `json:"resource"`
	Amount       string    `json:"amount"`
	Average      string    `json:"average"`
	DeviationPct float64   `json:"deviationPct"`
	At           time.Time `json:"at"`
}

// BalanceState holds the agent's last known balances in minor units. The
// BalanceMonitor is the sole writer; everything else reads snapshots.
type BalanceState struct {
	mu          sync.RWMutex
	token       *big.Int
	native      *big.Int
	refreshedAt time.Time
}

// NewBalanceState returns a state with both balances at zero.
func NewBalanceState() *BalanceState {
	return &BalanceState{token: new(big.Int), native: new(big.Int)}
}

// Set replaces both balances. Copies are taken so callers keep ownership.
func (b *BalanceState) Set(token, native *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = new(big.Int).Set(token)
	b.native = new(big.Int).Set(native)
	b.refreshedAt = time.Now()
}

// Token returns a copy of the fungible-token balance.
func (b *BalanceState) Token() *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.token)
}

// Native returns a copy of the native-gas balance.
func (b *BalanceState) Native() *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.native)
}

// RefreshedAt reports when the balances were last read from the network.
func (b *BalanceState) RefreshedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.refreshedAt
}
