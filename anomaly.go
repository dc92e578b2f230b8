package agentpay

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

// maxCostMultiple is the anomaly ceiling: a requested amount above this
// multiple of the historical average aborts the payment flow. Overriding it
// requires explicit operator intervention; the guard never auto-escalates.
const maxCostMultiple = 3

// AnomalyGuard rejects payments whose amount deviates excessively from the
// historical average cost supplied by the ledger.
type AnomalyGuard struct {
	ledger Ledger
	logger *slog.Logger
}

// NewAnomalyGuard returns a guard that records rejected amounts to the
// ledger.
func NewAnomalyGuard(ledger Ledger, logger *slog.Logger) *AnomalyGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnomalyGuard{ledger: ledger, logger: logger}
}

// Check validates a requested amount against the historical average for the
// resource. A nil or zero average means no history exists and no check is
// possible. On rejection a warning record is written to the ledger and
// ErrPriceAnomaly is returned; no authorization may be produced afterwards.
func (g *AnomalyGuard) Check(ctx context.Context, resource string, amount, average *big.Int) error {
	if average == nil || average.Sign() <= 0 {
		return nil
	}

	limit := new(big.Int).Mul(average, big.NewInt(maxCostMultiple))
	if amount.Cmp(limit) <= 0 {
		return nil
	}

	deviation := deviationPct(amount, average)
	record := &AnomalyRecord{
		Resource:     resource,
		Amount:       amount.String(),
		Average:      average.String(),
		DeviationPct: deviation,
		At:           time.Now(),
	}
	if err := g.ledger.RecordAnomaly(ctx, record); err != nil {
		g.logger.Warn("failed to record price anomaly", "resource", resource, "err", err)
	}
	g.logger.Warn("price anomaly: payment aborted",
		"resource", resource,
		"amount", amount.String(),
		"average", average.String(),
		"deviation_pct", deviation,
	)
	return fmt.Errorf("%w: amount %s exceeds %dx historical average %s",
		ErrPriceAnomaly, amount, maxCostMultiple, average)
}

// deviationPct computes (amount / average - 1) * 100.
func deviationPct(amount, average *big.Int) float64 {
	ratio := new(big.Float).Quo(new(big.Float).SetInt(amount), new(big.Float).SetInt(average))
	f, _ := ratio.Float64()
	return (f - 1) * 100
}
