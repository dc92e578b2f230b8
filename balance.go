package agentpay

import (
	"context"
	"log/slog"
	"math/big"
	"time"
)

// DefaultMonitorInterval is how often balances are refreshed.
const DefaultMonitorInterval = 60 * time.Second

// BalanceMonitor periodically refreshes the shared BalanceState from the
// network and raises threshold alerts through the ledger. It never gates
// payment flows; the signer re-checks the balance per payment.
type BalanceMonitor struct {
	reader   NetworkReader
	state    *BalanceState
	ledger   Ledger
	logger   *slog.Logger
	address  string
	token    string
	interval time.Duration
	low      *big.Int
	critical *big.Int

	lastLevel AlertLevel
}

// NewBalanceMonitor wires a monitor. low and critical may be nil to disable
// the corresponding alert.
func NewBalanceMonitor(
	reader NetworkReader,
	state *BalanceState,
	ledger Ledger,
	address, token string,
	interval time.Duration,
	low, critical *big.Int,
	logger *slog.Logger,
) *BalanceMonitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceMonitor{
		reader:   reader,
		state:    state,
		ledger:   ledger,
		logger:   logger,
		address:  address,
		token:    token,
		interval: interval,
		low:      low,
		critical: critical,
	}
}

// Run refreshes balances on the configured interval until the context is
// cancelled. An immediate refresh happens before the first tick so the
// engine never starts against stale zeros.
func (m *BalanceMonitor) Run(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn("initial balance refresh failed", "err", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.Warn("balance refresh failed", "err", err)
			}
		}
	}
}

// Refresh re-reads both balances and emits an alert if a threshold was
// crossed since the last refresh.
func (m *BalanceMonitor) Refresh(ctx context.Context) error {
	token, err := m.reader.TokenBalance(ctx, m.token, m.address)
	if err != nil {
		return err
	}
	native, err := m.reader.NativeBalance(ctx, m.address)
	if err != nil {
		return err
	}
	m.state.Set(token, native)

	level, threshold := m.classify(token)
	if level != m.lastLevel && level != "" {
		alert := &BalanceAlert{
			Level:     level,
			Balance:   token.String(),
			Threshold: threshold.String(),
			At:        time.Now(),
		}
		if err := m.ledger.RecordAlert(ctx, alert); err != nil {
			m.logger.Warn("failed to record balance alert", "level", string(level), "err", err)
		}
		m.logger.Warn("balance threshold crossed",
			"level", string(level), "balance", token.String(), "threshold", threshold.String())
	}
	m.lastLevel = level
	return nil
}

// classify returns the most severe threshold the balance sits under, or an
// empty level when the balance is healthy.
func (m *BalanceMonitor) classify(balance *big.Int) (AlertLevel, *big.Int) {
	if m.critical != nil && balance.Cmp(m.critical) <= 0 {
		return AlertCritical, m.critical
	}
	if m.low != nil && balance.Cmp(m.low) <= 0 {
		return AlertLow, m.low
	}
	return "", nil
}
