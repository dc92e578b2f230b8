package agentpay

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger records everything in memory and serves a configurable
// historical average.
type fakeLedger struct {
	mu        sync.Mutex
	receipts  []*Receipt
	alerts    []*BalanceAlert
	anomalies []*AnomalyRecord
	average   *big.Int
	avgErr    error
}

func (l *fakeLedger) RecordReceipt(_ context.Context, r *Receipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receipts = append(l.receipts, r)
	return nil
}

func (l *fakeLedger) RecordAlert(_ context.Context, a *BalanceAlert) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, a)
	return nil
}

func (l *fakeLedger) RecordAnomaly(_ context.Context, a *AnomalyRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.anomalies = append(l.anomalies, a)
	return nil
}

func (l *fakeLedger) AverageCost(context.Context, string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.average, l.avgErr
}

func (l *fakeLedger) receiptCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.receipts)
}

// fakeReader serves fixed balances and a fixed domain separator.
type fakeReader struct {
	domain    [32]byte
	token     *big.Int
	native    *big.Int
	tokenErr  error
	nativeErr error
}

func (r *fakeReader) DomainSeparator(context.Context, string) ([32]byte, error) {
	return r.domain, nil
}

func (r *fakeReader) TokenBalance(context.Context, string, string) (*big.Int, error) {
	return r.token, r.tokenErr
}

func (r *fakeReader) NativeBalance(context.Context, string) (*big.Int, error) {
	return r.native, r.nativeErr
}

// fakeFacilitator scripts submission failures and a status sequence.
type fakeFacilitator struct {
	mu          sync.Mutex
	submitFails int // fail the first N submissions
	submits     int
	statuses    []SettlementStatus // served in order; last value repeats
	statusErrs  []error            // aligned with statuses; nil entries succeed
	polls       int
}

func (f *fakeFacilitator) SubmitEvidence(context.Context, *Evidence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submits <= f.submitFails {
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeFacilitator) Status(context.Context, string) (SettlementStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	if i < 0 {
		return SettlementPending, nil
	}
	if i < len(f.statusErrs) && f.statusErrs[i] != nil {
		return "", f.statusErrs[i]
	}
	return f.statuses[i], nil
}

func (f *fakeFacilitator) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeFacilitator) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}
