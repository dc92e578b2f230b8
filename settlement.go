package agentpay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Settlement drive-loop defaults.
const (
	DefaultSubmitRetries = 5
	DefaultPollInterval  = 5 * time.Second
	DefaultPollMax       = 60
	DefaultPollTimeout   = 300 * time.Second
)

// SettlementOutcome is the terminal state of one tracked settlement.
type SettlementOutcome string

const (
	OutcomeConfirmed SettlementOutcome = "confirmed"
	OutcomeFailed    SettlementOutcome = "failed"
	// OutcomeAbandoned means the evidence could not be delivered or the
	// settlement never confirmed in time; the evidence stays cached for
	// reprocessing and is never silently dropped.
	OutcomeAbandoned SettlementOutcome = "abandoned"
)

// Settlement is the retained handle for one detached settlement flow. The
// caller's response path ends at Track; Wait is optional.
type Settlement struct {
	Evidence *Evidence

	done    chan struct{}
	outcome SettlementOutcome
	err     error
}

// Wait blocks until the settlement reaches a terminal outcome or the
// context is cancelled.
func (s *Settlement) Wait(ctx context.Context) (SettlementOutcome, error) {
	select {
	case <-s.done:
		return s.outcome, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Outcome returns the terminal outcome, or empty while still in flight.
func (s *Settlement) Outcome() SettlementOutcome {
	select {
	case <-s.done:
		return s.outcome
	default:
		return ""
	}
}

// SettlementTracker submits proof-of-payment evidence to the facilitator
// and polls the settlement to finality. Tracking runs detached from the
// caller; every outcome is recorded on the handle and receipted to the
// ledger so no background failure goes unobserved.
type SettlementTracker struct {
	facilitator FacilitatorClient
	ledger      Ledger
	logger      *slog.Logger

	submitRetries int
	pollInterval  time.Duration
	pollMax       int
	pollTimeout   time.Duration

	mu          sync.Mutex
	pending     map[string]*Evidence   // evidence id -> cached for reprocessing
	settlements map[string]*Settlement // evidence id -> retained handle

	wg    sync.WaitGroup
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSettlementTracker returns a tracker with the default retry and polling
// schedule.
func NewSettlementTracker(facilitator FacilitatorClient, ledger Ledger, logger *slog.Logger) *SettlementTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementTracker{
		facilitator:   facilitator,
		ledger:        ledger,
		logger:        logger,
		submitRetries: DefaultSubmitRetries,
		pollInterval:  DefaultPollInterval,
		pollMax:       DefaultPollMax,
		pollTimeout:   DefaultPollTimeout,
		pending:       make(map[string]*Evidence),
		settlements:   make(map[string]*Settlement),
		sleep:         sleepCtx,
	}
}

// Track registers evidence for the payment and drives it to finality in a
// detached goroutine. The returned handle is retained by the tracker and
// may optionally be awaited.
func (t *SettlementTracker) Track(provider, resource, networkID, txHash string, auth *Authorization) *Settlement {
	ev := &Evidence{
		ID:            uuid.New().String(),
		TxHash:        txHash,
		NetworkID:     networkID,
		Authorization: auth,
		CapturedAt:    time.Now(),
	}
	s := &Settlement{Evidence: ev, done: make(chan struct{})}

	t.mu.Lock()
	t.settlements[ev.ID] = s
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.pollTimeout+time.Minute)
		defer cancel()
		t.drive(ctx, s, provider, resource)
	}()
	return s
}

// Wait blocks until every tracked settlement has reached a terminal state.
// Intended for orderly shutdown and tests.
func (t *SettlementTracker) Wait() {
	t.wg.Wait()
}

// PendingCount reports how many pieces of evidence are cached for
// reprocessing.
func (t *SettlementTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// drive runs the full settlement flow for one piece of evidence.
func (t *SettlementTracker) drive(ctx context.Context, s *Settlement, provider, resource string) {
	ev := s.Evidence

	if err := t.submitEvidence(ctx, ev); err != nil {
		// Delivery exhausted: cache for later, warn, and stop. The service
		// was already rendered, so the caller is not failed.
		t.logger.Warn("evidence submission exhausted, caching for reprocessing",
			"evidence", ev.ID, "txHash", ev.TxHash, "err", err)
		t.finish(ctx, s, provider, resource, OutcomeAbandoned, fmt.Errorf("%w: %v", ErrEvidenceExhausted, err))
		return
	}

	outcome, err := t.pollToFinality(ctx, ev.TxHash)
	t.finish(ctx, s, provider, resource, outcome, err)
}

// submitEvidence posts evidence with bounded retries. Backoff grows as
// 1.5^attempt seconds; the bound is the attempt count, not wall clock.
func (t *SettlementTracker) submitEvidence(ctx context.Context, ev *Evidence) error {
	var lastErr error
	for attempt := 0; attempt < t.submitRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(time.Second) * math.Pow(1.5, float64(attempt)))
			if err := t.sleep(ctx, delay); err != nil {
				return err
			}
		}
		if err := t.facilitator.SubmitEvidence(ctx, ev); err != nil {
			lastErr = err
			t.logger.Debug("evidence submission attempt failed",
				"evidence", ev.ID, "attempt", attempt+1, "err", err)
			continue
		}
		return nil
	}
	return lastErr
}

// pollToFinality polls the facilitator status endpoint until the settlement
// confirms, fails, or the poll budget runs out. Transport errors are
// swallowed and retried; only an explicit failed status or exhaustion ends
// the loop early.
func (t *SettlementTracker) pollToFinality(ctx context.Context, txHash string) (SettlementOutcome, error) {
	deadline := time.Now().Add(t.pollTimeout)

	for attempt := 0; attempt < t.pollMax; attempt++ {
		if time.Now().After(deadline) {
			break
		}

		status, err := t.facilitator.Status(ctx, txHash)
		if err == nil {
			switch status {
			case SettlementConfirmed:
				return OutcomeConfirmed, nil
			case SettlementFailed:
				return OutcomeFailed, fmt.Errorf("%w: tx %s", ErrSettlementFailed, txHash)
			}
		} else {
			t.logger.Debug("settlement poll failed", "txHash", txHash, "err", err)
		}

		if err := t.sleep(ctx, t.pollInterval); err != nil {
			break
		}
	}

	return OutcomeAbandoned, fmt.Errorf("settlement for tx %s not confirmed within budget", txHash)
}

// finish records the terminal outcome on the handle and emits the receipt.
func (t *SettlementTracker) finish(ctx context.Context, s *Settlement, provider, resource string, outcome SettlementOutcome, err error) {
	s.outcome = outcome
	s.err = err

	if outcome == OutcomeAbandoned && err != nil {
		t.cachePending(s.Evidence)
	}

	receipt := &Receipt{
		ID:       s.Evidence.ID,
		Provider: provider,
		Resource: resource,
		Amount:   s.Evidence.Authorization.Value,
		TxHash:   s.Evidence.TxHash,
		IssuedAt: time.Now(),
	}
	if lerr := t.ledger.RecordReceipt(ctx, receipt); lerr != nil {
		t.logger.Warn("failed to record settlement receipt", "evidence", s.Evidence.ID, "err", lerr)
	}

	t.logger.Info("settlement finished",
		"evidence", s.Evidence.ID, "txHash", s.Evidence.TxHash, "outcome", string(outcome))
	close(s.done)
}

func (t *SettlementTracker) cachePending(ev *Evidence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[ev.ID] = ev
}

// ProcessPendingSettlements retries every cached piece of evidence once.
// Successfully delivered evidence leaves the pending map; the rest stays
// for the next pass. Returns the number of successes.
func (t *SettlementTracker) ProcessPendingSettlements(ctx context.Context) int {
	t.mu.Lock()
	batch := make([]*Evidence, 0, len(t.pending))
	for _, ev := range t.pending {
		batch = append(batch, ev)
	}
	t.mu.Unlock()

	delivered := 0
	for _, ev := range batch {
		if err := t.facilitator.SubmitEvidence(ctx, ev); err != nil {
			t.logger.Debug("pending evidence still undeliverable", "evidence", ev.ID, "err", err)
			continue
		}
		t.mu.Lock()
		delete(t.pending, ev.ID)
		t.mu.Unlock()
		delivered++
		t.logger.Info("pending evidence delivered", "evidence", ev.ID, "txHash", ev.TxHash)
	}
	return delivered
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
