package agentpay

import (
	"fmt"
	"sync"
	"time"
)

// DefaultReplayWindow is how long an issued nonce stays reserved. A consumed
// authorization expires from the guard after this window regardless of
// outcome; the on-chain validity window is always shorter.
const DefaultReplayWindow = 5 * time.Minute

// ReplayGuard tracks in-flight authorization nonces to prevent reuse. There
// is exactly one guard per agent process, shared by all payment flows.
type ReplayGuard struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewReplayGuard returns a guard with the default five-minute window.
func NewReplayGuard() *ReplayGuard {
	return NewReplayGuardWithWindow(DefaultReplayWindow)
}

// NewReplayGuardWithWindow returns a guard with a custom reservation window.
func NewReplayGuardWithWindow(window time.Duration) *ReplayGuard {
	return &ReplayGuard{
		expiry: make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Reserve marks a nonce as in flight. It fails with ErrNonceReused if the
// nonce is already reserved and unexpired. Nonces are 16 random bytes per
// authorization; a reuse here signals an RNG or clock fault, not contention.
func (g *ReplayGuard) Reserve(nonce string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, exists := g.expiry[nonce]; exists && now.Before(exp) {
		return fmt.Errorf("%w: %s", ErrNonceReused, nonce)
	}
	g.expiry[nonce] = now.Add(g.window)
	g.cleanupLocked(now)
	return nil
}

// Release drops a reservation early. Used when signing fails after the
// nonce was reserved, so an aborted flow leaves the guard unchanged.
func (g *ReplayGuard) Release(nonce string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.expiry, nonce)
}

// Len reports the number of live reservations.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleanupLocked(g.now())
	return len(g.expiry)
}

// cleanupLocked removes expired reservations. Must be called with the lock
// held.
func (g *ReplayGuard) cleanupLocked(now time.Time) {
	for nonce, exp := range g.expiry {
		if now.After(exp) {
			delete(g.expiry, nonce)
		}
	}
}
