// Package secret provides an in-memory, zeroable store for secret byte
// sequences. Each entry has exactly one canonical owner inside the store;
// accessors only ever receive copies. Entries can auto-wipe after a TTL and
// the whole store can be wiped on process termination signals.
package secret

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type entry struct {
	buf       []byte
	createdAt time.Time
	timer     *time.Timer
}

// Store is a tagged secret buffer store. Construct one per agent process
// and pass it explicitly; there is deliberately no package-level instance
// so tests can run against isolated stores.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Put stores an owned copy of b under tag, replacing (and wiping) any
// previous entry. If ttl > 0 the entry is wiped automatically once the TTL
// elapses.
func (s *Store) Put(tag string, b []byte, ttl time.Duration) {
	owned := make([]byte, len(b))
	copy(owned, b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.entries[tag]; exists {
		wipeEntry(old)
	}
	e := &entry{buf: owned, createdAt: time.Now()}
	if ttl > 0 {
		e.timer = time.AfterFunc(ttl, func() { s.Wipe(tag) })
	}
	s.entries[tag] = e
}

// Get returns a copy of the secret stored under tag. Mutating the returned
// slice has no effect on the stored bytes.
func (s *Store) Get(tag string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[tag]
	if !exists {
		return nil, false
	}
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out, true
}

// Wipe zeroes and removes the entry under tag. Wiping a missing tag is a
// no-op so cleanup paths can call it unconditionally.
func (s *Store) Wipe(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[tag]; exists {
		wipeEntry(e)
		delete(s.entries, tag)
	}
}

// WipeAll zeroes and removes every entry.
func (s *Store) WipeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tag, e := range s.entries {
		wipeEntry(e)
		delete(s.entries, tag)
	}
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// InstallExitWipe wipes the store when the process receives SIGINT or
// SIGTERM, then re-raises the signal so normal termination proceeds. The
// returned stop function removes the handler.
func (s *Store) InstallExitWipe() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		s.WipeAll()
		signal.Stop(ch)
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(sig)
		}
	}()

	return func() {
		signal.Stop(ch)
		close(ch)
	}
}

// wipeEntry overwrites the buffer and cancels any pending TTL timer. Must be
// called with the store lock held.
func wipeEntry(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	for i := range e.buf {
		e.buf[i] = 0
	}
	e.buf = nil
}
