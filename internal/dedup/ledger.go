// Package dedup suppresses duplicate processing of redelivered messages by
// remembering recently seen message IDs for a retention window.
package dedup

import (
	"sync"
	"time"
)

// Ledger maps message IDs to their first-seen time. Entries live until a
// sweep evicts them; a present entry means "already processed or currently
// processing, drop duplicate deliveries".
type Ledger struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

func New() *Ledger {
	return &Ledger{
		seen: make(map[string]time.Time),
	}
}

// HasSeen reports whether messageID is present and not yet evicted.
func (l *Ledger) HasSeen(messageID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[messageID]
	return ok
}

// MarkSeen records messageID with the given arrival time. The arrival time is
// fixed at first mark; re-marking an already present ID does not refresh it.
func (l *Ledger) MarkSeen(messageID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[messageID]; ok {
		return
	}
	l.seen[messageID] = now
}

// SweepExpired removes every entry older than retention relative to now and
// returns the number of evicted entries. The caller runs this on a fixed
// interval of retention/2, so no entry outlives ~1.5x the window.
func (l *Ledger) SweepExpired(now time.Time, retention time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	cutoff := now.Add(-retention)
	for id, at := range l.seen {
		if at.Before(cutoff) {
			delete(l.seen, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}
