package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// throttleRate halves a MEDIUM-risk caller's pace to one request every
	// two seconds with a small burst allowance.
	throttleRate  = rate.Limit(0.5)
	throttleBurst = 2

	throttleMaxEntries = 10000
	throttleStaleAfter = 10 * time.Minute
)

// throttleTable keeps one token bucket per MEDIUM-risk caller. Entries are
// created on demand and swept when the table grows past its cap.
type throttleTable struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newThrottleTable() *throttleTable {
	return &throttleTable{entries: make(map[string]*throttleEntry)}
}

// Allow reports whether the caller's token bucket admits one request now.
func (t *throttleTable) Allow(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entries[key]
	if e == nil {
		if len(t.entries) >= throttleMaxEntries {
			t.sweepLocked(now)
		}
		e = &throttleEntry{limiter: rate.NewLimiter(throttleRate, throttleBurst)}
		t.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Forget drops a caller's bucket, restoring its full burst allowance.
func (t *throttleTable) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// sweepLocked drops entries idle longer than the stale cutoff. Caller holds
// the table lock.
func (t *throttleTable) sweepLocked(now time.Time) {
	for key, e := range t.entries {
		if now.Sub(e.lastSeen) > throttleStaleAfter {
			delete(t.entries, key)
		}
	}
}
