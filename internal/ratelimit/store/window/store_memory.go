// Package window implements the sliding-window state store behind the
// limiter. The algorithm (check block, prune, reject-without-counting,
// append) lives here so memory and Redis backends stay bit-compatible.
package window

import (
	"context"
	"sync"
	"time"

	"vaultgate/internal/policy"
	"vaultgate/internal/ratelimit/models"
)

// InMemoryStore keeps per-key sliding windows in process memory. State does
// not survive restarts: a restart resets all windows and blocks, which is a
// documented, accepted weakness of the single-process deployment.
type InMemoryStore struct {
	mu      sync.RWMutex
	windows map[string]*windowState
}

// windowState is the mutable state for one (identity, endpoint) key.
// Each key carries its own lock so a caller firing a burst serializes
// against itself without contending with other keys.
type windowState struct {
	mu           sync.Mutex
	timestamps   []time.Time
	blockedUntil time.Time
	blockReason  string
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{windows: make(map[string]*windowState)}
}

// CheckAndRecord runs the sliding-window algorithm for key atomically:
//
//  1. An active block rejects without recording a timestamp.
//  2. An expired block is cleared.
//  3. Timestamps older than the window are pruned.
//  4. A full window rejects, sets a block, and does NOT append the
//     triggering request (it is the one that caused the violation).
//  5. Otherwise the request is recorded and admitted.
func (s *InMemoryStore) CheckAndRecord(ctx context.Context, key string, cfg policy.RateLimitConfig, now time.Time) (*models.Decision, error) {
	w := s.getOrCreate(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.blockedUntil.IsZero() {
		if now.Before(w.blockedUntil) {
			return &models.Decision{
				Admitted:     false,
				Blocked:      true,
				RetryAfter:   w.blockedUntil.Sub(now),
				CurrentCount: len(w.timestamps),
				Limit:        cfg.MaxRequests,
				Reason:       w.blockReason,
			}, nil
		}
		w.blockedUntil = time.Time{}
		w.blockReason = ""
	}

	w.prune(now.Add(-cfg.Window))

	if len(w.timestamps) >= cfg.MaxRequests {
		w.blockedUntil = now.Add(cfg.BlockDuration)
		w.blockReason = models.ReasonBlocked
		return &models.Decision{
			Admitted:     false,
			Blocked:      true,
			RetryAfter:   cfg.BlockDuration,
			CurrentCount: len(w.timestamps),
			Limit:        cfg.MaxRequests,
			Reason:       models.ReasonRateLimitExceeded,
		}, nil
	}

	w.timestamps = append(w.timestamps, now)
	return &models.Decision{
		Admitted:     true,
		CurrentCount: len(w.timestamps),
		Limit:        cfg.MaxRequests,
	}, nil
}

// Reset clears window and block state for a key.
func (s *InMemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// CurrentCount returns the live request count for a key after pruning.
func (s *InMemoryStore) CurrentCount(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	s.mu.RLock()
	w := s.windows[key]
	s.mu.RUnlock()
	if w == nil {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now.Add(-window))
	return len(w.timestamps), nil
}

// prune drops timestamps at or before the cutoff. Caller holds w.mu.
func (w *windowState) prune(cutoff time.Time) {
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}

func (s *InMemoryStore) getOrCreate(key string) *windowState {
	s.mu.RLock()
	w := s.windows[key]
	s.mu.RUnlock()
	if w != nil {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w = s.windows[key]; w == nil {
		w = &windowState{}
		s.windows[key] = w
	}
	return w
}
