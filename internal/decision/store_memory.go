package decision

import (
	"context"
	"sync"
	"time"

	"vaultgate/internal/policy"
)

const defaultCapacity = 10000

// InMemoryStore keeps decision records in a bounded ring. It backs the demo
// deployment and tests; durable storage belongs to the external collaborator.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
}

// NewInMemoryStore creates a store bounded at capacity records; the oldest
// records are evicted first. capacity <= 0 selects the default.
func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &InMemoryStore{capacity: capacity}
}

// Append persists one decision record, evicting the oldest when full.
func (s *InMemoryStore) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if len(s.records) > s.capacity {
		s.records = s.records[len(s.records)-s.capacity:]
	}
	return nil
}

// ListRecent returns up to limit records for an identity key, newest-first.
func (s *InMemoryStore) ListRecent(ctx context.Context, identityKey string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].Identity.Key() == identityKey {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// ListWindow returns records for (endpoint, class) since the cutoff,
// newest-first.
func (s *InMemoryStore) ListWindow(ctx context.Context, endpoint string, class policy.AccountClass, since time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if rec.Timestamp.Before(since) {
			continue
		}
		if rec.Endpoint == endpoint && rec.AccountClass == class {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Len reports the number of retained records. Used by admin metrics.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
