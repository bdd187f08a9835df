package decision

import (
	"context"
	"time"

	"vaultgate/internal/policy"
)

// Store is the logging/analytics collaborator boundary. The enforcement core
// appends records fire-and-forget and reads history back for risk scoring
// and policy simulation.
//
// ListRecent returns records newest-first; the risk scorer's rules are
// order-independent aggregates, but every call site sees the same ordering.
type Store interface {
	// Append persists one decision record.
	Append(ctx context.Context, rec Record) error

	// ListRecent returns up to limit records for an identity key,
	// newest-first.
	ListRecent(ctx context.Context, identityKey string, limit int) ([]Record, error)

	// ListWindow returns all records for (endpoint, class) with
	// Timestamp >= since, used by the policy simulator.
	ListWindow(ctx context.Context, endpoint string, class policy.AccountClass, since time.Time) ([]Record, error)
}
