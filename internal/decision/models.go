// Package decision defines the structured record every inbound request
// produces, and the boundary to the logging/analytics collaborator that
// stores and serves those records.
package decision

import (
	"time"

	"github.com/google/uuid"

	"vaultgate/internal/identity"
	"vaultgate/internal/policy"
	"vaultgate/internal/risk"
)

// Record is the immutable outcome of one gateway decision. Created once per
// inbound request, handed to the logging collaborator, never mutated.
type Record struct {
	ID           string                  `json:"id"`
	Identity     identity.CallerIdentity `json:"identity"`
	AccountClass policy.AccountClass     `json:"account_class"`
	Endpoint     string                  `json:"endpoint"`
	Method       string                  `json:"method"`
	StatusCode   int                     `json:"status_code"`
	Admitted     bool                    `json:"admitted"`
	Blocked      bool                    `json:"blocked"`
	Reason       string                  `json:"reason,omitempty"`
	Risk         risk.Assessment         `json:"risk"`
	Timestamp    time.Time               `json:"timestamp"`
}

// NewRecord stamps a record with a fresh id.
func NewRecord(rec Record) Record {
	rec.ID = uuid.NewString()
	return rec
}

// RiskEvent projects the record onto the slice the risk scorer consumes.
func (r Record) RiskEvent() risk.Event {
	return risk.Event{
		Timestamp:  r.Timestamp,
		Endpoint:   r.Endpoint,
		StatusCode: r.StatusCode,
		Blocked:    r.Blocked,
	}
}

// RiskEvents maps a record history onto scorer events, preserving order.
func RiskEvents(records []Record) []risk.Event {
	out := make([]risk.Event, len(records))
	for i, r := range records {
		out[i] = r.RiskEvent()
	}
	return out
}
