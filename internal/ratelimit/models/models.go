// Package models defines the rate limiter's decision and key types.
package models

import (
	"time"
)

// Layer names the two enforcement layers sharing the limiter algorithm.
type Layer string

const (
	// LayerGateway is the coarse identity-level limit applied to all
	// traffic before endpoint limits are consulted.
	LayerGateway Layer = "gateway"
	// LayerEndpoint is the fine-grained (identity, endpoint) limit.
	LayerEndpoint Layer = "endpoint"
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Admitted bool `json:"admitted"`
	Blocked  bool `json:"blocked"`
	// RetryAfter is set when the request is denied: time remaining on an
	// active block, or the full block duration when this request
	// triggered one.
	RetryAfter   time.Duration `json:"retry_after,omitempty"`
	CurrentCount int           `json:"current_count"`
	Limit        int           `json:"limit"`
	// Layer records which enforcement layer produced the decision.
	Layer  Layer  `json:"layer,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Remaining reports how many requests the caller has left in the window.
func (d Decision) Remaining() int {
	if rem := d.Limit - d.CurrentCount; rem > 0 {
		return rem
	}
	return 0
}

// Block reasons recorded on window state and surfaced in decisions.
const (
	ReasonRateLimitExceeded = "rate limit exceeded"
	ReasonBlocked           = "temporarily blocked due to rate limit violations"
)
