package policy

import "time"

// Endpoint paths with explicit limit rows.
const (
	EndpointBalance  = "/api/balance"
	EndpointTransfer = "/api/transfer"
	EndpointPayment  = "/api/payment"
)

// Default returns the shipped policy tables. Limits and weights follow the
// production enforcement config: SAVINGS is conservative, CURRENT tolerates
// higher throughput, ANONYMOUS is the most restrictive.
func Default() *Policy {
	minute := time.Minute

	p, err := New(map[AccountClass]ClassPolicy{
		ClassSavings: {
			Gateway: RateLimitConfig{MaxRequests: 100, Window: minute, BlockDuration: 5 * time.Minute},
			Endpoints: map[string]RateLimitConfig{
				EndpointBalance:  {MaxRequests: 10, Window: minute, BlockDuration: 15 * time.Minute},
				EndpointTransfer: {MaxRequests: 3, Window: minute, BlockDuration: 15 * time.Minute},
			},
			Default: RateLimitConfig{MaxRequests: 5, Window: minute, BlockDuration: 15 * time.Minute},
			Weights: RiskWeights{HighRequestRate: 30, RateLimitViolation: 25, SensitiveEndpoint: 20, FailedAuth: 40},
		},
		ClassCurrent: {
			Gateway: RateLimitConfig{MaxRequests: 100, Window: minute, BlockDuration: 5 * time.Minute},
			Endpoints: map[string]RateLimitConfig{
				EndpointBalance:  {MaxRequests: 20, Window: minute, BlockDuration: 15 * time.Minute},
				EndpointTransfer: {MaxRequests: 5, Window: minute, BlockDuration: 15 * time.Minute},
			},
			Default: RateLimitConfig{MaxRequests: 10, Window: minute, BlockDuration: 15 * time.Minute},
			Weights: RiskWeights{HighRequestRate: 15, RateLimitViolation: 15, SensitiveEndpoint: 10, FailedAuth: 30},
		},
		ClassAnonymous: {
			Gateway: RateLimitConfig{MaxRequests: 50, Window: minute, BlockDuration: 10 * time.Minute},
			Endpoints: map[string]RateLimitConfig{},
			Default:   RateLimitConfig{MaxRequests: 3, Window: minute, BlockDuration: 15 * time.Minute},
			Weights:   RiskWeights{HighRequestRate: 35, RateLimitViolation: 30, SensitiveEndpoint: 25, FailedAuth: 40},
		},
	}, []string{EndpointTransfer, EndpointPayment})
	if err != nil {
		// Shipped defaults are validated by tests; a failure here is a bug.
		panic(err)
	}
	return p
}
