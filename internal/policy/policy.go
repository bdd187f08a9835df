// Package policy holds the immutable enforcement configuration: per-class
// rate limit tables, risk rule weights, and the sensitive endpoint set.
// Loaded once at startup and validated before the gateway serves traffic.
package policy

import (
	"time"

	dErrors "vaultgate/pkg/domain-errors"
)

// AccountClass is the closed set of caller classes the gateway recognizes.
type AccountClass string

const (
	// ClassSavings: conservative retail accounts, tight limits and weights.
	ClassSavings AccountClass = "SAVINGS"
	// ClassCurrent: high-throughput business accounts.
	ClassCurrent AccountClass = "CURRENT"
	// ClassAnonymous: unauthenticated traffic, most restrictive.
	ClassAnonymous AccountClass = "ANONYMOUS"
)

// IsValid checks if the account class is one of the supported enum values.
func (c AccountClass) IsValid() bool {
	switch c {
	case ClassSavings, ClassCurrent, ClassAnonymous:
		return true
	}
	return false
}

// String returns the string representation.
func (c AccountClass) String() string {
	return string(c)
}

// ParseAccountClass maps a stored class string onto the enum, defaulting to
// SAVINGS (the conservative choice) for unknown or empty input.
func ParseAccountClass(s string) AccountClass {
	c := AccountClass(s)
	if !c.IsValid() {
		return ClassSavings
	}
	return c
}

// AllClasses enumerates every account class. Validation ranges over this so
// a class added to the enum without policy rows fails at load time.
func AllClasses() []AccountClass {
	return []AccountClass{ClassSavings, ClassCurrent, ClassAnonymous}
}

// ClassFor returns the account class for a caller: the parsed stored class
// for authenticated users, ANONYMOUS otherwise.
func ClassFor(authenticated bool, storedClass string) AccountClass {
	if !authenticated {
		return ClassAnonymous
	}
	return ParseAccountClass(storedClass)
}

// RateLimitConfig is one row of the rate limit table.
type RateLimitConfig struct {
	MaxRequests   int           `json:"max_requests"`
	Window        time.Duration `json:"window"`
	BlockDuration time.Duration `json:"block_duration"`
}

// Validate rejects rows the limiter must never see at request time.
func (c RateLimitConfig) Validate() error {
	if c.MaxRequests <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "max_requests must be positive")
	}
	if c.Window <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "window must be positive")
	}
	if c.BlockDuration <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "block_duration must be positive")
	}
	return nil
}

// RiskWeights are the per-class contributions of each risk rule.
type RiskWeights struct {
	HighRequestRate    int `json:"high_request_rate"`
	RateLimitViolation int `json:"rate_limit_violation"`
	SensitiveEndpoint  int `json:"sensitive_endpoint"`
	FailedAuth         int `json:"failed_auth"`
}

func (w RiskWeights) validate() error {
	if w.HighRequestRate < 0 || w.RateLimitViolation < 0 || w.SensitiveEndpoint < 0 || w.FailedAuth < 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "risk weights cannot be negative")
	}
	return nil
}

// ClassPolicy bundles everything the engine needs for one account class.
type ClassPolicy struct {
	// Gateway is the coarse identity-level limit applied to all traffic
	// for this class before endpoint limits are consulted.
	Gateway RateLimitConfig
	// Endpoints maps endpoint paths to fine-grained limits.
	Endpoints map[string]RateLimitConfig
	// Default applies to endpoints without an explicit row.
	Default RateLimitConfig
	// Weights drive the risk scorer for callers of this class.
	Weights RiskWeights
}

// Policy is the full enforcement configuration, immutable after New.
type Policy struct {
	classes   map[AccountClass]ClassPolicy
	sensitive map[string]struct{}
}

// New builds a Policy from explicit class tables and the sensitive endpoint
// set, validating every row. Missing classes or non-positive limits are
// configuration errors: the gateway must not start with them.
func New(classes map[AccountClass]ClassPolicy, sensitive []string) (*Policy, error) {
	for _, class := range AllClasses() {
		cp, ok := classes[class]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "missing policy for account class %s", class)
		}
		if err := cp.Gateway.Validate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "invalid gateway limit for class "+string(class))
		}
		if err := cp.Default.Validate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "invalid default limit for class "+string(class))
		}
		for endpoint, cfg := range cp.Endpoints {
			if err := cfg.Validate(); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "invalid limit for "+string(class)+" "+endpoint)
			}
		}
		if err := cp.Weights.validate(); err != nil {
			return nil, err
		}
	}
	for class := range classes {
		if !class.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown account class %q in policy", string(class))
		}
	}

	sens := make(map[string]struct{}, len(sensitive))
	for _, e := range sensitive {
		sens[e] = struct{}{}
	}
	return &Policy{classes: classes, sensitive: sens}, nil
}

// GatewayConfig returns the coarse identity-level limit for a class.
func (p *Policy) GatewayConfig(class AccountClass) RateLimitConfig {
	return p.classes[ParseAccountClass(string(class))].Gateway
}

// EndpointConfig returns the fine-grained limit for (class, endpoint).
// Unknown endpoints use the class default rather than failing the request.
func (p *Policy) EndpointConfig(class AccountClass, endpoint string) RateLimitConfig {
	cp := p.classes[ParseAccountClass(string(class))]
	if cfg, ok := cp.Endpoints[endpoint]; ok {
		return cfg
	}
	return cp.Default
}

// Weights returns the risk rule weights for a class.
func (p *Policy) Weights(class AccountClass) RiskWeights {
	return p.classes[ParseAccountClass(string(class))].Weights
}

// IsSensitive reports whether an endpoint is in the sensitive set
// (funds-movement endpoints).
func (p *Policy) IsSensitive(endpoint string) bool {
	_, ok := p.sensitive[endpoint]
	return ok
}

// SensitiveEndpoints returns the configured sensitive endpoint paths.
func (p *Policy) SensitiveEndpoints() []string {
	out := make([]string, 0, len(p.sensitive))
	for e := range p.sensitive {
		out = append(out, e)
	}
	return out
}
