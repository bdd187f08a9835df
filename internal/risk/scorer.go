package risk

import (
	"fmt"
	"net/http"
	"time"

	"vaultgate/internal/policy"
)

// Rule trigger thresholds. Counts strictly above a threshold add that rule's
// class weight to the score.
const (
	highRateWindow      = 5 * time.Minute
	highRateThreshold   = 20
	violationThreshold  = 2
	sensitiveThreshold  = 3
	failedAuthThreshold = 2
)

// Status floors applied after rule evaluation: a single bad response elevates
// the effective score before repeated-offense rules trigger, never lowers it.
const (
	serverErrorFloor = 80
	clientErrorFloor = 45
)

// Scorer evaluates a caller's recent decision history against the policy's
// per-class rule weights. Stateless; safe for concurrent use.
type Scorer struct {
	policy *policy.Policy
}

// NewScorer builds a scorer over the loaded policy tables.
func NewScorer(p *policy.Policy) *Scorer {
	return &Scorer{policy: p}
}

// Score computes the risk assessment for a caller of the given class from
// its recent decision events. Deterministic: identical inputs yield
// identical output, and a history triggering a superset of rules never
// scores lower.
func (s *Scorer) Score(class policy.AccountClass, recent []Event, now time.Time) Assessment {
	weights := s.policy.Weights(class)

	score := 0
	factors := []Factor{}

	// Rule 1: high request rate in the trailing five minutes.
	rateCutoff := now.Add(-highRateWindow)
	recentCount := 0
	for _, e := range recent {
		if e.Timestamp.After(rateCutoff) {
			recentCount++
		}
	}
	if recentCount > highRateThreshold {
		score += weights.HighRequestRate
		factors = append(factors, Factor{
			Name:         "High request rate",
			Contribution: weights.HighRequestRate,
			Detail:       fmt.Sprintf("%d requests in last 5 minutes", recentCount),
		})
	}

	// Rule 2: repeated rate-limit violations across the full history window.
	violations := 0
	for _, e := range recent {
		if e.Blocked || e.StatusCode == http.StatusTooManyRequests {
			violations++
		}
	}
	if violations > violationThreshold {
		score += weights.RateLimitViolation
		factors = append(factors, Factor{
			Name:         "Repeated rate-limit violations",
			Contribution: weights.RateLimitViolation,
			Detail:       fmt.Sprintf("%d rate limit hits detected", violations),
		})
	}

	// Rule 3: repeated access to sensitive (funds-movement) endpoints.
	sensitive := 0
	for _, e := range recent {
		if s.policy.IsSensitive(e.Endpoint) {
			sensitive++
		}
	}
	if sensitive > sensitiveThreshold {
		score += weights.SensitiveEndpoint
		factors = append(factors, Factor{
			Name:         "Repeated sensitive endpoint access",
			Contribution: weights.SensitiveEndpoint,
			Detail:       fmt.Sprintf("%d accesses to sensitive endpoints", sensitive),
		})
	}

	// Rule 4: failed authentication attempts.
	failedAuth := 0
	for _, e := range recent {
		if e.StatusCode == http.StatusUnauthorized {
			failedAuth++
		}
	}
	if failedAuth > failedAuthThreshold {
		score += weights.FailedAuth
		factors = append(factors, Factor{
			Name:         "Failed authentication attempts",
			Contribution: weights.FailedAuth,
			Detail:       fmt.Sprintf("%d failed auth attempts", failedAuth),
		})
	}

	if score > maxScore {
		score = maxScore
	}

	return Assessment{
		Score:             score,
		Level:             LevelFor(score),
		RecommendedAction: ActionFor(score),
		Factors:           factors,
	}
}

// EffectiveScore raises a rule-derived score to the status floor for the
// request's own outcome: 80 for server errors, 45 for client errors. The
// floor never lowers a rule-derived score.
func EffectiveScore(ruleScore, statusCode int) int {
	floor := 0
	switch {
	case statusCode >= http.StatusInternalServerError:
		floor = serverErrorFloor
	case statusCode >= http.StatusBadRequest:
		floor = clientErrorFloor
	}
	if floor > ruleScore {
		return floor
	}
	if ruleScore > maxScore {
		return maxScore
	}
	return ruleScore
}

// Apply returns an assessment with the status floor applied, re-deriving
// level and action so they stay pure functions of the final score. When the
// floor wins, an explanatory factor carrying the status code is appended so
// the itemized breakdown still accounts for the full score.
func Apply(a Assessment, statusCode int) Assessment {
	effective := EffectiveScore(a.Score, statusCode)
	if effective == a.Score {
		return a
	}

	name := "Client error response"
	if statusCode >= http.StatusInternalServerError {
		name = "Server error response"
	}
	factors := make([]Factor, 0, len(a.Factors)+1)
	factors = append(factors, a.Factors...)
	factors = append(factors, Factor{
		Name:         name,
		Contribution: effective - a.Score,
		Detail:       fmt.Sprintf("status %d raised score to %d", statusCode, effective),
	})

	a.Factors = factors
	a.Score = effective
	a.Level = LevelFor(effective)
	a.RecommendedAction = ActionFor(effective)
	return a
}
