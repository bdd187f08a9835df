// Package simulation answers "what would this policy have done" by replaying
// the limiter and risk aggregates over historical decision records. It is
// strictly read-only: no limiter, block, or record state is touched.
package simulation

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"vaultgate/internal/decision"
	"vaultgate/internal/policy"
	dErrors "vaultgate/pkg/domain-errors"
)

// historyWindow is the trailing slice of traffic a simulation replays.
const historyWindow = 60 * time.Minute

// Impact buckets for a simulation result.
const (
	ImpactLow    = "LOW"
	ImpactMedium = "MEDIUM"
	ImpactHigh   = "HIGH"
)

// Impact thresholds on the worse of the throttled and restricted
// percentages.
const (
	impactHighPct   = 30.0
	impactMediumPct = 10.0
)

// Fallback severities for records that predate risk scoring or carry a zero
// score: derive a floor from the outcome alone.
const (
	severityBlocked     = 95
	severityRateLimited = 70
	severityServerError = 85
	severityClientError = 60
)

// CandidatePolicy is the hypothetical policy an operator wants to evaluate.
type CandidatePolicy struct {
	AccountClass  policy.AccountClass `json:"account_class"`
	Endpoint      string              `json:"endpoint"`
	RateLimit     int                 `json:"rate_limit"`
	RiskThreshold int                 `json:"risk_threshold"`
}

// Validate rejects candidates the simulator cannot evaluate meaningfully.
func (c CandidatePolicy) Validate() error {
	if !c.AccountClass.IsValid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown account class %q", c.AccountClass)
	}
	if c.Endpoint == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "endpoint is required")
	}
	if c.RateLimit <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "rate limit must be positive")
	}
	if c.RiskThreshold < 0 || c.RiskThreshold > 100 {
		return dErrors.New(dErrors.CodeInvalidInput, "risk threshold must be between 0 and 100")
	}
	return nil
}

// Result estimates the blast radius of a candidate policy over the replayed
// window.
type Result struct {
	AffectedCallers     int     `json:"affected_callers"`
	ThrottledPercentage float64 `json:"throttled_percentage"`
	RestrictedCallers   int     `json:"restricted_callers"`
	EstimatedImpact     string  `json:"estimated_impact"`
	WindowMinutes       int     `json:"window_minutes"`
	TotalRequests       int     `json:"total_requests"`
}

// endpointAliases maps legacy route spellings operators still type into the
// canonical endpoints records are stored under.
var endpointAliases = map[string]string{
	"/payment":   policy.EndpointTransfer,
	"/payments":  policy.EndpointTransfer,
	"/transfer":  policy.EndpointTransfer,
	"/balance":   policy.EndpointBalance,
	"/transfers": policy.EndpointTransfer,
}

// NormalizeEndpoint resolves a candidate endpoint to its canonical form.
func NormalizeEndpoint(endpoint string) string {
	if canonical, ok := endpointAliases[endpoint]; ok {
		return canonical
	}
	return endpoint
}

// Simulator replays history from the decision store.
type Simulator struct {
	decisions decision.Store
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Simulator)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

func New(decisions decision.Store, opts ...Option) *Simulator {
	s := &Simulator{
		decisions: decisions,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type callerStats struct {
	requestCount int
	maxRisk      int
}

// Simulate estimates the impact of a candidate policy over the trailing
// hour of traffic for its (endpoint, account class) pair.
func (s *Simulator) Simulate(ctx context.Context, candidate CandidatePolicy) (Result, error) {
	if err := candidate.Validate(); err != nil {
		return Result{}, err
	}
	endpoint := NormalizeEndpoint(candidate.Endpoint)

	now := s.now()
	since := now.Add(-historyWindow)
	records, err := s.decisions.ListWindow(ctx, endpoint, candidate.AccountClass, since)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load historical records")
	}

	callers := make(map[string]*callerStats)
	totalRequests := 0
	for _, rec := range records {
		totalRequests++
		key := rec.Identity.Key()
		st := callers[key]
		if st == nil {
			st = &callerStats{}
			callers[key] = st
		}
		st.requestCount++
		if risk := effectiveRisk(rec); risk > st.maxRisk {
			st.maxRisk = risk
		}
	}

	result := Result{
		AffectedCallers: len(callers),
		WindowMinutes:   int(historyWindow.Minutes()),
		TotalRequests:   totalRequests,
		EstimatedImpact: ImpactLow,
	}
	if len(callers) == 0 {
		s.logger.InfoContext(ctx, "simulation over empty window",
			"endpoint", endpoint, "class", candidate.AccountClass)
		return result, nil
	}

	throttled := 0
	restricted := 0
	for _, st := range callers {
		if st.requestCount > candidate.RateLimit {
			throttled++
		}
		if st.maxRisk >= candidate.RiskThreshold {
			restricted++
		}
	}

	throttledPct := 100 * float64(throttled) / float64(len(callers))
	// Capacity estimate: when the window's total traffic exceeds what the
	// candidate would grant all callers combined, the excess fraction of
	// requests would be throttled even if no single caller stands out.
	if capacity := len(callers) * candidate.RateLimit; totalRequests > capacity {
		excessPct := 100 * float64(totalRequests-capacity) / float64(totalRequests)
		if excessPct > throttledPct {
			throttledPct = excessPct
		}
	}
	restrictedPct := 100 * float64(restricted) / float64(len(callers))

	result.ThrottledPercentage = round1(throttledPct)
	result.RestrictedCallers = restricted
	result.EstimatedImpact = impactFor(math.Max(throttledPct, restrictedPct))
	return result, nil
}

// effectiveRisk is the stored rule score raised to the outcome's fallback
// severity, so pre-scoring records still register.
func effectiveRisk(rec decision.Record) int {
	severity := 0
	switch {
	case rec.Blocked:
		severity = severityBlocked
	case rec.StatusCode == http.StatusTooManyRequests:
		severity = severityRateLimited
	case rec.StatusCode >= http.StatusInternalServerError:
		severity = severityServerError
	case rec.StatusCode >= http.StatusBadRequest:
		severity = severityClientError
	}
	if rec.Risk.Score > severity {
		return rec.Risk.Score
	}
	return severity
}

func impactFor(worstPct float64) string {
	switch {
	case worstPct >= impactHighPct:
		return ImpactHigh
	case worstPct >= impactMediumPct:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
