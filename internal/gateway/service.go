// Package gateway composes the limiter, risk scorer, anomaly client and
// decision log into the per-request enforcement pipeline.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"vaultgate/internal/anomaly"
	"vaultgate/internal/decision"
	gwmetrics "vaultgate/internal/gateway/metrics"
	"vaultgate/internal/identity"
	"vaultgate/internal/policy"
	ratelimit "vaultgate/internal/ratelimit/service"
	"vaultgate/internal/risk"
)

const (
	// historyLimit bounds how much decision history feeds one risk score.
	historyLimit = 200

	// anomalyWindow is the observation window for feature extraction.
	anomalyWindow = 5 * time.Minute

	// anomalyBlockScore is the minimum external anomaly score treated as a
	// high-confidence signal worth escalating.
	anomalyBlockScore = 0.8

	// throttleRetryAfter is advertised to MEDIUM-risk callers whose token
	// bucket is empty.
	throttleRetryAfter = 2 * time.Second
)

// Deny reasons surfaced in verdicts and decision records.
const (
	ReasonRiskBlocked = "blocked due to elevated risk score"
	ReasonThrottled   = "throttled due to elevated risk score"
	ReasonAnomaly     = "blocked due to anomalous behavior"
)

// Predictor is the advisory anomaly scoring boundary. Implementations must
// degrade to a safe prediction instead of returning errors.
type Predictor interface {
	Predict(ctx context.Context, f anomaly.Features) anomaly.Prediction
}

// WindowState is the limiter view surfaced in rate limit response headers.
type WindowState struct {
	Limit     int
	Remaining int
}

// Verdict is the enforcement outcome for one inbound request.
type Verdict struct {
	Allowed    bool
	StatusCode int
	Reason     string
	RetryAfter time.Duration
	// Limiter carries the window state for response headers. Nil when the
	// limiter failed and the request was admitted fail-open.
	Limiter *WindowState
	Risk    risk.Assessment
}

// Stats are the coarse counters served by the admin metrics endpoint.
type Stats struct {
	TotalRequests  int64 `json:"total_requests"`
	DeniedRequests int64 `json:"denied_requests"`
	RateLimited    int64 `json:"rate_limited"`
	RiskBlocked    int64 `json:"risk_blocked"`
	Throttled      int64 `json:"throttled"`
	AnomalyBlocked int64 `json:"anomaly_blocked"`
	FailOpen       int64 `json:"fail_open"`
	DroppedRecords int64 `json:"dropped_records"`
}

// Service runs the enforcement pipeline.
type Service struct {
	limiter   *ratelimit.Service
	decisions decision.Store
	publisher *decision.Publisher
	scorer    *risk.Scorer
	predictor Predictor
	throttles *throttleTable
	logger    *slog.Logger
	metrics   *gwmetrics.Metrics

	totalRequests  atomic.Int64
	deniedRequests atomic.Int64
	rateLimited    atomic.Int64
	riskBlocked    atomic.Int64
	throttled      atomic.Int64
	anomalyBlocked atomic.Int64
	failOpen       atomic.Int64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *gwmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPredictor enables advisory anomaly scoring.
func WithPredictor(p Predictor) Option {
	return func(s *Service) {
		s.predictor = p
	}
}

func New(limiter *ratelimit.Service, decisions decision.Store, publisher *decision.Publisher, scorer *risk.Scorer, opts ...Option) *Service {
	s := &Service{
		limiter:   limiter,
		decisions: decisions,
		publisher: publisher,
		scorer:    scorer,
		throttles: newThrottleTable(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enforce runs the full admission pipeline for one request: limiter layers
// first, then risk scoring over the caller's history, then the advisory
// anomaly signal. Denied requests are recorded here; admitted requests are
// recorded by Observe once the final status is known.
func (s *Service) Enforce(ctx context.Context, caller identity.CallerIdentity, class policy.AccountClass, endpoint, method string, now time.Time) Verdict {
	s.totalRequests.Add(1)

	history := s.history(ctx, caller)
	ld, err := s.limiter.Check(ctx, caller, class, endpoint, now)
	if err != nil {
		// Fail open: a broken window store must not take the API down.
		s.logger.ErrorContext(ctx, "limiter check failed, admitting fail-open",
			"identifier", caller.Key(), "error", err)
		s.metrics.RecordFailOpen()
		s.failOpen.Add(1)
		ld = nil
	}

	assessment := s.scorer.Score(class, decision.RiskEvents(history), now)
	s.metrics.RecordRiskLevel(string(assessment.Level))

	if ld != nil && !ld.Admitted {
		s.rateLimited.Add(1)
		return s.deny(ctx, caller, class, endpoint, method, now, Verdict{
			StatusCode: http.StatusTooManyRequests,
			Reason:     ld.Reason,
			RetryAfter: ld.RetryAfter,
			Limiter:    &WindowState{Limit: ld.Limit, Remaining: ld.Remaining()},
			Risk:       assessment,
		}, ld.Blocked, "rate_limited")
	}

	var limiter *WindowState
	if ld != nil {
		limiter = &WindowState{Limit: ld.Limit, Remaining: ld.Remaining()}
	}

	switch assessment.RecommendedAction {
	case risk.ActionBlock:
		s.riskBlocked.Add(1)
		return s.deny(ctx, caller, class, endpoint, method, now, Verdict{
			StatusCode: http.StatusForbidden,
			Reason:     ReasonRiskBlocked,
			Limiter:    limiter,
			Risk:       assessment,
		}, false, "risk_blocked")

	case risk.ActionThrottle:
		if !s.throttles.Allow(caller.Key(), now) {
			s.throttled.Add(1)
			return s.deny(ctx, caller, class, endpoint, method, now, Verdict{
				StatusCode: http.StatusTooManyRequests,
				Reason:     ReasonThrottled,
				RetryAfter: throttleRetryAfter,
				Limiter:    limiter,
				Risk:       assessment,
			}, false, "throttled")
		}
	}

	if s.predictor != nil {
		features := anomaly.ExtractFeatures(history, anomalyWindow, caller, now)
		pred := s.predictor.Predict(ctx, features)
		if !pred.Err && pred.Score >= anomalyBlockScore && pred.Action == "Block" {
			s.anomalyBlocked.Add(1)
			return s.deny(ctx, caller, class, endpoint, method, now, Verdict{
				StatusCode: http.StatusForbidden,
				Reason:     ReasonAnomaly,
				Limiter:    limiter,
				Risk:       assessment,
			}, false, "anomaly_blocked")
		}
	}

	s.metrics.RecordDecision(string(class), "allowed")
	return Verdict{Allowed: true, Limiter: limiter, Risk: assessment}
}

// Observe records an admitted request after the handler ran, folding the
// response status into the stored risk score.
func (s *Service) Observe(ctx context.Context, caller identity.CallerIdentity, class policy.AccountClass, endpoint, method string, statusCode int, v Verdict, now time.Time) {
	applied := risk.Apply(v.Risk, statusCode)
	s.publisher.Emit(decision.NewRecord(decision.Record{
		Identity:     caller,
		AccountClass: class,
		Endpoint:     endpoint,
		Method:       method,
		StatusCode:   statusCode,
		Admitted:     true,
		Risk:         applied,
		Timestamp:    now,
	}))
}

// Reset clears limiter and throttle state for a caller.
func (s *Service) Reset(ctx context.Context, caller identity.CallerIdentity, endpoint string) error {
	s.throttles.Forget(caller.Key())
	return s.limiter.Reset(ctx, caller, endpoint)
}

// Snapshot returns the running counters for the admin metrics endpoint.
func (s *Service) Snapshot() Stats {
	return Stats{
		TotalRequests:  s.totalRequests.Load(),
		DeniedRequests: s.deniedRequests.Load(),
		RateLimited:    s.rateLimited.Load(),
		RiskBlocked:    s.riskBlocked.Load(),
		Throttled:      s.throttled.Load(),
		AnomalyBlocked: s.anomalyBlocked.Load(),
		FailOpen:       s.failOpen.Load(),
		DroppedRecords: s.publisher.Dropped(),
	}
}

func (s *Service) deny(ctx context.Context, caller identity.CallerIdentity, class policy.AccountClass, endpoint, method string, now time.Time, v Verdict, blocked bool, outcome string) Verdict {
	s.deniedRequests.Add(1)
	s.metrics.RecordDecision(string(class), outcome)
	// The denial status is this request's own outcome, so the stored score
	// carries the same status floor Observe applies to admitted requests.
	v.Risk = risk.Apply(v.Risk, v.StatusCode)
	s.publisher.Emit(decision.NewRecord(decision.Record{
		Identity:     caller,
		AccountClass: class,
		Endpoint:     endpoint,
		Method:       method,
		StatusCode:   v.StatusCode,
		Admitted:     false,
		Blocked:      blocked,
		Reason:       v.Reason,
		Risk:         v.Risk,
		Timestamp:    now,
	}))
	s.logger.InfoContext(ctx, "request denied",
		"identifier", caller.Key(),
		"class", class,
		"endpoint", endpoint,
		"outcome", outcome,
		"risk_score", v.Risk.Score,
	)
	return v
}

// history loads the caller's recent records, degrading to an empty history
// when the decision store is unavailable.
func (s *Service) history(ctx context.Context, caller identity.CallerIdentity) []decision.Record {
	records, err := s.decisions.ListRecent(ctx, caller.Key(), historyLimit)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load decision history",
			"identifier", caller.Key(), "error", err)
		return nil
	}
	return records
}
