package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vaultgate/internal/anomaly"
	"vaultgate/internal/decision"
	"vaultgate/internal/identity"
	"vaultgate/internal/policy"
	"vaultgate/internal/ratelimit/models"
	ratelimit "vaultgate/internal/ratelimit/service"
	"vaultgate/internal/ratelimit/store/window"
	"vaultgate/internal/risk"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	svc       *Service
	store     *decision.InMemoryStore
	publisher *decision.Publisher
	ctx       context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.buildService(nil)
}

func (s *ServiceSuite) buildService(predictor Predictor) {
	pol := policy.Default()
	limiter, err := ratelimit.New(window.NewInMemoryStore(), pol)
	s.Require().NoError(err)

	s.store = decision.NewInMemoryStore(1000)
	s.publisher = decision.NewPublisher(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.ctx = context.Background()

	opts := []Option{}
	if predictor != nil {
		opts = append(opts, WithPredictor(predictor))
	}
	s.svc = New(limiter, s.store, s.publisher, risk.NewScorer(pol), opts...)
}

// seed writes history directly to the store, bypassing the publisher.
func (s *ServiceSuite) seed(caller identity.CallerIdentity, class policy.AccountClass, endpoint string, status int, n int, at time.Time) {
	for i := 0; i < n; i++ {
		err := s.store.Append(s.ctx, decision.NewRecord(decision.Record{
			Identity:     caller,
			AccountClass: class,
			Endpoint:     endpoint,
			StatusCode:   status,
			Admitted:     status < 400,
			Timestamp:    at,
		}))
		s.Require().NoError(err)
	}
}

func (s *ServiceSuite) TestCleanCallerAllowed() {
	v := s.svc.Enforce(s.ctx, identity.User("u-1"), policy.ClassSavings, policy.EndpointBalance, http.MethodGet, t0)

	s.True(v.Allowed)
	s.Require().NotNil(v.Limiter)
	s.Equal(10, v.Limiter.Limit)
	s.Equal(9, v.Limiter.Remaining)
	s.Equal(risk.LevelLow, v.Risk.Level)
}

func (s *ServiceSuite) TestRateLimitDenialEmitsRecord() {
	caller := identity.User("u-1")

	// SAVINGS transfer budget is 3 per minute.
	for i := 0; i < 3; i++ {
		v := s.svc.Enforce(s.ctx, caller, policy.ClassSavings, policy.EndpointTransfer, http.MethodPost, t0)
		s.Require().True(v.Allowed)
	}
	v := s.svc.Enforce(s.ctx, caller, policy.ClassSavings, policy.EndpointTransfer, http.MethodPost, t0)

	s.False(v.Allowed)
	s.Equal(http.StatusTooManyRequests, v.StatusCode)
	s.Equal(15*time.Minute, v.RetryAfter)

	s.publisher.Close()
	records, err := s.store.ListRecent(s.ctx, caller.Key(), 10)
	s.Require().NoError(err)
	s.Require().NotEmpty(records)
	s.False(records[0].Admitted)
	s.Equal(http.StatusTooManyRequests, records[0].StatusCode)
}

func (s *ServiceSuite) TestHighRiskCallerBlocked() {
	caller := identity.IP("203.0.113.5")

	// ANONYMOUS weights make 21 recent requests plus 3 limiter hits score
	// 65, over the HIGH threshold.
	s.seed(caller, policy.ClassAnonymous, "/api/balance", 200, 21, t0.Add(-time.Minute))
	s.seed(caller, policy.ClassAnonymous, "/api/balance", 429, 3, t0.Add(-time.Minute))

	v := s.svc.Enforce(s.ctx, caller, policy.ClassAnonymous, "/api/status", http.MethodGet, t0)

	s.False(v.Allowed)
	s.Equal(http.StatusForbidden, v.StatusCode)
	s.Equal(ReasonRiskBlocked, v.Reason)
	s.Equal(risk.LevelHigh, v.Risk.Level)
}

func (s *ServiceSuite) TestMediumRiskCallerThrottled() {
	caller := identity.User("u-7")

	// CURRENT weights: 3 auth failures (30), 3 limiter hits (15) and 6
	// sensitive-endpoint calls (10) score 55, MEDIUM.
	s.seed(caller, policy.ClassCurrent, policy.EndpointTransfer, 401, 3, t0.Add(-time.Minute))
	s.seed(caller, policy.ClassCurrent, policy.EndpointTransfer, 429, 3, t0.Add(-time.Minute))

	// The throttle bucket allows a burst of two, then denies.
	for i := 0; i < 2; i++ {
		v := s.svc.Enforce(s.ctx, caller, policy.ClassCurrent, policy.EndpointBalance, http.MethodGet, t0)
		s.Require().True(v.Allowed, "request %d", i)
		s.Equal(risk.LevelMedium, v.Risk.Level)
	}

	v := s.svc.Enforce(s.ctx, caller, policy.ClassCurrent, policy.EndpointBalance, http.MethodGet, t0)
	s.False(v.Allowed)
	s.Equal(http.StatusTooManyRequests, v.StatusCode)
	s.Equal(ReasonThrottled, v.Reason)
	s.Equal(throttleRetryAfter, v.RetryAfter)
}

type fixedPredictor struct {
	pred anomaly.Prediction
}

func (p fixedPredictor) Predict(context.Context, anomaly.Features) anomaly.Prediction {
	return p.pred
}

func (s *ServiceSuite) TestAnomalyBlock() {
	s.buildService(fixedPredictor{pred: anomaly.Prediction{Score: 0.92, Action: "Block"}})

	v := s.svc.Enforce(s.ctx, identity.User("u-1"), policy.ClassSavings, policy.EndpointBalance, http.MethodGet, t0)

	s.False(v.Allowed)
	s.Equal(http.StatusForbidden, v.StatusCode)
	s.Equal(ReasonAnomaly, v.Reason)
}

func (s *ServiceSuite) TestAnomalyFallbackNeverBlocks() {
	s.buildService(fixedPredictor{pred: anomaly.Prediction{Score: 0.99, Action: "Block", Err: true}})

	v := s.svc.Enforce(s.ctx, identity.User("u-1"), policy.ClassSavings, policy.EndpointBalance, http.MethodGet, t0)
	s.True(v.Allowed)
}

func (s *ServiceSuite) TestObserveAppliesStatusFloor() {
	caller := identity.User("u-1")

	v := s.svc.Enforce(s.ctx, caller, policy.ClassSavings, policy.EndpointBalance, http.MethodGet, t0)
	s.Require().True(v.Allowed)

	s.svc.Observe(s.ctx, caller, policy.ClassSavings, policy.EndpointBalance, http.MethodGet, http.StatusInternalServerError, v, t0)

	s.publisher.Close()
	records, err := s.store.ListRecent(s.ctx, caller.Key(), 1)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.GreaterOrEqual(records[0].Risk.Score, 80)
	s.Equal(risk.LevelHigh, records[0].Risk.Level)
}

func (s *ServiceSuite) TestDeniedRecordCarriesStatusFloor() {
	caller := identity.User("u-1")

	// A clean caller's first denial is a 429: the record must carry the
	// client-error floor, not the pre-denial rule score of 0.
	for i := 0; i < 3; i++ {
		v := s.svc.Enforce(s.ctx, caller, policy.ClassSavings, policy.EndpointTransfer, http.MethodPost, t0)
		s.Require().True(v.Allowed)
	}
	v := s.svc.Enforce(s.ctx, caller, policy.ClassSavings, policy.EndpointTransfer, http.MethodPost, t0)
	s.Require().False(v.Allowed)
	s.GreaterOrEqual(v.Risk.Score, 45)
	s.Equal(risk.LevelMedium, v.Risk.Level)

	s.publisher.Close()
	records, err := s.store.ListRecent(s.ctx, caller.Key(), 1)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Require().False(records[0].Admitted)
	s.GreaterOrEqual(records[0].Risk.Score, 45)
	s.Equal(risk.LevelMedium, records[0].Risk.Level)
	s.Require().NotEmpty(records[0].Risk.Factors)
	s.Equal("Client error response", records[0].Risk.Factors[len(records[0].Risk.Factors)-1].Name)
}

func (s *ServiceSuite) TestSnapshot() {
	caller := identity.User("u-1")
	for i := 0; i < 4; i++ {
		s.svc.Enforce(s.ctx, caller, policy.ClassSavings, policy.EndpointTransfer, http.MethodPost, t0)
	}

	stats := s.svc.Snapshot()
	s.Equal(int64(4), stats.TotalRequests)
	s.Equal(int64(1), stats.DeniedRequests)
	s.Equal(int64(1), stats.RateLimited)
}

func TestFailOpenWhenLimiterStoreFails(t *testing.T) {
	pol := policy.Default()
	limiter, err := ratelimit.New(failingWindowStore{}, pol)
	require.NoError(t, err)

	store := decision.NewInMemoryStore(100)
	pub := decision.NewPublisher(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer pub.Close()

	svc := New(limiter, store, pub, risk.NewScorer(pol))
	v := svc.Enforce(context.Background(), identity.User("u-1"), policy.ClassSavings, policy.EndpointBalance, http.MethodGet, t0)

	require.True(t, v.Allowed)
	require.Nil(t, v.Limiter)
	require.Equal(t, int64(1), svc.Snapshot().FailOpen)
}

type failingWindowStore struct{}

func (failingWindowStore) CheckAndRecord(context.Context, string, policy.RateLimitConfig, time.Time) (*models.Decision, error) {
	return nil, context.DeadlineExceeded
}
func (failingWindowStore) Reset(context.Context, string) error { return context.DeadlineExceeded }
func (failingWindowStore) CurrentCount(context.Context, string, time.Duration, time.Time) (int, error) {
	return 0, context.DeadlineExceeded
}
