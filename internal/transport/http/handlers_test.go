package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vaultgate/internal/decision"
	"vaultgate/internal/gateway"
	"vaultgate/internal/policy"
	ratelimit "vaultgate/internal/ratelimit/service"
	"vaultgate/internal/ratelimit/store/window"
	"vaultgate/internal/risk"
	"vaultgate/internal/simulation"
)

type RouterSuite struct {
	suite.Suite
	handler   http.Handler
	publisher *decision.Publisher
	store     *decision.InMemoryStore
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	pol := policy.Default()
	limiter, err := ratelimit.New(window.NewInMemoryStore(), pol)
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = decision.NewInMemoryStore(1000)
	s.publisher = decision.NewPublisher(s.store, logger)
	gw := gateway.New(limiter, s.store, s.publisher, risk.NewScorer(pol))

	s.handler = NewRouter(RouterConfig{
		Gateway:   gw,
		Simulator: simulation.New(s.store),
		Decisions: s.store,
		Logger:    logger,
	})
}

func (s *RouterSuite) TearDownTest() {
	s.publisher.Close()
}

func (s *RouterSuite) do(method, path, body, userID string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "198.51.100.20:40000"
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-Account-Class", "SAVINGS")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/healthz", "", "")
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestBalanceEnforced() {
	rec := s.do(http.MethodGet, "/api/balance", "", "u-1")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("10", rec.Header().Get("X-RateLimit-Limit"))

	var body map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("u-1", body["account"])
}

func (s *RouterSuite) TestTransferBudgetExhausts() {
	payload := `{"to":"acct-9","amount":25.00}`
	for i := 0; i < 3; i++ {
		rec := s.do(http.MethodPost, "/api/transfer", payload, "u-1")
		s.Require().Equal(http.StatusOK, rec.Code)
	}

	rec := s.do(http.MethodPost, "/api/transfer", payload, "u-1")
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))
}

func (s *RouterSuite) TestTransferValidatesPayload() {
	rec := s.do(http.MethodPost, "/api/transfer", `{"to":"","amount":-1}`, "u-1")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestSimulateEndpoint() {
	rec := s.do(http.MethodPost, "/admin/simulate",
		`{"account_class":"SAVINGS","endpoint":"/api/balance","rate_limit":5,"risk_threshold":60}`, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var res simulation.Result
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	s.Equal("LOW", res.EstimatedImpact)
	s.Equal(60, res.WindowMinutes)
}

func (s *RouterSuite) TestSimulateRejectsBadCandidate() {
	rec := s.do(http.MethodPost, "/admin/simulate",
		`{"account_class":"PLATINUM","endpoint":"/api/balance","rate_limit":5,"risk_threshold":60}`, "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestResetRestoresBudget() {
	payload := `{"to":"acct-9","amount":25.00}`
	for i := 0; i < 4; i++ {
		s.do(http.MethodPost, "/api/transfer", payload, "u-1")
	}
	rec := s.do(http.MethodPost, "/api/transfer", payload, "u-1")
	s.Require().Equal(http.StatusTooManyRequests, rec.Code)

	rec = s.do(http.MethodPost, "/admin/ratelimit/reset",
		`{"kind":"user","value":"u-1","endpoint":"/api/transfer"}`, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/transfer", payload, "u-1")
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestResetRejectsUnknownKind() {
	rec := s.do(http.MethodPost, "/admin/ratelimit/reset", `{"kind":"tenant","value":"x"}`, "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestLimiterStats() {
	s.do(http.MethodGet, "/api/balance", "", "u-1")

	rec := s.do(http.MethodGet, "/admin/metrics/ratelimit", "", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var stats gateway.Stats
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &stats))
	s.Equal(int64(1), stats.TotalRequests)
}

func (s *RouterSuite) TestListDecisionsRequiresKey() {
	rec := s.do(http.MethodGet, "/admin/decisions", "", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func TestListDecisionsReturnsHistory(t *testing.T) {
	pol := policy.Default()
	limiter, err := ratelimit.New(window.NewInMemoryStore(), pol)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := decision.NewInMemoryStore(1000)
	pub := decision.NewPublisher(store, logger)
	gw := gateway.New(limiter, store, pub, risk.NewScorer(pol))
	handler := NewRouter(RouterConfig{
		Gateway:   gw,
		Simulator: simulation.New(store),
		Decisions: store,
		Logger:    logger,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.RemoteAddr = "198.51.100.20:40000"
	req.Header.Set("X-User-ID", "u-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Drain the async publisher before reading history back.
	pub.Close()

	req = httptest.NewRequest(http.MethodGet, "/admin/decisions?key=user:u-1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int               `json:"count"`
		Records []decision.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "/api/balance", body.Records[0].Endpoint)
	assert.True(t, body.Records[0].Admitted)
}
