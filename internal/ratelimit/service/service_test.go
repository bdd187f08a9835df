package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vaultgate/internal/identity"
	"vaultgate/internal/policy"
	"vaultgate/internal/ratelimit/models"
	"vaultgate/internal/ratelimit/store/window"
	dErrors "vaultgate/pkg/domain-errors"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	svc *Service
	ctx context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	svc, err := New(window.NewInMemoryStore(), policy.Default())
	s.Require().NoError(err)
	s.svc = svc
	s.ctx = context.Background()
}

func (s *ServiceSuite) TestEndpointLimitAppliesPerEndpoint() {
	caller := identity.User("u-1")

	// SAVINGS transfer budget is 3 per minute.
	for i := 0; i < 3; i++ {
		d, err := s.svc.CheckEndpoint(s.ctx, caller, policy.ClassSavings, policy.EndpointTransfer, t0)
		s.Require().NoError(err)
		s.True(d.Admitted)
		s.Equal(models.LayerEndpoint, d.Layer)
	}

	d, err := s.svc.CheckEndpoint(s.ctx, caller, policy.ClassSavings, policy.EndpointTransfer, t0)
	s.Require().NoError(err)
	s.False(d.Admitted)
	s.Equal(models.ReasonRateLimitExceeded, d.Reason)

	// The balance window is independent of the exhausted transfer window.
	d, err = s.svc.CheckEndpoint(s.ctx, caller, policy.ClassSavings, policy.EndpointBalance, t0)
	s.Require().NoError(err)
	s.True(d.Admitted)
}

func (s *ServiceSuite) TestCheckCoarseLayerRejectsFirst() {
	caller := identity.IP("203.0.113.7")

	// ANONYMOUS gateway budget is 50 per minute, far above the per-endpoint
	// default of 3, so the endpoint layer trips first here.
	for i := 0; i < 3; i++ {
		d, err := s.svc.Check(s.ctx, caller, policy.ClassAnonymous, policy.EndpointBalance, t0)
		s.Require().NoError(err)
		s.True(d.Admitted)
	}
	d, err := s.svc.Check(s.ctx, caller, policy.ClassAnonymous, policy.EndpointBalance, t0)
	s.Require().NoError(err)
	s.False(d.Admitted)
	s.Equal(models.LayerEndpoint, d.Layer)
}

func (s *ServiceSuite) TestCheckGatewayLayerRejects() {
	caller := identity.IP("203.0.113.8")

	// Exhaust the coarse layer directly so a later Check denies at the
	// gateway layer before touching the endpoint window.
	for i := 0; i < 50; i++ {
		d, err := s.svc.CheckGateway(s.ctx, caller, policy.ClassAnonymous, t0)
		s.Require().NoError(err)
		s.True(d.Admitted)
	}
	d, err := s.svc.Check(s.ctx, caller, policy.ClassAnonymous, policy.EndpointBalance, t0)
	s.Require().NoError(err)
	s.False(d.Admitted)
	s.Equal(models.LayerGateway, d.Layer)
}

func (s *ServiceSuite) TestDistinctCallersDoNotInterfere() {
	for i := 0; i < 4; i++ {
		_, err := s.svc.CheckEndpoint(s.ctx, identity.User("u-1"), policy.ClassSavings, policy.EndpointTransfer, t0)
		s.Require().NoError(err)
	}

	d, err := s.svc.CheckEndpoint(s.ctx, identity.User("u-2"), policy.ClassSavings, policy.EndpointTransfer, t0)
	s.Require().NoError(err)
	s.True(d.Admitted)
}

func (s *ServiceSuite) TestReset() {
	caller := identity.User("u-1")
	for i := 0; i < 4; i++ {
		_, err := s.svc.CheckEndpoint(s.ctx, caller, policy.ClassSavings, policy.EndpointTransfer, t0)
		s.Require().NoError(err)
	}

	s.Require().NoError(s.svc.Reset(s.ctx, caller, policy.EndpointTransfer))

	d, err := s.svc.CheckEndpoint(s.ctx, caller, policy.ClassSavings, policy.EndpointTransfer, t0)
	s.Require().NoError(err)
	s.True(d.Admitted)
	s.Equal(1, d.CurrentCount)
}

type failingStore struct{}

func (failingStore) CheckAndRecord(context.Context, string, policy.RateLimitConfig, time.Time) (*models.Decision, error) {
	return nil, errors.New("store down")
}
func (failingStore) Reset(context.Context, string) error { return errors.New("store down") }
func (failingStore) CurrentCount(context.Context, string, time.Duration, time.Time) (int, error) {
	return 0, errors.New("store down")
}

func TestStoreErrorIsWrapped(t *testing.T) {
	svc, err := New(failingStore{}, policy.Default())
	require.NoError(t, err)

	_, err = svc.Check(context.Background(), identity.User("u-1"), policy.ClassSavings, policy.EndpointBalance, t0)
	require.Error(t, err)
	require.Equal(t, dErrors.CodeInternal, dErrors.CodeOf(err))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, policy.Default())
	require.Error(t, err)

	_, err = New(window.NewInMemoryStore(), nil)
	require.Error(t, err)
}
