// Package service implements the sliding-window limiter over a pluggable
// window store. One limiter type serves both enforcement layers: the coarse
// gateway-wide layer keyed by identity, and the fine-grained layer keyed by
// identity and endpoint.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"vaultgate/internal/identity"
	"vaultgate/internal/policy"
	"vaultgate/internal/ratelimit/metrics"
	"vaultgate/internal/ratelimit/models"
	dErrors "vaultgate/pkg/domain-errors"
)

// WindowStore is the persistence interface for sliding-window state.
// Implementations must serialize CheckAndRecord per key.
type WindowStore interface {
	// CheckAndRecord runs the full admit/deny algorithm for a key.
	CheckAndRecord(ctx context.Context, key string, cfg policy.RateLimitConfig, now time.Time) (*models.Decision, error)

	// Reset clears window and block state for a key.
	Reset(ctx context.Context, key string) error

	// CurrentCount returns the live request count for a key.
	// Used for monitoring and admin display.
	CurrentCount(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)
}

const (
	keyPrefixGateway  = "gw"
	keyPrefixEndpoint = "ep"
)

// Service applies policy tables to limiter checks.
type Service struct {
	windows WindowStore
	policy  *policy.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(windows WindowStore, p *policy.Policy, opts ...Option) (*Service, error) {
	if windows == nil {
		return nil, errors.New("window store is required")
	}
	if p == nil {
		return nil, errors.New("policy is required")
	}

	svc := &Service{
		windows: windows,
		policy:  p,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CheckGateway applies the coarse identity-level limit.
func (s *Service) CheckGateway(ctx context.Context, caller identity.CallerIdentity, class policy.AccountClass, now time.Time) (*models.Decision, error) {
	key := keyPrefixGateway + ":" + caller.Key()
	return s.check(ctx, key, models.LayerGateway, caller, s.policy.GatewayConfig(class), now)
}

// CheckEndpoint applies the fine-grained (identity, endpoint) limit.
// Unknown endpoints use the class default config rather than failing.
func (s *Service) CheckEndpoint(ctx context.Context, caller identity.CallerIdentity, class policy.AccountClass, endpoint string, now time.Time) (*models.Decision, error) {
	key := keyPrefixEndpoint + ":" + caller.Key() + ":" + identity.SanitizeKeySegment(endpoint)
	return s.check(ctx, key, models.LayerEndpoint, caller, s.policy.EndpointConfig(class, endpoint), now)
}

// Check evaluates both layers in sequence, coarse first; either may reject.
// When both admit, the endpoint-layer decision (the tighter budget) is
// returned for header reporting.
func (s *Service) Check(ctx context.Context, caller identity.CallerIdentity, class policy.AccountClass, endpoint string, now time.Time) (*models.Decision, error) {
	gw, err := s.CheckGateway(ctx, caller, class, now)
	if err != nil {
		return nil, err
	}
	if !gw.Admitted {
		return gw, nil
	}

	ep, err := s.CheckEndpoint(ctx, caller, class, endpoint, now)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *Service) check(ctx context.Context, key string, layer models.Layer, caller identity.CallerIdentity, cfg policy.RateLimitConfig, now time.Time) (*models.Decision, error) {
	d, err := s.windows.CheckAndRecord(ctx, key, cfg, now)
	if err != nil {
		s.metrics.RecordStoreError()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
	}
	d.Layer = layer

	switch {
	case d.Admitted:
		s.metrics.RecordCheck(string(layer), "admitted")
	case d.Reason == models.ReasonRateLimitExceeded:
		// This request tripped the limit and set a fresh block.
		s.metrics.RecordCheck(string(layer), "denied")
		s.metrics.RecordBlockTriggered()
		s.logger.InfoContext(ctx, "rate limit exceeded",
			"identifier", caller.Key(),
			"layer", layer,
			"limit", cfg.MaxRequests,
			"window_seconds", int(cfg.Window.Seconds()),
			"block_seconds", int(cfg.BlockDuration.Seconds()),
		)
	default:
		s.metrics.RecordCheck(string(layer), "blocked")
	}

	return d, nil
}

// Reset clears limiter state for a caller, for both layers. An empty
// endpoint resets only the gateway layer key.
func (s *Service) Reset(ctx context.Context, caller identity.CallerIdentity, endpoint string) error {
	if err := s.windows.Reset(ctx, keyPrefixGateway+":"+caller.Key()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset gateway limit")
	}
	if endpoint == "" {
		return nil
	}
	key := keyPrefixEndpoint + ":" + caller.Key() + ":" + identity.SanitizeKeySegment(endpoint)
	if err := s.windows.Reset(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset endpoint limit")
	}
	return nil
}
