// Package http assembles the gateway's chi router: demo API routes behind
// the enforcement chain, admin routes, and operational endpoints.
package http

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vaultgate/internal/decision"
	"vaultgate/internal/gateway"
	gwmiddleware "vaultgate/internal/gateway/middleware"
	"vaultgate/internal/simulation"
	"vaultgate/pkg/platform/middleware/metadata"
)

// RouterConfig carries everything the router needs; all fields except
// Logger and Disabled are required.
type RouterConfig struct {
	Gateway   *gateway.Service
	Simulator *simulation.Simulator
	Decisions decision.Store
	Disabled  bool
	Logger    *slog.Logger
}

// NewRouter builds the full route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &handlers{
		gateway:   cfg.Gateway,
		simulator: cfg.Simulator,
		decisions: cfg.Decisions,
		logger:    logger,
	}

	enforcer := gwmiddleware.NewEnforcer(cfg.Gateway, gwmiddleware.WithDisabled(cfg.Disabled))

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(metadata.ClientMetadata)
	r.Use(identityFromHeaders)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	// Demo API surface behind the enforcement chain. Responses feed the
	// decision log, which in turn feeds risk scoring and simulation.
	r.Group(func(r chi.Router) {
		r.Use(enforcer.Handler)
		r.Get("/api/balance", h.balance)
		r.Post("/api/transfer", h.transfer)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/simulate", h.simulate)
		r.Post("/ratelimit/reset", h.resetLimits)
		r.Get("/metrics/ratelimit", h.limiterStats)
		r.Get("/decisions", h.listDecisions)
	})

	return r
}
