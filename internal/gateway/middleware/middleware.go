// Package middleware wires the enforcement pipeline into the HTTP layer.
package middleware

import (
	"net/http"
	"strconv"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"vaultgate/internal/gateway"
	"vaultgate/internal/identity"
	"vaultgate/internal/policy"
	"vaultgate/pkg/platform/httputil"
	"vaultgate/pkg/platform/middleware/metadata"
	"vaultgate/pkg/requestcontext"
)

type denyResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
	RiskLevel  string `json:"risk_level,omitempty"`
}

// Enforcer holds the middleware's dependencies.
type Enforcer struct {
	svc      *gateway.Service
	disabled bool
	exempt   map[string]struct{}
}

type Option func(*Enforcer)

// WithDisabled bypasses enforcement entirely, for load tests and local runs.
func WithDisabled(disabled bool) Option {
	return func(e *Enforcer) {
		e.disabled = disabled
	}
}

// WithExemptPaths adds paths that skip enforcement.
func WithExemptPaths(paths ...string) Option {
	return func(e *Enforcer) {
		for _, p := range paths {
			e.exempt[p] = struct{}{}
		}
	}
}

func NewEnforcer(svc *gateway.Service, opts ...Option) *Enforcer {
	e := &Enforcer{
		svc: svc,
		exempt: map[string]struct{}{
			"/healthz": {},
			"/metrics": {},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handler resolves the caller, runs the enforcement pipeline, and records
// the final response status for admitted requests.
func (e *Enforcer) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.disabled {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := e.exempt[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		// The metadata middleware already resolved the client IP (including
		// X-Forwarded-For and X-Real-IP handling); reuse it so every layer
		// sees the same caller.
		clientIP := requestcontext.ClientIP(ctx)
		if clientIP == "" {
			clientIP = metadata.ClientIPFromRequest(r)
		}
		caller := identity.Resolve(requestcontext.UserID(ctx), "", clientIP)
		class := policy.ClassFor(caller.Authenticated(), requestcontext.AccountClass(ctx))
		now := requestcontext.Now(ctx)

		verdict := e.svc.Enforce(ctx, caller, class, r.URL.Path, r.Method, now)

		if verdict.Limiter != nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(verdict.Limiter.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(verdict.Limiter.Remaining))
		}

		if !verdict.Allowed {
			retryAfter := 0
			if verdict.RetryAfter > 0 {
				retryAfter = int(verdict.RetryAfter.Seconds() + 0.5)
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(verdict.RetryAfter).Unix(), 10))
			}
			httputil.WriteJSON(w, verdict.StatusCode, denyResponse{
				Error:      verdict.Reason,
				RetryAfter: retryAfter,
				RiskLevel:  string(verdict.Risk.Level),
			})
			return
		}

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		e.svc.Observe(ctx, caller, class, r.URL.Path, r.Method, status, verdict, now)
	})
}
