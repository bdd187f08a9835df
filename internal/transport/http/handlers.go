package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"vaultgate/internal/decision"
	"vaultgate/internal/gateway"
	"vaultgate/internal/identity"
	"vaultgate/internal/simulation"
	dErrors "vaultgate/pkg/domain-errors"
	"vaultgate/pkg/platform/httputil"
	"vaultgate/pkg/requestcontext"
)

type handlers struct {
	gateway   *gateway.Service
	simulator *simulation.Simulator
	decisions decision.Store
	logger    *slog.Logger
}

// identityFromHeaders copies the upstream authentication layer's identity
// headers into the request context. The demo gateway trusts these headers;
// a production deployment terminates authentication before this service.
func identityFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if uid := r.Header.Get("X-User-ID"); uid != "" {
			ctx = requestcontext.WithUserID(ctx, uid)
		}
		if class := r.Header.Get("X-Account-Class"); class != "" {
			ctx = requestcontext.WithAccountClass(ctx, class)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// balance is a demo endpoint standing in for a real account-balance lookup.
func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"account": requestcontext.UserID(r.Context()),
		"balance": 1042.17,
	})
}

type transferRequest struct {
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// transfer is a demo funds-movement endpoint; it exists so sensitive-endpoint
// traffic and failure statuses show up in the decision log.
func (h *handlers) transfer(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[transferRequest](w, r)
	if !ok {
		return
	}
	if req.To == "" || req.Amount <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "recipient and positive amount are required"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "accepted",
		"to":     req.To,
		"amount": req.Amount,
	})
}

func (h *handlers) simulate(w http.ResponseWriter, r *http.Request) {
	candidate, ok := httputil.DecodeJSON[simulation.CandidatePolicy](w, r)
	if !ok {
		return
	}

	result, err := h.simulator.Simulate(r.Context(), candidate)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type resetRequest struct {
	Kind     string `json:"kind"`
	Value    string `json:"value"`
	Endpoint string `json:"endpoint,omitempty"`
}

func (h *handlers) resetLimits(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[resetRequest](w, r)
	if !ok {
		return
	}

	var caller identity.CallerIdentity
	switch identity.Kind(req.Kind) {
	case identity.KindUser:
		caller = identity.User(req.Value)
	case identity.KindIP:
		caller = identity.IP(req.Value)
	default:
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unknown identifier kind %q", req.Kind))
		return
	}

	if err := h.gateway.Reset(r.Context(), caller, req.Endpoint); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "rate limit state reset",
		"identifier", caller.Key(), "endpoint", req.Endpoint)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *handlers) limiterStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.gateway.Snapshot())
}

const defaultDecisionLimit = 50

func (h *handlers) listDecisions(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "query parameter key is required"))
		return
	}

	limit := defaultDecisionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	records, err := h.decisions.ListRecent(r.Context(), key, limit)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list decisions"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"count":   len(records),
		"records": records,
	})
}
