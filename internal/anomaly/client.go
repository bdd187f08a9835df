package anomaly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"vaultgate/pkg/platform/circuit"
)

// Prediction is the detection service's verdict for one feature vector.
// Err is set when the prediction is a fallback rather than a real score.
type Prediction struct {
	Score  float64 `json:"anomaly_score"`
	Action string  `json:"recommended_action"`
	Err    bool    `json:"-"`
}

// safeDefault is returned whenever the service cannot be reached or answers
// garbage. Enforcement treats it as "nothing anomalous".
func safeDefault() Prediction {
	return Prediction{Score: 0, Action: "Allow", Err: true}
}

// probeInterval is how often an open circuit lets one request through to
// check whether the service recovered.
const probeInterval = 30 * time.Second

// Client calls the external anomaly detection service. A circuit breaker
// stops a down service from being probed on every request.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger

	mu        sync.Mutex
	lastProbe time.Time
}

type ClientOption func(*Client)

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// NewClient builds a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: timeout},
		breaker:   circuit.New("anomaly-service"),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		lastProbe: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Predict scores a feature vector. It never returns an error: any failure
// degrades to the safe default so callers stay on the enforcement fast path.
func (c *Client) Predict(ctx context.Context, f Features) Prediction {
	if c.breaker.IsOpen() && !c.shouldProbe() {
		return safeDefault()
	}

	pred, err := c.predict(ctx, f)
	if err != nil {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.WarnContext(ctx, "anomaly service circuit opened", "error", err)
		} else {
			c.logger.DebugContext(ctx, "anomaly prediction failed", "error", err)
		}
		return safeDefault()
	}

	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "anomaly service circuit closed")
	}
	return pred
}

// shouldProbe allows one call through an open circuit per probe interval.
func (c *Client) shouldProbe() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.lastProbe) < probeInterval {
		return false
	}
	c.lastProbe = now
	return true
}

func (c *Client) predict(ctx context.Context, f Features) (Prediction, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return Prediction{}, fmt.Errorf("encode features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("call anomaly service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Prediction{}, fmt.Errorf("anomaly service returned %d", resp.StatusCode)
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return Prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	return pred, nil
}
