package plm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/wallcrawler78/arena-sheets-sync/internal/resilience"
	"github.com/wallcrawler78/arena-sheets-sync/internal/syncerr"
)

// SessionHeader is the header the PLM expects the session token in
// (spec.md §6).
const SessionHeader = "arena_session_id"

const defaultRetryAfter = 10 * time.Second

// Client is the method-generic HTTP wrapper over the Session Manager
// (spec.md §4.2). It enforces one retry on 401 (re-auth) and one retry
// on 429 (rate-limit backoff), normalizes response field casing, and
// classifies non-2xx responses into the syncerr taxonomy.
type Client struct {
	session    *Session
	httpClient *http.Client
	limiter    *rate.Limiter
	debug      bool
	logger     *slog.Logger
	metrics    *ClientMetrics
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithDebugLogging enables request-level debug logging (spec.md §4.2:
// "Logging is gated by a debug flag; error logs are always emitted.").
func WithDebugLogging(debug bool) ClientOption {
	return func(c *Client) { c.debug = debug }
}

// WithRateLimit attaches a client-side token-bucket limiter wrapping
// outbound calls, a polite-client complement to the server's 429
// signaling (SPEC_FULL.md §3).
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics attaches a ClientMetrics registered against reg.
func WithMetrics(m *ClientMetrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a Client over the given Session Manager.
func NewClient(session *Session, httpClient *http.Client, logger *slog.Logger, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{session: session, httpClient: httpClient, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (map[string]any, error) {
	return c.do(ctx, http.MethodPut, path, nil, body)
}

func (c *Client) Patch(ctx context.Context, path string, body any) (map[string]any, error) {
	return c.do(ctx, http.MethodPatch, path, nil, body)
}

func (c *Client) Delete(ctx context.Context, path string) (map[string]any, error) {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// do drives one logical request through the single-retry-on-401 policy
// of spec.md §4.2/§5 ("single-flight re-auth"), expressed as a
// resilience.RetryPolicy{MaxRetries: 1} rather than a hand-rolled loop
// (SPEC_FULL.md §2.2/§4.2). A fresh policy/closure pair is built per call
// so the retry budget never leaks across requests.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (map[string]any, error) {
	authPolicy := resilience.SingleRetryPolicy(0, &resilience.StatusChecker{Kinds: []syncerr.Kind{syncerr.KindSessionExpired}})
	authPolicy.Logger = c.logger

	reauthenticated := false
	return resilience.WithRetryFunc(ctx, authPolicy, func() (map[string]any, error) {
		if reauthenticated {
			c.session.Invalidate()
			if _, err := c.session.Reauthenticate(ctx); err != nil {
				return nil, err
			}
		}
		reauthenticated = true
		return c.doRateLimited(ctx, method, path, query, body)
	})
}

// doRateLimited drives one attempt (already past the 401 concern) through
// the single-retry-on-429 policy of spec.md §4.2: wait Retry-After
// (default 10s), then retry exactly once. The wait duration is only known
// once the first attempt's response classifies it, so attempt sets
// ratePolicy.BaseDelay itself before resilience.WithRetryFunc takes its
// one wait (see resilience.WithRetryFunc's fresh per-attempt delay read).
func (c *Client) doRateLimited(ctx context.Context, method, path string, query url.Values, body any) (map[string]any, error) {
	ratePolicy := resilience.SingleRetryPolicy(defaultRetryAfter, &resilience.StatusChecker{Kinds: []syncerr.Kind{syncerr.KindRateLimited}})
	ratePolicy.Logger = c.logger

	return resilience.WithRetryFunc(ctx, ratePolicy, func() (map[string]any, error) {
		result, err := c.attempt(ctx, method, path, query, body)
		var rl *rateLimitSignal
		if errors.As(err, &rl) {
			ratePolicy.BaseDelay = rl.wait
			return nil, syncerr.New(syncerr.KindRateLimited, "rate limited by server").WithStatus(http.StatusTooManyRequests)
		}
		return result, err
	})
}

// rateLimitSignal carries the server's Retry-After wait out of attempt()
// so doRateLimited can set it on the retry policy before its one wait.
type rateLimitSignal struct{ wait time.Duration }

func (r *rateLimitSignal) Error() string { return "rate limited" }

// attempt performs exactly one HTTP round trip and classifies the
// response into the syncerr taxonomy; it never retries on its own.
func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, body any) (map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, syncerr.Wrap(syncerr.KindTransport, "rate limiter wait interrupted", err)
		}
	}

	token, err := c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := c.buildRequest(ctx, method, path, query, body, token)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.Observe(method, path, 0, time.Since(start))
		}
		return nil, syncerr.Wrap(syncerr.KindTransport, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.Observe(method, path, resp.StatusCode, time.Since(start))
	}
	if c.debug {
		c.logger.Debug("plm http call", "method", method, "path", path, "status", resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return c.decodeSuccess(resp)

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, syncerr.New(syncerr.KindSessionExpired, "session expired (401)")

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &rateLimitSignal{wait: retryAfter(resp)}

	default:
		msg := extractErrorMessage(resp)
		c.logger.Error("plm http error", "method", method, "path", path, "status", resp.StatusCode, "message", msg)
		kind := syncerr.KindTransport
		if resp.StatusCode == http.StatusNotFound {
			kind = syncerr.KindNotFound
		}
		return nil, syncerr.New(kind, msg).WithStatus(resp.StatusCode)
	}
}

func (c *Client) buildRequest(ctx context.Context, method, path string, query url.Values, body any, token string) (*http.Request, error) {
	u := c.session.APIBase() + path
	if query != nil {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindTransport, "encoding request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, "building request", err)
	}
	req.Header.Set(SessionHeader, token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryAfter
}

func (c *Client) decodeSuccess(resp *http.Response) (map[string]any, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, "reading response body", err)
	}
	if len(data) == 0 {
		return map[string]any{"success": true}, nil
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, "decoding response body", err)
	}

	normalized := normalizeFields(decoded)
	switch v := normalized.(type) {
	case map[string]any:
		return v, nil
	case []any:
		return map[string]any{"results": v}, nil
	default:
		return map[string]any{"value": v}, nil
	}
}

// extractErrorMessage pulls a server error message out of a non-2xx
// response body, trying "message", then "error", then "errors" (spec.md
// §4.2), truncated to 500 characters.
func extractErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return truncate(string(data), 500)
	}
	normalized := normalizeFields(decoded).(map[string]any)
	for _, key := range []string{"message", "error"} {
		if s, ok := normalized[key].(string); ok && s != "" {
			return truncate(s, 500)
		}
	}
	if errs, ok := normalized["errors"].([]any); ok && len(errs) > 0 {
		parts := make([]string, 0, len(errs))
		for _, e := range errs {
			parts = append(parts, fmt.Sprintf("%v", e))
		}
		return truncate(strings.Join(parts, "; "), 500)
	}
	return truncate(string(data), 500)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ClientMetrics records per-(method, path-template, status) counters and
// per-(method, path-template) latency histograms, grounded on pkg/metrics/prometheus.go's
// HTTPMetrics shape but scoped to outbound PLM calls.
type ClientMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewClientMetrics registers PLM HTTP client metrics under the given
// Prometheus registerer.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arenasync",
			Subsystem: "plm_http",
			Name:      "requests_total",
			Help:      "Total PLM HTTP requests by method, path template, and status code.",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arenasync",
			Subsystem: "plm_http",
			Name:      "request_duration_seconds",
			Help:      "PLM HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

// Observe records one completed call. status 0 means a transport-level
// failure (no response received).
func (m *ClientMetrics) Observe(method, path string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, pathTemplate(path), strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, pathTemplate(path)).Observe(d.Seconds())
}

// pathTemplate collapses an opaque id segment so the label cardinality
// stays bounded regardless of how many distinct items/BOM lines are hit.
func pathTemplate(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segs {
		if looksLikeID(s) {
			segs[i] = ":id"
		}
	}
	return "/" + strings.Join(segs, "/")
}

func looksLikeID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}
