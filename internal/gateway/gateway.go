// Package gateway issues authenticated HTTP calls to the market-data
// providers with timeout, bounded retry, and a closed error taxonomy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/findash/marketdata/internal/observ"
)

// SessionTokenSource yields the current user session token, if any. A call
// without a token proceeds unauthenticated; the upstream may deny it.
type SessionTokenSource interface {
	SessionToken() (string, bool)
}

// SessionTokenFunc adapts a function to SessionTokenSource.
type SessionTokenFunc func() (string, bool)

func (f SessionTokenFunc) SessionToken() (string, bool) { return f() }

// Config holds gateway settings. Zero values fall back to defaults.
type Config struct {
	BaseURL            string
	ServiceKey         string // sent as the "apikey" header
	TimeoutMs          int    // per-attempt timeout, default 15000
	Retries            int    // retry budget for transient failures, default 1
	RateLimitPerMinute int    // provider rate limit, default 60
}

// Request describes one remote call.
type Request struct {
	Endpoint string // path, joined to BaseURL
	Method   string // GET or POST
	Body     any    // marshalled to JSON for POST
	Headers  map[string]string
}

// Gateway is the single choke point for provider traffic.
type Gateway struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	tokens  SessionTokenSource
}

func New(config Config, tokens SessionTokenSource) *Gateway {
	if config.TimeoutMs <= 0 {
		config.TimeoutMs = 15000
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 60
	}
	return &Gateway{
		config:  config,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1),
		tokens:  tokens,
	}
}

// Call issues the request and returns the raw response body, or a classified
// error. Transient failures (NETWORK, TIMEOUT) are retried up to the
// configured budget with immediate re-issue; other kinds are returned as-is.
func (g *Gateway) Call(ctx context.Context, req Request) (json.RawMessage, *Error) {
	var lastErr *Error
	for attempt := 0; attempt <= g.config.Retries; attempt++ {
		body, err := g.callOnce(ctx, req, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !err.Transient() {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (g *Gateway) callOnce(ctx context.Context, req Request, attempt int) (json.RawMessage, *Error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, NewNetworkError("rate limit wait cancelled", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.config.TimeoutMs)*time.Millisecond)
	defer cancel()

	var bodyReader io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, NewValidationError(fmt.Sprintf("marshal request body: %v", err))
		}
		bodyReader = bytes.NewReader(b)
	}

	url := strings.TrimRight(g.config.BaseURL, "/") + "/" + strings.TrimLeft(req.Endpoint, "/")
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("build request: %v", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if g.config.ServiceKey != "" {
		httpReq.Header.Set("apikey", g.config.ServiceKey)
	}
	var sessionTok string
	if g.tokens != nil {
		if tok, ok := g.tokens.SessionToken(); ok && tok != "" {
			httpReq.Header.Set("Authorization", "Bearer "+tok)
			sessionTok = tok
		}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	observ.IncCounter("gateway_calls_total", map[string]string{"method": req.Method})

	resp, doErr := g.client.Do(httpReq)
	if doErr != nil {
		gerr := classifyTransport(ctx, doErr)
		g.logOutcome(req, attempt, start, 0, gerr)
		return nil, gerr
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		gerr := classifyTransport(ctx, readErr)
		g.logOutcome(req, attempt, start, resp.StatusCode, gerr)
		return nil, gerr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gerr := classifyStatus(resp.StatusCode, errorMessage(payload))
		if gerr.Kind == ErrAuthentication && sessionTok != "" {
			// Redacted prefix lets the operator correlate which session was
			// rejected without the secret reaching the logs.
			observ.Log("gateway_auth_rejected", map[string]any{
				"endpoint":      observ.RedactURL(req.Endpoint),
				"status":        resp.StatusCode,
				"session_token": observ.RedactToken(sessionTok),
			})
		}
		g.logOutcome(req, attempt, start, resp.StatusCode, gerr)
		return nil, gerr
	}

	g.logOutcome(req, attempt, start, resp.StatusCode, nil)
	return payload, nil
}

// classifyTransport maps a transport-level failure. Deadline expiry is
// TIMEOUT; everything else on the wire is NETWORK.
func classifyTransport(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewTimeoutError("request timed out", err)
	}
	return NewNetworkError("request failed", err)
}

// errorMessage extracts a human-readable message from a non-2xx body, which
// may be JSON ({"error": ...} / {"message": ...}) or plain text.
func errorMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func (g *Gateway) logOutcome(req Request, attempt int, start time.Time, status int, gerr *Error) {
	kv := map[string]any{
		"endpoint":   observ.RedactURL(req.Endpoint),
		"method":     req.Method,
		"attempt":    attempt,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if status != 0 {
		kv["status"] = status
	}
	if gerr != nil {
		kv["error_kind"] = string(gerr.Kind)
		kv["error"] = gerr.Message
		observ.IncCounter("gateway_errors_total", map[string]string{"kind": string(gerr.Kind)})
		observ.Log("gateway_call_failed", kv)
		return
	}
	observ.Log("gateway_call", kv)
	observ.RecordDuration("gateway_latency", time.Since(start), map[string]string{"method": req.Method})
}
