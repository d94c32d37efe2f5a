package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc, cfg Config, tokens SessionTokenSource) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 100000 // tests should not wait on the limiter
	}
	return New(cfg, tokens), srv
}

func TestCallAttachesHeaders(t *testing.T) {
	var gotAPIKey, gotAuth, gotContentType string
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		fmt.Fprint(w, `{}`)
	}, Config{ServiceKey: "service-key-123"}, SessionTokenFunc(func() (string, bool) {
		return "session-token-abc", true
	}))

	_, err := gw.Call(context.Background(), Request{Endpoint: "query", Method: "GET"})
	require.Nil(t, err)

	assert.Equal(t, "service-key-123", gotAPIKey)
	assert.Equal(t, "Bearer session-token-abc", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
}

func TestCallProceedsWithoutSession(t *testing.T) {
	var gotAuth string
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{}`)
	}, Config{}, SessionTokenFunc(func() (string, bool) { return "", false }))

	_, err := gw.Call(context.Background(), Request{Endpoint: "query", Method: "GET"})
	require.Nil(t, err)
	assert.Empty(t, gotAuth, "unauthenticated call must not carry an Authorization header")
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{401, ErrAuthentication},
		{403, ErrAuthentication},
		{404, ErrValidation},
		{422, ErrValidation},
		{500, ErrServer},
		{503, ErrServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":"upstream said no"}`)
			}, Config{}, nil)

			_, err := gw.Call(context.Background(), Request{Endpoint: "query", Method: "GET"})
			require.NotNil(t, err)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.status, err.Status)
			assert.Equal(t, "upstream said no", err.Message)
		})
	}
}

func TestPlainTextErrorBody(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "gateway exploded")
	}, Config{}, nil)

	_, err := gw.Call(context.Background(), Request{Endpoint: "query", Method: "GET"})
	require.NotNil(t, err)
	assert.Equal(t, ErrServer, err.Kind)
	assert.Equal(t, "gateway exploded", err.Message)
}

func TestTimeoutClassification(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{}`)
	}, Config{TimeoutMs: 20}, nil)

	_, err := gw.Call(context.Background(), Request{Endpoint: "query", Method: "GET"})
	require.NotNil(t, err)
	assert.Equal(t, ErrTimeout, err.Kind)
}

func TestNetworkErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cfg := Config{BaseURL: srv.URL, RateLimitPerMinute: 100000}
	srv.Close() // connection refused from here on

	gw := New(cfg, nil)
	_, err := gw.Call(context.Background(), Request{Endpoint: "query", Method: "GET"})
	require.NotNil(t, err)
	assert.Equal(t, ErrNetwork, err.Kind)
}

func TestRetryOnTransientOnly(t *testing.T) {
	t.Run("timeout retried within budget", func(t *testing.T) {
		var calls int64
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt64(&calls, 1) == 1 {
				time.Sleep(200 * time.Millisecond)
				return
			}
			fmt.Fprint(w, `{"ok":true}`)
		}, Config{TimeoutMs: 50, Retries: 1}, nil)

		body, err := gw.Call(context.Background(), Request{Endpoint: "query", Method: "GET"})
		require.Nil(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(body))
		assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
	})

	t.Run("authentication never retried", func(t *testing.T) {
		var calls int64
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
		}, Config{Retries: 3}, SessionTokenFunc(func() (string, bool) {
			return "sess-expired-token-456", true
		}))

		_, err := gw.Call(context.Background(), Request{Endpoint: "query", Method: "GET"})
		require.NotNil(t, err)
		assert.Equal(t, ErrAuthentication, err.Kind)
		assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	})

	t.Run("validation never retried", func(t *testing.T) {
		var calls int64
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
		}, Config{Retries: 2}, nil)

		_, err := gw.Call(context.Background(), Request{Endpoint: "query", Method: "GET"})
		require.NotNil(t, err)
		assert.Equal(t, ErrValidation, err.Kind)
		assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	})
}

func TestPostMarshalsBody(t *testing.T) {
	var received map[string]any
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		fmt.Fprint(w, `{}`)
	}, Config{}, nil)

	_, err := gw.Call(context.Background(), Request{
		Endpoint: "rpc/refresh",
		Method:   "POST",
		Body:     map[string]string{"symbol": "AAPL"},
	})
	require.Nil(t, err)
	assert.Equal(t, "AAPL", received["symbol"])
}
