package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/findash/marketdata/internal/cache"
	"github.com/findash/marketdata/internal/config"
	"github.com/findash/marketdata/internal/feed"
	"github.com/findash/marketdata/internal/gateway"
	"github.com/findash/marketdata/internal/marketdata"
	"github.com/findash/marketdata/internal/observ"
	"github.com/findash/marketdata/internal/resolver"
	"github.com/findash/marketdata/internal/synth"
)

const maxBatchSymbols = 50

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "path to YAML config")
	flag.Parse()

	// Optional .env for local runs; real deployments set the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Gateway.APIKey() == "" {
		observ.Log("service_key_missing", map[string]any{"env": cfg.Gateway.APIKeyEnv})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	quotes := cache.New[marketdata.Quote](time.Now)
	quotes.StartSweeper(ctx, time.Duration(cfg.TTL.SweepIntervalSecs)*time.Second)

	gw := gateway.New(gateway.Config{
		BaseURL:            cfg.Gateway.BaseURL,
		ServiceKey:         cfg.Gateway.APIKey(),
		TimeoutMs:          cfg.Gateway.TimeoutMs,
		Retries:            cfg.Gateway.Retries,
		RateLimitPerMinute: cfg.Gateway.RateLimitPerMinute,
	}, sessionTokens(cfg.Gateway))

	provider := gateway.NewQuoteClient(gw)
	generator := synth.New(nil, nil)
	res := resolver.New(quotes, provider, generator, resolverTTLs(cfg.TTL))
	batch := resolver.NewBatch(res, time.Duration(cfg.Batch.PacingMs)*time.Millisecond)

	fundamentals := cache.New[gateway.Fundamentals](time.Now)
	fundamentals.StartSweeper(ctx, time.Duration(cfg.TTL.SweepIntervalSecs)*time.Second)

	var overlay *feed.Overlay
	if cfg.Feed.Enabled {
		overlay = feed.NewOverlay(
			feed.WSDialer(cfg.Feed.URL),
			quotes,
			time.Duration(cfg.TTL.QuoteSeconds)*time.Second,
			reconnectPolicy(cfg.Feed.Reconnect),
		)
		defer overlay.Close()
		for _, symbol := range cfg.Feed.Symbols {
			overlay.Subscribe(symbol, "marketd", nil, func(err error) {
				observ.Log("watchlist_feed_error", map[string]any{"error": err.Error()})
			})
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/quote", quoteHandler(res))
	mux.HandleFunc("/api/quotes", quotesHandler(batch))
	mux.HandleFunc("/api/fundamentals", fundamentalsHandler(
		fundamentals, provider, generator,
		time.Duration(cfg.TTL.FundamentalsSeconds)*time.Second,
	))
	if overlay != nil {
		mux.HandleFunc("/api/feed/state", feedStateHandler(overlay))
	}
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler())

	server := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	go func() {
		observ.Log("server_started", map[string]any{
			"addr":         cfg.Server.ListenAddr,
			"feed_enabled": cfg.Feed.Enabled,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.Log("server_failed", map[string]any{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	observ.Log("server_stopping", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func sessionTokens(g config.Gateway) gateway.SessionTokenSource {
	token := g.SessionToken()
	if token == "" {
		return nil
	}
	return gateway.SessionTokenFunc(func() (string, bool) { return token, true })
}

func resolverTTLs(t config.TTL) resolver.TTLs {
	return resolver.TTLs{
		Quote:        time.Duration(t.QuoteSeconds) * time.Second,
		Intraday:     time.Duration(t.IntradaySeconds) * time.Second,
		Daily:        time.Duration(t.DailySeconds) * time.Second,
		Fundamentals: time.Duration(t.FundamentalsSeconds) * time.Second,
		News:         time.Duration(t.NewsSeconds) * time.Second,
		Synthetic:    time.Duration(t.SyntheticSeconds) * time.Second,
	}
}

func reconnectPolicy(r config.Reconnect) feed.ReconnectPolicy {
	return feed.ReconnectPolicy{
		InitialDelay: time.Duration(r.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxDelayMs) * time.Millisecond,
		MaxAttempts:  r.MaxAttempts,
		Jitter:       time.Duration(r.JitterMs) * time.Millisecond,
	}
}

func quoteHandler(res *resolver.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
		if symbol == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol is required"})
			return
		}
		kind, ok := parseKind(r.URL.Query().Get("kind"))
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown kind"})
			return
		}
		writeJSON(w, http.StatusOK, res.Resolve(r.Context(), symbol, kind))
	}
}

func quotesHandler(batch *resolver.Batch) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.URL.Query().Get("symbols"))
		if raw == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbols is required"})
			return
		}
		var symbols []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) == 0 || len(symbols) > maxBatchSymbols {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("between 1 and %d symbols required", maxBatchSymbols),
			})
			return
		}
		writeJSON(w, http.StatusOK, batch.FetchMany(r.Context(), symbols))
	}
}

// fundamentalsHandler mirrors the resolver's tiering for company overviews:
// cached, else live, else a synthetic placeholder, with the tier surfaced.
func fundamentalsHandler(c *cache.Cache[gateway.Fundamentals], provider *gateway.QuoteClient, generator *synth.Generator, ttl time.Duration) http.HandlerFunc {
	type response struct {
		Data       any                   `json:"data"`
		SourceTier marketdata.SourceTier `json:"source_tier"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := marketdata.NormalizeSymbol(r.URL.Query().Get("symbol"))
		if symbol == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol is required"})
			return
		}
		key := marketdata.CacheKey(marketdata.KindFundamentals, symbol)
		if f, ok := c.Get(key); ok {
			writeJSON(w, http.StatusOK, response{Data: f, SourceTier: marketdata.TierCache})
			return
		}
		f, gerr := provider.FetchFundamentals(r.Context(), symbol)
		if gerr == nil {
			c.Set(key, *f, ttl)
			writeJSON(w, http.StatusOK, response{Data: f, SourceTier: marketdata.TierLivePoll})
			return
		}
		observ.Log("fundamentals_fallback", map[string]any{
			"symbol":     symbol,
			"error_kind": string(gerr.Kind),
			"error":      gerr.Message,
		})
		writeJSON(w, http.StatusOK, response{Data: generator.Fundamentals(symbol), SourceTier: marketdata.TierSynthetic})
	}
}

func feedStateHandler(overlay *feed.Overlay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := map[string]any{"state": overlay.State().String()}
		if err := overlay.LastError(); err != nil {
			state["error"] = err.Error()
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func parseKind(raw string) (marketdata.DataKind, bool) {
	switch raw {
	case "", string(marketdata.KindQuote):
		return marketdata.KindQuote, true
	case string(marketdata.KindIntraday):
		return marketdata.KindIntraday, true
	case string(marketdata.KindDaily):
		return marketdata.KindDaily, true
	case string(marketdata.KindFundamentals):
		return marketdata.KindFundamentals, true
	case string(marketdata.KindNews):
		return marketdata.KindNews, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
