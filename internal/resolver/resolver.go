// Package resolver orders cache, gateway, and synthetic generation into one
// data-fetch contract that always returns a quote. A stale-but-labeled number
// beats a blank dashboard; the source tier tells consumers which one they got.
package resolver

import (
	"context"
	"time"

	"github.com/findash/marketdata/internal/cache"
	"github.com/findash/marketdata/internal/gateway"
	"github.com/findash/marketdata/internal/marketdata"
	"github.com/findash/marketdata/internal/observ"
	"github.com/findash/marketdata/internal/synth"
)

// Fetcher is the live-data dependency; satisfied by gateway.QuoteClient.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string, kind marketdata.DataKind) gateway.FetchOutcome
}

// TTLs holds the per-kind cache lifetimes plus the short lifetime for
// synthetic placeholders (so repeated failures don't re-roll the generator
// on every read).
type TTLs struct {
	Quote        time.Duration
	Intraday     time.Duration
	Daily        time.Duration
	Fundamentals time.Duration
	News         time.Duration
	Synthetic    time.Duration
}

// DefaultTTLs mirror the upstream dashboard's cache classes.
func DefaultTTLs() TTLs {
	return TTLs{
		Quote:        60 * time.Second,
		Intraday:     15 * time.Minute,
		Daily:        24 * time.Hour,
		Fundamentals: 24 * time.Hour,
		News:         time.Hour,
		Synthetic:    30 * time.Second,
	}
}

func (t TTLs) For(kind marketdata.DataKind) time.Duration {
	switch kind {
	case marketdata.KindIntraday:
		return t.Intraday
	case marketdata.KindDaily:
		return t.Daily
	case marketdata.KindFundamentals:
		return t.Fundamentals
	case marketdata.KindNews:
		return t.News
	default:
		return t.Quote
	}
}

// Resolver walks cache -> gateway -> synthetic, strictly in that order,
// short-circuiting at the first tier that produces data.
type Resolver struct {
	cache   *cache.Cache[marketdata.Quote]
	fetcher Fetcher
	synth   *synth.Generator
	ttls    TTLs
}

func New(c *cache.Cache[marketdata.Quote], fetcher Fetcher, gen *synth.Generator, ttls TTLs) *Resolver {
	return &Resolver{cache: c, fetcher: fetcher, synth: gen, ttls: ttls}
}

// Resolve returns a quote for symbol. It never fails: every gateway error,
// whatever its kind, falls through to the synthetic tier. (That includes
// AUTHENTICATION errors, which arguably deserve different handling; the
// behavior is kept uniform to match the dashboard it serves.)
func (r *Resolver) Resolve(ctx context.Context, symbol string, kind marketdata.DataKind) marketdata.Quote {
	symbol = marketdata.NormalizeSymbol(symbol)
	key := marketdata.CacheKey(kind, symbol)

	if cached, ok := r.cache.Get(key); ok {
		observ.IncCounter("resolver_hits_total", map[string]string{"tier": string(marketdata.TierCache)})
		return cached.WithTier(marketdata.TierCache)
	}

	outcome := r.fetcher.FetchQuote(ctx, symbol, kind)
	if outcome.Err == nil && outcome.Data != nil {
		quote := outcome.Data.WithTier(marketdata.TierLivePoll)
		r.cache.Set(key, quote, r.ttls.For(kind))
		observ.IncCounter("resolver_hits_total", map[string]string{"tier": string(marketdata.TierLivePoll)})
		return quote
	}

	if outcome.Err != nil {
		observ.Log("resolver_fallback", map[string]any{
			"symbol":     symbol,
			"kind":       string(kind),
			"error_kind": string(outcome.Err.Kind),
			"error":      outcome.Err.Message,
		})
	}

	quote := r.synth.Quote(symbol)
	r.cache.Set(key, quote, r.ttls.Synthetic)
	observ.IncCounter("resolver_synthetic_total", map[string]string{"symbol": symbol})
	observ.IncCounter("resolver_hits_total", map[string]string{"tier": string(marketdata.TierSynthetic)})
	return quote
}

// Cache exposes the shared cache so the push overlay can overwrite entries
// for subscribed symbols.
func (r *Resolver) Cache() *cache.Cache[marketdata.Quote] { return r.cache }

// QuoteTTL reports the lifetime used for live quotes; the overlay reuses it
// when writing push updates.
func (r *Resolver) QuoteTTL() time.Duration { return r.ttls.Quote }
