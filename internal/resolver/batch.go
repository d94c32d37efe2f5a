package resolver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/findash/marketdata/internal/marketdata"
	"github.com/findash/marketdata/internal/observ"
)

// Batch resolves several symbols sequentially, pacing the resolutions that
// may hit the wire so a dashboard refresh of a dozen tiles doesn't burn the
// provider's per-minute budget in one burst.
type Batch struct {
	resolver *Resolver
	limiter  *rate.Limiter
}

// DefaultPacing is the interval between wire-bound resolutions.
const DefaultPacing = 200 * time.Millisecond

func NewBatch(r *Resolver, pacing time.Duration) *Batch {
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	return &Batch{
		resolver: r,
		limiter:  rate.NewLimiter(rate.Every(pacing), 1),
	}
}

// FetchMany returns exactly one quote per requested symbol. Symbols already
// in cache skip the pacing delay. If ctx expires partway through, the
// remaining symbols still get entries; they just resolve without touching
// the gateway, which degrades them to cache or synthetic.
func (b *Batch) FetchMany(ctx context.Context, symbols []string) map[string]marketdata.Quote {
	results := make(map[string]marketdata.Quote, len(symbols))
	start := time.Now()

	for _, raw := range symbols {
		symbol := marketdata.NormalizeSymbol(raw)
		if _, done := results[symbol]; done {
			continue
		}
		key := marketdata.CacheKey(marketdata.KindQuote, symbol)
		if _, ok := b.resolver.cache.Get(key); !ok {
			// Only uncached symbols can reach the gateway, so only they pay
			// the pacing delay. Wait returns early once ctx is done, and a
			// done ctx makes the gateway fail fast downstream, so resolution
			// still lands on cache or synthetic for every remaining symbol.
			_ = b.limiter.Wait(ctx)
		}
		results[symbol] = b.resolveIsolated(ctx, symbol)
	}

	observ.Log("batch_fetch", map[string]any{
		"requested":   len(symbols),
		"resolved":    len(results),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	observ.Observe("batch_fetch_symbols", float64(len(results)), nil)
	return results
}

// resolveIsolated guards a single resolution so one bad symbol cannot sink
// the rest of the batch. A panic degrades that symbol to synthetic.
func (b *Batch) resolveIsolated(ctx context.Context, symbol string) (quote marketdata.Quote) {
	defer func() {
		if rec := recover(); rec != nil {
			observ.Log("batch_symbol_panic", map[string]any{
				"symbol": symbol,
				"panic":  fmt.Sprint(rec),
			})
			observ.IncCounter("batch_panics_total", nil)
			quote = b.resolver.synth.Quote(symbol)
		}
	}()
	return b.resolver.Resolve(ctx, symbol, marketdata.KindQuote)
}
