package resolver

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/findash/marketdata/internal/cache"
	"github.com/findash/marketdata/internal/gateway"
	"github.com/findash/marketdata/internal/marketdata"
	"github.com/findash/marketdata/internal/synth"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeFetcher scripts per-symbol outcomes and counts calls so tests can
// assert which resolutions actually reached the wire.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	outcomes map[string]gateway.FetchOutcome
	panicOn  string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:    map[string]int{},
		outcomes: map[string]gateway.FetchOutcome{},
	}
}

func (f *fakeFetcher) FetchQuote(ctx context.Context, symbol string, kind marketdata.DataKind) gateway.FetchOutcome {
	f.mu.Lock()
	f.calls[symbol]++
	f.mu.Unlock()
	if symbol == f.panicOn {
		panic("provider parse bug")
	}
	if err := ctx.Err(); err != nil {
		return gateway.FetchOutcome{Err: gateway.NewNetworkError("request aborted", err)}
	}
	if out, ok := f.outcomes[symbol]; ok {
		return out
	}
	return gateway.FetchOutcome{Err: gateway.NewValidationError("no data for symbol")}
}

func (f *fakeFetcher) callsFor(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func (f *fakeFetcher) succeedWith(symbol string, price, change float64) {
	q := &marketdata.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: change / (price - change) * 100,
		Volume:        1_000_000,
		Timestamp:     time.Now(),
	}
	f.outcomes[symbol] = gateway.FetchOutcome{Data: q}
}

func (f *fakeFetcher) failWith(symbol string, err *gateway.Error) {
	f.outcomes[symbol] = gateway.FetchOutcome{Err: err}
}

func newTestResolver(t *testing.T) (*Resolver, *fakeFetcher, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)}
	c := cache.New[marketdata.Quote](clock.Now)
	fetcher := newFakeFetcher()
	gen := synth.New(rand.NewSource(7), clock.Now)
	return New(c, fetcher, gen, DefaultTTLs()), fetcher, clock
}

func TestResolveLiveThenCache(t *testing.T) {
	r, fetcher, _ := newTestResolver(t)
	fetcher.succeedWith("AAPL", 182.50, 1.20)

	first := r.Resolve(context.Background(), "AAPL", marketdata.KindQuote)
	require.Equal(t, marketdata.TierLivePoll, first.SourceTier)
	require.Equal(t, 182.50, first.Price)
	require.Equal(t, 1, fetcher.callsFor("AAPL"))

	second := r.Resolve(context.Background(), "AAPL", marketdata.KindQuote)
	assert.Equal(t, marketdata.TierCache, second.SourceTier)
	assert.Equal(t, first.Price, second.Price)
	assert.Equal(t, 1, fetcher.callsFor("AAPL"), "cache hit must not reach the gateway")
}

func TestResolveRefetchesAfterExpiry(t *testing.T) {
	r, fetcher, clock := newTestResolver(t)
	fetcher.succeedWith("MSFT", 415.75, -2.10)

	r.Resolve(context.Background(), "MSFT", marketdata.KindQuote)
	clock.Advance(61 * time.Second)

	again := r.Resolve(context.Background(), "MSFT", marketdata.KindQuote)
	assert.Equal(t, marketdata.TierLivePoll, again.SourceTier)
	assert.Equal(t, 2, fetcher.callsFor("MSFT"))
}

func TestResolveFallsBackToSynthetic(t *testing.T) {
	cases := []struct {
		name string
		err  *gateway.Error
	}{
		{"network", gateway.NewNetworkError("connection refused", nil)},
		{"timeout", gateway.NewTimeoutError("deadline exceeded", nil)},
		{"authentication", &gateway.Error{Kind: gateway.ErrAuthentication, Status: 401, Message: "bad key"}},
		{"server", &gateway.Error{Kind: gateway.ErrServer, Status: 503, Message: "unavailable"}},
		{"validation", gateway.NewValidationError("malformed payload")},
		{"unknown", &gateway.Error{Kind: gateway.ErrUnknown, Message: "teapot"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, fetcher, _ := newTestResolver(t)
			fetcher.failWith("TCS.NSE", tc.err)

			q := r.Resolve(context.Background(), "TCS.NSE", marketdata.KindQuote)
			require.Equal(t, marketdata.TierSynthetic, q.SourceTier)
			require.NoError(t, marketdata.ValidateQuote(&q))
			if q.Change > 0 {
				assert.Greater(t, q.ChangePercent, 0.0)
			} else if q.Change < 0 {
				assert.Less(t, q.ChangePercent, 0.0)
			}
		})
	}
}

func TestSyntheticIsCachedBriefly(t *testing.T) {
	r, fetcher, clock := newTestResolver(t)
	fetcher.failWith("NVDA", gateway.NewNetworkError("down", nil))

	first := r.Resolve(context.Background(), "NVDA", marketdata.KindQuote)
	require.Equal(t, marketdata.TierSynthetic, first.SourceTier)

	// Within the synthetic TTL the cached placeholder is served as-is,
	// with the cache tier, and the gateway is not retried.
	second := r.Resolve(context.Background(), "NVDA", marketdata.KindQuote)
	assert.Equal(t, marketdata.TierCache, second.SourceTier)
	assert.Equal(t, first.Price, second.Price)
	assert.Equal(t, 1, fetcher.callsFor("NVDA"))

	clock.Advance(31 * time.Second)
	r.Resolve(context.Background(), "NVDA", marketdata.KindQuote)
	assert.Equal(t, 2, fetcher.callsFor("NVDA"), "expired placeholder should retry the gateway")
}

func TestResolveNormalizesSymbol(t *testing.T) {
	r, fetcher, _ := newTestResolver(t)
	fetcher.succeedWith("AAPL", 182.50, 1.20)

	q := r.Resolve(context.Background(), "  aapl ", marketdata.KindQuote)
	require.Equal(t, "AAPL", q.Symbol)

	cached := r.Resolve(context.Background(), "AAPL", marketdata.KindQuote)
	assert.Equal(t, marketdata.TierCache, cached.SourceTier)
}

func TestPerKindTTLs(t *testing.T) {
	r, fetcher, clock := newTestResolver(t)
	fetcher.succeedWith("AAPL", 182.50, 1.20)

	r.Resolve(context.Background(), "AAPL", marketdata.KindDaily)
	clock.Advance(2 * time.Hour)

	q := r.Resolve(context.Background(), "AAPL", marketdata.KindDaily)
	assert.Equal(t, marketdata.TierCache, q.SourceTier, "daily data lives for a day")
	assert.Equal(t, 1, fetcher.callsFor("AAPL"))
}

func TestKindsDoNotCollideInCache(t *testing.T) {
	r, fetcher, _ := newTestResolver(t)
	fetcher.succeedWith("AAPL", 182.50, 1.20)

	r.Resolve(context.Background(), "AAPL", marketdata.KindQuote)
	daily := r.Resolve(context.Background(), "AAPL", marketdata.KindDaily)
	assert.Equal(t, marketdata.TierLivePoll, daily.SourceTier, "different kind must miss the cache")
	assert.Equal(t, 2, fetcher.callsFor("AAPL"))
}
