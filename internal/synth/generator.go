// Package synth produces placeholder market data for symbols whose real
// sources are all unavailable. Values are plausible, internally consistent,
// and always tagged synthetic so the UI can label them.
package synth

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/findash/marketdata/internal/marketdata"
)

type baseQuote struct {
	BasePrice  float64
	Volatility float64 // daily volatility as a decimal
	Volume     int64
}

// Generator emits randomized quotes around per-symbol base prices. Note that
// consecutive calls for the same symbol roll fresh values, so a failed symbol
// can show different placeholder numbers across reads. That mirrors the
// upstream dashboard's behavior; callers wanting stability must cache.
type Generator struct {
	mu     sync.Mutex // guards bases and random; rand.Rand is not safe for concurrent use
	bases  map[string]baseQuote
	random *rand.Rand
	clock  func() time.Time
}

// New creates a generator. src may be nil for a time-seeded source; tests
// pass a fixed seed.
func New(src rand.Source, clock func() time.Time) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	if clock == nil {
		clock = time.Now
	}
	return &Generator{
		bases: map[string]baseQuote{
			"AAPL":          {BasePrice: 182.50, Volatility: 0.025, Volume: 52000000},
			"MSFT":          {BasePrice: 415.75, Volatility: 0.022, Volume: 22000000},
			"GOOGL":         {BasePrice: 172.50, Volatility: 0.028, Volume: 18000000},
			"NVDA":          {BasePrice: 450.00, Volatility: 0.035, Volume: 38000000},
			"AMZN":          {BasePrice: 186.30, Volatility: 0.027, Volume: 30000000},
			"TCS.NSE":       {BasePrice: 3420.00, Volatility: 0.018, Volume: 1800000},
			"RELIANCE.NSE":  {BasePrice: 2950.00, Volatility: 0.020, Volume: 4500000},
			"INFY.NSE":      {BasePrice: 1620.00, Volatility: 0.021, Volume: 5200000},
			"HDFCBANK.NSE":  {BasePrice: 1680.00, Volatility: 0.019, Volume: 6500000},
		},
		random: rand.New(src),
		clock:  clock,
	}
}

// Quote builds a placeholder quote for symbol. Unknown symbols get a base
// price derived from a hash of the symbol so the magnitude at least stays
// stable across reads.
func (g *Generator) Quote(symbol string) marketdata.Quote {
	symbol = marketdata.NormalizeSymbol(symbol)
	g.mu.Lock()
	defer g.mu.Unlock()
	base := g.baseFor(symbol)

	// Bounded random walk around the base price.
	move := g.random.NormFloat64() * base.Volatility
	if move > base.Volatility {
		move = base.Volatility
	}
	if move < -base.Volatility {
		move = -base.Volatility
	}

	price := roundCents(base.BasePrice * (1 + move))
	prevClose := base.BasePrice
	change := roundCents(price - prevClose)
	changePct := 0.0
	if prevClose > 0 {
		changePct = round4(change / prevClose * 100)
	}

	volumeVariation := 0.7 + g.random.Float64()*0.6 // 70%-130% of base
	volume := int64(float64(base.Volume) * volumeVariation)

	return marketdata.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: changePct,
		Volume:        volume,
		Timestamp:     g.clock(),
		SourceTier:    marketdata.TierSynthetic,
	}
}

// Fundamentals builds a placeholder company overview for symbol.
func (g *Generator) Fundamentals(symbol string) map[string]any {
	symbol = marketdata.NormalizeSymbol(symbol)
	g.mu.Lock()
	defer g.mu.Unlock()
	base := g.baseFor(symbol)
	eps := roundCents(base.BasePrice / (18 + g.random.Float64()*14))
	return map[string]any{
		"symbol":         symbol,
		"name":           symbol,
		"sector":         "Unknown",
		"market_cap":     roundCents(base.BasePrice * float64(base.Volume) * 10),
		"pe_ratio":       round4(base.BasePrice / eps),
		"eps":            eps,
		"dividend_yield": round4(g.random.Float64() * 0.03),
	}
}

// AddSymbol registers a base price so synthetic data for a known watchlist
// symbol stays near its real range.
func (g *Generator) AddSymbol(symbol string, basePrice, volatility float64, volume int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bases[marketdata.NormalizeSymbol(symbol)] = baseQuote{
		BasePrice:  basePrice,
		Volatility: volatility,
		Volume:     volume,
	}
}

func (g *Generator) baseFor(symbol string) baseQuote {
	if base, ok := g.bases[symbol]; ok {
		return base
	}
	h := fnv.New32a()
	h.Write([]byte(symbol))
	// Hash maps to a 10..1000 price band.
	price := 10 + float64(h.Sum32()%99000)/100
	return baseQuote{BasePrice: price, Volatility: 0.03, Volume: 500000}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
