package marketdata

import (
	"fmt"
	"strings"
	"time"
)

// SourceTier labels the provenance of a Quote so downstream consumers can
// distinguish real from placeholder data.
type SourceTier string

const (
	TierCache     SourceTier = "cache"
	TierLivePoll  SourceTier = "live-poll"
	TierLivePush  SourceTier = "live-push"
	TierSynthetic SourceTier = "synthetic"
)

// DataKind selects which class of provider data is being requested. Each
// kind carries its own cache TTL: real-time quotes go stale in a minute,
// fundamentals keep for a day.
type DataKind string

const (
	KindQuote        DataKind = "quote"
	KindIntraday     DataKind = "intraday"
	KindDaily        DataKind = "daily"
	KindFundamentals DataKind = "fundamentals-general"
	KindNews         DataKind = "news"
)

// Quote is the normalized market snapshot produced by every resolver tier.
// Quotes are replaced whole, never mutated in place.
type Quote struct {
	Symbol        string     `json:"symbol"`
	Price         float64    `json:"price"`
	Change        float64    `json:"change"`
	ChangePercent float64    `json:"change_percent"`
	Volume        int64      `json:"volume"`
	Timestamp     time.Time  `json:"timestamp"`
	SourceTier    SourceTier `json:"source_tier"`
}

// WithTier returns a copy carrying the given provenance tag.
func (q Quote) WithTier(tier SourceTier) Quote {
	q.SourceTier = tier
	return q
}

// CacheKey builds the "<kind>-<symbol>" cache key so different data kinds for
// the same symbol never collide (e.g. "quote-AAPL", "fundamentals-general-TCS.NSE").
func CacheKey(kind DataKind, symbol string) string {
	return string(kind) + "-" + NormalizeSymbol(symbol)
}

// NormalizeSymbol uppercases and trims; exchange suffixes like ".NSE" are kept.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateQuote rejects quotes that would poison the cache. Fail-closed: a
// provider response that parses but makes no sense is an error, not a zero.
func ValidateQuote(q *Quote) error {
	if q == nil {
		return fmt.Errorf("quote is nil")
	}

	q.Symbol = NormalizeSymbol(q.Symbol)
	if q.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}

	if q.Price <= 0 {
		return fmt.Errorf("invalid price: %.4f", q.Price)
	}

	// Change and percent change must agree in sign; a positive move with a
	// negative percentage means the provider payload is torn.
	if q.Change > 0 && q.ChangePercent < 0 || q.Change < 0 && q.ChangePercent > 0 {
		return fmt.Errorf("inconsistent change sign: change=%.4f change_percent=%.4f",
			q.Change, q.ChangePercent)
	}

	if q.Volume < 0 {
		return fmt.Errorf("negative volume: %d", q.Volume)
	}

	if !q.Timestamp.IsZero() && q.Timestamp.After(time.Now().Add(5*time.Minute)) {
		return fmt.Errorf("quote timestamp too far in future: %v", q.Timestamp)
	}

	return nil
}
