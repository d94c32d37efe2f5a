package marketdata

import (
	"testing"
	"time"
)

func TestValidateQuote(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		quote   *Quote
		wantErr bool
	}{
		{
			name: "valid quote",
			quote: &Quote{
				Symbol:        "AAPL",
				Price:         180.20,
				Change:        1.10,
				ChangePercent: 0.61,
				Volume:        52000000,
				Timestamp:     now.Add(-30 * time.Second),
			},
			wantErr: false,
		},
		{
			name: "valid negative move",
			quote: &Quote{
				Symbol:        "TCS.NSE",
				Price:         3407.50,
				Change:        -12.30,
				ChangePercent: -0.36,
				Volume:        1200000,
				Timestamp:     now,
			},
			wantErr: false,
		},
		{
			name:    "nil quote",
			quote:   nil,
			wantErr: true,
		},
		{
			name: "empty symbol",
			quote: &Quote{
				Symbol: "  ",
				Price:  100,
			},
			wantErr: true,
		},
		{
			name: "non-positive price",
			quote: &Quote{
				Symbol: "AAPL",
				Price:  0,
			},
			wantErr: true,
		},
		{
			name: "torn change sign",
			quote: &Quote{
				Symbol:        "AAPL",
				Price:         180.20,
				Change:        1.10,
				ChangePercent: -0.61,
			},
			wantErr: true,
		},
		{
			name: "negative volume",
			quote: &Quote{
				Symbol: "AAPL",
				Price:  180.20,
				Volume: -5,
			},
			wantErr: true,
		},
		{
			name: "future timestamp",
			quote: &Quote{
				Symbol:    "AAPL",
				Price:     180.20,
				Timestamp: now.Add(10 * time.Minute),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuote(tt.quote)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateQuote() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCacheKey(t *testing.T) {
	if got := CacheKey(KindQuote, "aapl "); got != "quote-AAPL" {
		t.Errorf("CacheKey() = %q, want %q", got, "quote-AAPL")
	}
	if got := CacheKey(KindFundamentals, "TCS.NSE"); got != "fundamentals-general-TCS.NSE" {
		t.Errorf("CacheKey() = %q, want %q", got, "fundamentals-general-TCS.NSE")
	}
	if CacheKey(KindQuote, "AAPL") == CacheKey(KindDaily, "AAPL") {
		t.Error("different kinds for the same symbol must not collide")
	}
}

func TestWithTierCopies(t *testing.T) {
	orig := Quote{Symbol: "AAPL", Price: 180.20, SourceTier: TierLivePoll}
	tagged := orig.WithTier(TierCache)

	if tagged.SourceTier != TierCache {
		t.Errorf("tagged tier = %v, want %v", tagged.SourceTier, TierCache)
	}
	if orig.SourceTier != TierLivePoll {
		t.Error("WithTier mutated the original quote")
	}
}
