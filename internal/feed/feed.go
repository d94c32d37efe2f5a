// Package feed layers symbol subscriptions over a push transport. The
// overlay owns reference counting, reconnects, and cache updates; the
// transport behind the Feed interface only moves frames.
package feed

import (
	"context"
	"time"
)

// Feed is one session on the push transport. A Feed is single-use: after
// Closed fires the session is dead and the overlay dials a fresh one.
type Feed interface {
	// Open establishes the session. It must not be called twice.
	Open(ctx context.Context) error

	// Send writes a JSON control message on the session.
	Send(v any) error

	// Messages delivers raw frames until the session dies.
	Messages() <-chan []byte

	// Closed fires once with the terminal transport error.
	Closed() <-chan error

	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Dialer produces a fresh Feed session per connection attempt.
type Dialer func() Feed

// ControlMessage is the subscribe/unsubscribe frame the feed server speaks.
type ControlMessage struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
}

// Tick is a push price update for one symbol.
type Tick struct {
	Type          string    `json:"type"`
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	TS            time.Time `json:"ts_utc"`
}
