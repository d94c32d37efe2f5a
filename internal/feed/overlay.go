package feed

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/findash/marketdata/internal/cache"
	"github.com/findash/marketdata/internal/marketdata"
	"github.com/findash/marketdata/internal/observ"
)

// UpdateFunc receives live-push quotes for a subscribed symbol.
type UpdateFunc func(marketdata.Quote)

// ErrorFunc is called once when the overlay gives up reconnecting.
type ErrorFunc func(error)

// ReconnectPolicy bounds the backoff loop after transport loss.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // <0 means retry forever
	Jitter       time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  5,
		Jitter:       250 * time.Millisecond,
	}
}

type subscriber struct {
	onUpdate UpdateFunc
	onError  ErrorFunc
}

// Overlay multiplexes per-symbol subscriptions onto one feed session. The
// first subscription dials; the last unsubscribe tears down. Ticks for
// subscribed symbols overwrite the shared cache, whatever tier currently
// occupies the slot, and fan out to every registered handler.
type Overlay struct {
	dial     Dialer
	cache    *cache.Cache[marketdata.Quote]
	quoteTTL time.Duration
	policy   ReconnectPolicy

	state int32 // atomic ConnectionState

	mu      sync.Mutex
	subs    map[string]map[string]subscriber
	feed    Feed               // non-nil only while a session is up
	cancel  context.CancelFunc // non-nil while the run loop is alive
	wg      sync.WaitGroup
	lastErr error
}

func NewOverlay(dial Dialer, c *cache.Cache[marketdata.Quote], quoteTTL time.Duration, policy ReconnectPolicy) *Overlay {
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultReconnectPolicy().InitialDelay
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	return &Overlay{
		dial:     dial,
		cache:    c,
		quoteTTL: quoteTTL,
		policy:   policy,
		subs:     map[string]map[string]subscriber{},
	}
}

func (o *Overlay) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&o.state))
}

// LastError reports why the overlay entered ERROR, nil otherwise.
func (o *Overlay) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Subscribe registers a handler for symbol under subscriberID. The first
// subscriber on a symbol issues a subscribe frame when connected, or queues
// it until the machine reaches CONNECTED. The first subscription overall
// dials the feed. While in ERROR, subscriptions queue until Retry.
func (o *Overlay) Subscribe(symbol, subscriberID string, onUpdate UpdateFunc, onError ErrorFunc) {
	symbol = marketdata.NormalizeSymbol(symbol)
	o.mu.Lock()
	defer o.mu.Unlock()

	set := o.subs[symbol]
	if set == nil {
		set = map[string]subscriber{}
		o.subs[symbol] = set
	}
	first := len(set) == 0
	set[subscriberID] = subscriber{onUpdate: onUpdate, onError: onError}
	observ.SetGauge("feed_subscriptions", float64(o.totalSubsLocked()), nil)

	if o.cancel == nil {
		// Queued: the run loop subscribes every live symbol once CONNECTED.
		if o.State() != StateError {
			o.startSessionLocked()
		}
		return
	}
	if first && o.State() == StateConnected && o.feed != nil {
		o.sendControlLocked("subscribe", symbol)
	}
}

// Unsubscribe drops subscriberID's interest in symbol. At refcount zero the
// symbol is unsubscribed from the feed; when no symbols remain the session
// is torn down and the machine returns to DISCONNECTED.
func (o *Overlay) Unsubscribe(symbol, subscriberID string) {
	symbol = marketdata.NormalizeSymbol(symbol)
	o.mu.Lock()
	set := o.subs[symbol]
	if set == nil {
		o.mu.Unlock()
		return
	}
	delete(set, subscriberID)
	if len(set) > 0 {
		observ.SetGauge("feed_subscriptions", float64(o.totalSubsLocked()), nil)
		o.mu.Unlock()
		return
	}
	delete(o.subs, symbol)
	observ.SetGauge("feed_subscriptions", float64(o.totalSubsLocked()), nil)
	if o.State() == StateConnected && o.feed != nil {
		o.sendControlLocked("unsubscribe", symbol)
	}
	cancel := o.cancel
	teardown := len(o.subs) == 0 && cancel != nil
	if teardown {
		o.cancel = nil
	}
	o.mu.Unlock()

	if teardown {
		cancel()
		o.wg.Wait()
		o.setState(StateDisconnected)
	}
}

// Retry leaves ERROR and dials again, carrying every live subscription over.
func (o *Overlay) Retry() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.State() != StateError || o.cancel != nil {
		return
	}
	o.lastErr = nil
	if len(o.subs) > 0 {
		o.startSessionLocked()
	} else {
		atomic.StoreInt32(&o.state, int32(StateDisconnected))
	}
}

// Close tears everything down and drops all subscriptions.
func (o *Overlay) Close() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.subs = map[string]map[string]subscriber{}
	o.lastErr = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		o.wg.Wait()
	}
	o.setState(StateDisconnected)
}

func (o *Overlay) totalSubsLocked() int {
	n := 0
	for _, set := range o.subs {
		n += len(set)
	}
	return n
}

func (o *Overlay) startSessionLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.setState(StateConnecting)
	o.wg.Add(1)
	go o.run(ctx)
}

// run owns the session lifecycle: dial, resubscribe, consume, reconnect.
// It is the only goroutine that opens or closes Feed instances, so a
// session is closed exactly once.
func (o *Overlay) run(ctx context.Context) {
	defer o.wg.Done()

	backoff := o.policy.InitialDelay
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		session := o.dial()
		if err := session.Open(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts++
			if o.policy.MaxAttempts >= 0 && attempts > o.policy.MaxAttempts {
				o.enterError(err)
				return
			}
			o.setState(StateReconnecting)
			observ.Log("feed_connect_failed", map[string]any{
				"attempt":    attempts,
				"error":      err.Error(),
				"backoff_ms": backoff.Milliseconds(),
			})
			if !o.sleep(ctx, backoff) {
				return
			}
			backoff = o.nextBackoff(backoff)
			continue
		}

		o.mu.Lock()
		o.feed = session
		o.mu.Unlock()
		o.setState(StateConnected)
		attempts = 0
		backoff = o.policy.InitialDelay
		o.flushSubscriptions(session)

		err := o.consume(ctx, session)
		session.Close()
		o.mu.Lock()
		o.feed = nil
		o.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		observ.IncCounter("feed_disconnects_total", nil)
		observ.Log("feed_transport_lost", map[string]any{"error": errString(err)})
		o.setState(StateReconnecting)
		if !o.sleep(ctx, backoff) {
			return
		}
		backoff = o.nextBackoff(backoff)
	}
}

// flushSubscriptions re-issues a subscribe frame for every symbol with at
// least one subscriber, covering both queued symbols and resubscription
// after a reconnect.
func (o *Overlay) flushSubscriptions(session Feed) {
	o.mu.Lock()
	symbols := make([]string, 0, len(o.subs))
	for symbol, set := range o.subs {
		if len(set) > 0 {
			symbols = append(symbols, symbol)
		}
	}
	o.mu.Unlock()

	for _, symbol := range symbols {
		if err := session.Send(ControlMessage{Action: "subscribe", Symbol: symbol}); err != nil {
			observ.Log("feed_subscribe_failed", map[string]any{"symbol": symbol, "error": err.Error()})
			return
		}
	}
}

func (o *Overlay) consume(ctx context.Context, session Feed) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-session.Messages():
			if !ok {
				return errors.New("message channel closed")
			}
			o.handleFrame(msg)
		case err := <-session.Closed():
			return err
		}
	}
}

func (o *Overlay) handleFrame(raw []byte) {
	var tick Tick
	if err := json.Unmarshal(raw, &tick); err != nil || tick.Symbol == "" {
		observ.IncCounter("feed_frames_invalid_total", nil)
		return
	}
	symbol := marketdata.NormalizeSymbol(tick.Symbol)

	o.mu.Lock()
	set := o.subs[symbol]
	subscribed := len(set) > 0
	handlers := make([]UpdateFunc, 0, len(set))
	for _, s := range set {
		if s.onUpdate != nil {
			handlers = append(handlers, s.onUpdate)
		}
	}
	o.mu.Unlock()
	if !subscribed {
		// Tick for a symbol nobody watches anymore, likely raced with an
		// unsubscribe frame in flight.
		return
	}

	ts := tick.TS
	if ts.IsZero() {
		ts = time.Now()
	}
	quote := marketdata.Quote{
		Symbol:        symbol,
		Price:         tick.Price,
		Change:        tick.Change,
		ChangePercent: tick.ChangePercent,
		Volume:        tick.Volume,
		Timestamp:     ts,
		SourceTier:    marketdata.TierLivePush,
	}
	// Push frames get the same fail-closed check as polled responses; a tick
	// that fails validation is dropped rather than written over good data.
	if err := marketdata.ValidateQuote(&quote); err != nil {
		observ.IncCounter("feed_frames_invalid_total", nil)
		observ.Log("feed_frame_rejected", map[string]any{"symbol": symbol, "error": err.Error()})
		return
	}
	o.cache.Set(marketdata.CacheKey(marketdata.KindQuote, symbol), quote, o.quoteTTL)
	observ.IncCounter("feed_ticks_total", map[string]string{"symbol": symbol})

	for _, h := range handlers {
		h(quote)
	}
}

func (o *Overlay) enterError(err error) {
	o.mu.Lock()
	o.lastErr = err
	cancel := o.cancel
	o.cancel = nil
	// ERROR has to become visible before the lock drops: a concurrent
	// Subscribe that sees cancel==nil and a stale state would dial again.
	o.setState(StateError)
	var errFns []ErrorFunc
	for _, set := range o.subs {
		for _, s := range set {
			if s.onError != nil {
				errFns = append(errFns, s.onError)
			}
		}
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	observ.IncCounter("feed_errors_total", nil)
	for _, fn := range errFns {
		fn(err)
	}
}

func (o *Overlay) setState(s ConnectionState) {
	old := ConnectionState(atomic.SwapInt32(&o.state, int32(s)))
	if old == s {
		return
	}
	observ.Log("feed_state_change", map[string]any{"from": old.String(), "to": s.String()})
	observ.SetGauge("feed_connection_state", float64(s), nil)
}

func (o *Overlay) sleep(ctx context.Context, backoff time.Duration) bool {
	delay := backoff
	if o.policy.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(o.policy.Jitter)))
	}
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Overlay) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > o.policy.MaxDelay {
		next = o.policy.MaxDelay
	}
	return next
}

func (o *Overlay) sendControlLocked(action, symbol string) {
	if err := o.feed.Send(ControlMessage{Action: action, Symbol: symbol}); err != nil {
		observ.Log("feed_control_failed", map[string]any{
			"action": action,
			"symbol": symbol,
			"error":  err.Error(),
		})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
