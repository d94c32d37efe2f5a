package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/findash/marketdata/internal/observ"
)

const wsFrameBuffer = 256

// WSFeed is the websocket implementation of Feed.
type WSFeed struct {
	url      string
	conn     *websocket.Conn
	messages chan []byte
	closed   chan error
	once     sync.Once

	// guards writes; gorilla allows one concurrent writer
	writeMu sync.Mutex
}

func NewWSFeed(url string) *WSFeed {
	return &WSFeed{
		url:      url,
		messages: make(chan []byte, wsFrameBuffer),
		closed:   make(chan error, 1),
	}
}

// WSDialer adapts NewWSFeed to the overlay's Dialer contract.
func WSDialer(url string) Dialer {
	return func() Feed { return NewWSFeed(url) }
}

func (f *WSFeed) Open(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	f.conn = conn
	go f.readLoop()
	return nil
}

func (f *WSFeed) readLoop() {
	for {
		_, payload, err := f.conn.ReadMessage()
		if err != nil {
			f.closed <- err
			return
		}
		select {
		case f.messages <- payload:
		default:
			// Ticks are superseded by the next tick anyway.
			observ.IncCounter("feed_frames_dropped_total", nil)
		}
	}
}

func (f *WSFeed) Send(v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.conn == nil {
		return errors.New("feed not open")
	}
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) Messages() <-chan []byte { return f.messages }

func (f *WSFeed) Closed() <-chan error { return f.closed }

func (f *WSFeed) Close() error {
	var err error
	f.once.Do(func() {
		if f.conn != nil {
			err = f.conn.Close()
		}
	})
	return err
}
