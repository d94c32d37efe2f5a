// feedstub is a local websocket server that stands in for the production
// push feed. It accepts subscribe/unsubscribe frames and pushes generated
// ticks for subscribed symbols at a fixed interval.
package main

import (
	"flag"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/findash/marketdata/internal/feed"
	"github.com/findash/marketdata/internal/synth"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type session struct {
	conn *websocket.Conn
	gen  *synth.Generator

	mu      sync.Mutex
	symbols map[string]bool
}

func (s *session) handleControl(msg feed.ControlMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		s.symbols[msg.Symbol] = true
		log.Printf("subscribe %s (%d active)", msg.Symbol, len(s.symbols))
	case "unsubscribe":
		delete(s.symbols, msg.Symbol)
		log.Printf("unsubscribe %s (%d active)", msg.Symbol, len(s.symbols))
	default:
		log.Printf("unknown action %q", msg.Action)
	}
}

func (s *session) pushTicks(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		symbols := make([]string, 0, len(s.symbols))
		for sym := range s.symbols {
			symbols = append(symbols, sym)
		}
		s.mu.Unlock()
		for _, sym := range symbols {
			q := s.gen.Quote(sym)
			tick := feed.Tick{
				Type:          "tick",
				Symbol:        q.Symbol,
				Price:         q.Price,
				Change:        q.Change,
				ChangePercent: q.ChangePercent,
				Volume:        q.Volume,
				TS:            time.Now().UTC(),
			}
			if err := s.conn.WriteJSON(tick); err != nil {
				return
			}
		}
	}
}

func feedHandler(interval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("client connected: %s", conn.RemoteAddr())

		s := &session{
			conn:    conn,
			gen:     synth.New(nil, nil),
			symbols: map[string]bool{},
		}
		done := make(chan struct{})
		go s.pushTicks(interval, done)

		for {
			var msg feed.ControlMessage
			if err := conn.ReadJSON(&msg); err != nil {
				log.Printf("client gone: %v", err)
				close(done)
				return
			}
			s.handleControl(msg)
		}
	}
}

func main() {
	var addr string
	var intervalMs int
	flag.StringVar(&addr, "addr", ":8091", "listen address")
	flag.IntVar(&intervalMs, "interval-ms", 1000, "tick interval per symbol")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", feedHandler(time.Duration(intervalMs)*time.Millisecond))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	log.Printf("feed stub listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
