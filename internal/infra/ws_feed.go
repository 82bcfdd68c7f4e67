package infra

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"market_store/internal/domain"
)

// WSFeed reads JSON envelopes from a websocket endpoint into the sequencer
// inbox. Subscription requests are written upstream and replayed after
// every reconnect.
type WSFeed struct {
	url   string
	inbox chan<- domain.Message

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[int64]*domain.MarketDataRequest // by transaction id
	order   []int64

	Backoff      Backoff
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// NewWSFeed creates a websocket feed. Call Run to connect.
func NewWSFeed(url string, inbox chan<- domain.Message) *WSFeed {
	return &WSFeed{
		url:          url,
		inbox:        inbox,
		subs:         make(map[int64]*domain.MarketDataRequest),
		Backoff:      DefaultBackoff,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

func (f *WSFeed) Name() string { return "websocket" }

// Run connects, reads until the connection drops and reconnects with
// backoff until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	retry := 0
	for ctx.Err() == nil {
		if err := f.connect(ctx); err != nil {
			slog.Warn("WS connection failed",
				slog.String("url", f.url),
				slog.Int("retry", retry),
				slog.Any("error", err))
			if !f.Backoff.Wait(ctx.Done(), retry) {
				break
			}
			retry++
			continue
		}

		retry = 0
		f.read(ctx)
	}
	f.close()
	return nil
}

func (f *WSFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for _, req := range f.active() {
		if err := f.write(req); err != nil {
			f.close()
			return fmt.Errorf("failed to resubscribe %d: %w", req.TransactionID, err)
		}
	}

	if f.PingInterval > 0 {
		go f.pingLoop(ctx, conn)
	}

	slog.Info("WS connected", slog.String("url", f.url))
	return nil
}

func (f *WSFeed) read(ctx context.Context) {
	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, f.close)
	defer stop()

	for {
		f.mu.RLock()
		c := f.conn
		f.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("WS read error", slog.String("url", f.url), slog.Any("error", err))
			}
			f.close()
			return
		}

		if !deliver(ctx, f.inbox, f.Name(), msg) {
			return
		}
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.RLock()
			current := f.conn
			f.mu.RUnlock()
			if current != conn {
				return
			}
			f.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			f.writeMu.Unlock()
			if err != nil {
				slog.Warn("WS ping error", slog.String("url", f.url), slog.Any("error", err))
				f.close()
				return
			}
		}
	}
}

// Send records req and writes it when connected. A subscribe is replayed
// on reconnect until the matching unsubscribe is sent. Requests sent while
// disconnected go out with the next connection.
func (f *WSFeed) Send(ctx context.Context, req *domain.MarketDataRequest) error {
	f.track(req)

	f.mu.RLock()
	connected := f.conn != nil
	f.mu.RUnlock()
	if !connected {
		return nil
	}
	return f.write(req)
}

func (f *WSFeed) track(req *domain.MarketDataRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.IsSubscribe {
		if _, ok := f.subs[req.TransactionID]; !ok {
			f.order = append(f.order, req.TransactionID)
		}
		f.subs[req.TransactionID] = req.Clone()
		return
	}
	delete(f.subs, req.OriginalTransactionID)
}

func (f *WSFeed) active() []*domain.MarketDataRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	reqs := make([]*domain.MarketDataRequest, 0, len(f.subs))
	kept := f.order[:0]
	for _, id := range f.order {
		if req, ok := f.subs[id]; ok {
			reqs = append(reqs, req)
			kept = append(kept, id)
		}
	}
	f.order = kept
	return reqs
}

func (f *WSFeed) write(req *domain.MarketDataRequest) error {
	data, err := domain.EncodeEnvelope(req)
	if err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.RLock()
	c := f.conn
	f.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("ws not connected")
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func (f *WSFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}
