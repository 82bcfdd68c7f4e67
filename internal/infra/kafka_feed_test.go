package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"market_store/internal/domain"
)

// fakeReader serves queued messages, then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	failFirst bool
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.failFirst {
		r.failFirst = false
		r.mu.Unlock()
		return kafka.Message{}, errors.New("broker unavailable")
	}
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaFeed_DeliversAndCommits(t *testing.T) {
	tick := &domain.Tick{SecurityID: feedSec, ServerTime: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), TradeID: 9, Price: decimal.NewFromInt(100), Volume: decimal.NewFromInt(1)}
	reader := &fakeReader{
		failFirst: true,
		queue: []kafka.Message{
			{Offset: 1, Value: []byte("not json")},
			{Offset: 2, Value: mustEnvelope(t, tick)},
		},
	}

	inbox := make(chan domain.Message, 4)
	feed := newKafkaFeed(reader, nil, "live", inbox)
	feed.Backoff = Backoff{Base: time.Millisecond, Max: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	select {
	case m := <-inbox:
		if got, ok := m.(*domain.Tick); !ok || got.TradeID != 9 {
			t.Errorf("Unexpected message %#v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No message delivered")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if !reader.closed {
		t.Error("Reader not closed")
	}
	// the undecodable message is skipped but still committed
	if len(reader.committed) != 2 || reader.committed[1] != 2 {
		t.Errorf("Unexpected commits %v", reader.committed)
	}
}

func TestKafkaFeed_Send(t *testing.T) {
	req := &domain.MarketDataRequest{TransactionID: 3, IsSubscribe: true, SecurityID: feedSec, DataType: domain.Ticks}

	noWriter := newKafkaFeed(&fakeReader{}, nil, "live", nil)
	if err := noWriter.Send(context.Background(), req); !errors.Is(err, domain.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported, got %v", err)
	}

	w := &fakeWriter{}
	feed := newKafkaFeed(&fakeReader{}, w, "live", nil)
	if err := feed.Send(context.Background(), req); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "SBER@TQBR" {
		t.Fatalf("Unexpected published messages %+v", w.msgs)
	}
	m, err := domain.DecodeEnvelope(w.msgs[0].Value)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if got := m.(*domain.MarketDataRequest); got.TransactionID != 3 {
		t.Errorf("Unexpected request %+v", got)
	}
}
