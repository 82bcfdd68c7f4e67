package engine

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market_store/internal/domain"
	"market_store/internal/snapshot"
	"market_store/internal/storage"
)

var (
	testSec = domain.SecurityID{Code: "SBER", Board: "TQBR"}
	day1    = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day2    = day1.AddDate(0, 0, 1)
	day3    = day1.AddDate(0, 0, 2)
	day4    = day1.AddDate(0, 0, 3)
)

func endOf(day time.Time) time.Time { return day.Add(24*time.Hour - time.Nanosecond) }

func ptr[T any](v T) *T { return &v }

// seedTicks stores two ticks per day and returns them in time order.
func seedTicks(t *testing.T, reg *storage.Registry, days ...time.Time) []*domain.Tick {
	t.Helper()
	var ticks []*domain.Tick
	id := int64(1)
	for _, day := range days {
		for _, h := range []time.Duration{10 * time.Hour, 15 * time.Hour} {
			ticks = append(ticks, &domain.Tick{
				SecurityID: testSec,
				ServerTime: day.Add(h),
				TradeID:    id,
				Price:      decimal.NewFromInt(100 + id),
				Volume:     decimal.NewFromInt(1),
				Side:       domain.SideBuy,
			})
			id++
		}
	}
	if _, err := reg.Ticks(testSec).Save(context.Background(), ticks); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return ticks
}

func newTestProcessor(cfg ProcessorConfig) (*Processor, *storage.Registry) {
	reg := storage.NewRegistry(storage.NewMemoryDrive(), storage.DefaultOptions(), false)
	return NewProcessor(reg, nil, cfg), reg
}

func collect(t *testing.T, p *Processor, req *domain.MarketDataRequest) []domain.Message {
	t.Helper()
	out, err := Collect(context.Background(), p.Process(context.Background(), req))
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	return out
}

func assertTicks(t *testing.T, got []domain.Message, want []*domain.Tick) {
	t.Helper()
	if len(got) < len(want) {
		t.Fatalf("Expected at least %d messages, got %d", len(want), len(got))
	}
	for i, w := range want {
		tk, ok := got[i].(*domain.Tick)
		if !ok {
			t.Fatalf("Message %d: expected *domain.Tick, got %T", i, got[i])
		}
		if tk.TradeID != w.TradeID || !tk.ServerTime.Equal(w.ServerTime) {
			t.Errorf("Message %d: got trade %d at %s, want %d at %s", i, tk.TradeID, tk.ServerTime, w.TradeID, w.ServerTime)
		}
	}
}

func TestProcessor_FullyCoveredRange(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{BufferSize: 2})
	ticks := seedTicks(t, reg, day1, day2, day3)

	out := collect(t, p, &domain.MarketDataRequest{
		TransactionID: 1,
		IsSubscribe:   true,
		SecurityID:    testSec,
		DataType:      domain.Ticks,
		From:          ptr(day1),
		To:            ptr(day3.Add(15 * time.Hour)),
	})

	if len(out) != len(ticks)+1 {
		t.Fatalf("Expected %d messages, got %d", len(ticks)+1, len(out))
	}
	assertTicks(t, out, ticks)
	fin, ok := out[len(out)-1].(*domain.SubscriptionFinished)
	if !ok || fin.OriginalTransactionID != 1 {
		t.Fatalf("Expected SubscriptionFinished for 1, got %#v", out[len(out)-1])
	}
	if !p.IsReplayed(1) {
		t.Error("Subscription not marked replayed")
	}

	stop := collect(t, p, &domain.MarketDataRequest{TransactionID: 2, OriginalTransactionID: 1, SecurityID: testSec, DataType: domain.Ticks})
	if len(stop) != 1 {
		t.Fatalf("Expected a single stop answer, got %d", len(stop))
	}
	resp, ok := stop[0].(*domain.SubscriptionResponse)
	if !ok || resp.OriginalTransactionID != 2 || resp.Error != "" {
		t.Fatalf("Expected synthetic confirmation, got %#v", stop[0])
	}
	if p.IsReplayed(1) {
		t.Error("Replayed flag not consumed by stop")
	}
}

func TestProcessor_PartialCoverageNarrowsRequest(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{})
	ticks := seedTicks(t, reg, day1, day2)

	req := &domain.MarketDataRequest{
		TransactionID: 5,
		IsSubscribe:   true,
		SecurityID:    testSec,
		DataType:      domain.Ticks,
		From:          ptr(day1),
		To:            ptr(endOf(day4)),
		Count:         ptr(int64(100)),
	}
	out := collect(t, p, req)

	if len(out) != len(ticks)+1 {
		t.Fatalf("Expected %d messages, got %d", len(ticks)+1, len(out))
	}
	assertTicks(t, out, ticks)

	fwd, ok := out[len(out)-1].(*domain.MarketDataRequest)
	if !ok {
		t.Fatalf("Expected forwarded request, got %T", out[len(out)-1])
	}
	lastTime := ticks[len(ticks)-1].ServerTime
	if fwd.From == nil || !fwd.From.After(lastTime) || fwd.From.After(day3) {
		t.Errorf("From not advanced past %s: %v", lastTime, fwd.From)
	}
	if fwd.Count == nil || *fwd.Count != 96 {
		t.Errorf("Expected remaining count 96, got %v", fwd.Count)
	}
	if fwd.To == nil || !fwd.To.Equal(endOf(day4)) || fwd.TransactionID != 5 {
		t.Errorf("Forwarded request lost fields: %+v", fwd)
	}
	if *req.Count != 100 || !req.From.Equal(day1) {
		t.Error("Caller's request mutated")
	}
	if p.IsReplayed(5) {
		t.Error("Partial subscription marked replayed")
	}

	stop := &domain.MarketDataRequest{TransactionID: 6, OriginalTransactionID: 5}
	got := collect(t, p, stop)
	if len(got) != 1 {
		t.Fatalf("Expected forwarded stop, got %d messages", len(got))
	}
	if fwdStop, ok := got[0].(*domain.MarketDataRequest); !ok || fwdStop.TransactionID != 6 {
		t.Errorf("Stop not forwarded: %#v", got[0])
	}
}

func TestProcessor_ForwardsUnchanged(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{})
	seedTicks(t, reg, day1)

	cases := []struct {
		name string
		req  *domain.MarketDataRequest
	}{
		{"no from", &domain.MarketDataRequest{TransactionID: 1, IsSubscribe: true, SecurityID: testSec, DataType: domain.Ticks}},
		{"no security", &domain.MarketDataRequest{TransactionID: 2, IsSubscribe: true, DataType: domain.Ticks, From: ptr(day1)}},
		{"book without bounds", &domain.MarketDataRequest{TransactionID: 3, IsSubscribe: true, SecurityID: testSec, DataType: domain.MarketDepth}},
		{"unsupported kind", &domain.MarketDataRequest{TransactionID: 4, IsSubscribe: true, SecurityID: testSec, DataType: domain.DataType{Kind: domain.KindSubscription}, From: ptr(day1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := collect(t, p, tc.req)
			if len(out) != 1 {
				t.Fatalf("Expected 1 message, got %d", len(out))
			}
			fwd, ok := out[0].(*domain.MarketDataRequest)
			if !ok || fwd.TransactionID != tc.req.TransactionID {
				t.Fatalf("Expected forwarded request, got %#v", out[0])
			}
			if (fwd.From == nil) != (tc.req.From == nil) {
				t.Error("From changed")
			}
		})
	}
}

func TestProcessor_ToInsidePartlyStoredDay(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{})
	ticks := seedTicks(t, reg, day1, day2, day3)

	to := day3.Add(20 * time.Hour)
	out := collect(t, p, &domain.MarketDataRequest{
		TransactionID: 1,
		IsSubscribe:   true,
		SecurityID:    testSec,
		DataType:      domain.Ticks,
		From:          ptr(day1),
		To:            &to,
	})

	if len(out) != len(ticks)+1 {
		t.Fatalf("Expected %d messages, got %d", len(ticks)+1, len(out))
	}
	assertTicks(t, out, ticks)
	fwd, ok := out[len(out)-1].(*domain.MarketDataRequest)
	if !ok {
		t.Fatalf("Expected forwarded request, got %#v", out[len(out)-1])
	}
	if fwd.From == nil || !fwd.From.After(ticks[len(ticks)-1].ServerTime) || fwd.To == nil || !fwd.To.Equal(to) {
		t.Errorf("Forwarded request not narrowed: %+v", fwd)
	}
	if p.IsReplayed(1) {
		t.Error("Partly stored day marked replayed")
	}
}

func TestProcessor_DataPastToCovers(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{})
	ticks := seedTicks(t, reg, day1, day2)

	// D1 15:00 is past To, D2 is a later date.
	out := collect(t, p, &domain.MarketDataRequest{
		TransactionID: 1,
		IsSubscribe:   true,
		SecurityID:    testSec,
		DataType:      domain.Ticks,
		From:          ptr(day1),
		To:            ptr(day1.Add(12 * time.Hour)),
	})
	if len(out) != 2 {
		t.Fatalf("Expected 1 tick and a marker, got %d", len(out))
	}
	assertTicks(t, out, ticks[:1])
	if _, ok := out[1].(*domain.SubscriptionFinished); !ok {
		t.Errorf("Expected SubscriptionFinished, got %T", out[1])
	}
}

func seedBooks(t *testing.T, reg *storage.Registry, times ...time.Time) {
	t.Helper()
	books := make([]*domain.QuoteChange, len(times))
	for i, ts := range times {
		books[i] = &domain.QuoteChange{
			SecurityID: testSec,
			ServerTime: ts,
			Bids:       []domain.Quote{{Price: decimal.NewFromInt(99), Volume: decimal.NewFromInt(int64(i + 1))}},
			Asks:       []domain.Quote{{Price: decimal.NewFromInt(101), Volume: decimal.NewFromInt(1)}},
		}
	}
	if _, err := reg.Quotes(testSec).Save(context.Background(), books); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestProcessor_BookWithFromReplays(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{})
	stored := day1.Add(10 * time.Hour)
	seedBooks(t, reg, stored)

	out := collect(t, p, &domain.MarketDataRequest{
		TransactionID: 7,
		IsSubscribe:   true,
		SecurityID:    testSec,
		DataType:      domain.MarketDepth,
		From:          ptr(day1),
	})
	if len(out) != 2 {
		t.Fatalf("Expected stored book and forwarded request, got %d", len(out))
	}
	if q, ok := out[0].(*domain.QuoteChange); !ok || !q.ServerTime.Equal(stored) {
		t.Fatalf("Expected stored book, got %#v", out[0])
	}
	fwd, ok := out[1].(*domain.MarketDataRequest)
	if !ok || fwd.From == nil || !fwd.From.After(stored) {
		t.Errorf("Expected request narrowed past %s, got %#v", stored, out[1])
	}
}

func TestProcessor_OpenBookKeepsBounds(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{DaysLoad: 1})
	p.now = func() time.Time { return day2.Add(12 * time.Hour) }
	seedBooks(t, reg, day1.Add(10*time.Hour), day2.Add(9*time.Hour))

	out := collect(t, p, &domain.MarketDataRequest{TransactionID: 8, IsSubscribe: true, SecurityID: testSec, DataType: domain.MarketDepth})
	if len(out) != 3 {
		t.Fatalf("Expected 2 books and a forwarded request, got %d", len(out))
	}
	fwd, ok := out[2].(*domain.MarketDataRequest)
	if !ok || fwd.From != nil || fwd.To != nil {
		t.Errorf("Expected unbounded live request, got %#v", out[2])
	}
}

func TestProcessor_CountExhausted(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{})
	ticks := seedTicks(t, reg, day1, day2)

	out := collect(t, p, &domain.MarketDataRequest{
		TransactionID: 9,
		IsSubscribe:   true,
		SecurityID:    testSec,
		DataType:      domain.Ticks,
		From:          ptr(day1),
		Count:         ptr(int64(3)),
	})
	if len(out) != 4 {
		t.Fatalf("Expected 3 ticks and a marker, got %d", len(out))
	}
	assertTicks(t, out, ticks[:3])
	if _, ok := out[3].(*domain.SubscriptionFinished); !ok {
		t.Errorf("Expected SubscriptionFinished, got %T", out[3])
	}
}

func TestProcessor_DaysLoad(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{DaysLoad: 1})
	p.now = func() time.Time { return day3.Add(12 * time.Hour) }
	ticks := seedTicks(t, reg, day1, day2, day3)

	out := collect(t, p, &domain.MarketDataRequest{TransactionID: 1, IsSubscribe: true, SecurityID: testSec, DataType: domain.Ticks})
	if len(out) != 5 {
		t.Fatalf("Expected 4 ticks and a forwarded request, got %d", len(out))
	}
	assertTicks(t, out, ticks[2:])
	if fwd, ok := out[4].(*domain.MarketDataRequest); !ok || fwd.From == nil || !fwd.From.After(ticks[5].ServerTime) {
		t.Errorf("Unexpected tail %#v", out[4])
	}
}

func TestProcessor_SnapshotMode(t *testing.T) {
	store := snapshot.NewStore[domain.SecurityID, *domain.Level1Change](filepath.Join(t.TempDir(), "level1.snp"), snapshot.NewLevel1Serializer(0))
	if err := store.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer store.Close()
	store.Update(&domain.Level1Change{
		SecurityID: testSec,
		ServerTime: day1.Add(time.Hour),
		Changes:    map[domain.Level1Field]decimal.Decimal{domain.L1LastTradePrice: decimal.NewFromInt(10)},
	})

	reg := storage.NewRegistry(storage.NewMemoryDrive(), storage.DefaultOptions(), false)
	p := NewProcessor(reg, store, ProcessorConfig{Mode: ModeSnapshot})

	out := collect(t, p, &domain.MarketDataRequest{TransactionID: 3, IsSubscribe: true, SecurityID: testSec, DataType: domain.Level1})
	if len(out) != 2 {
		t.Fatalf("Expected snapshot and forwarded request, got %d", len(out))
	}
	if l1, ok := out[0].(*domain.Level1Change); !ok || !l1.Changes[domain.L1LastTradePrice].Equal(decimal.NewFromInt(10)) {
		t.Errorf("Unexpected snapshot record %#v", out[0])
	}
	if _, ok := out[1].(*domain.MarketDataRequest); !ok {
		t.Errorf("Expected forwarded request, got %T", out[1])
	}
}

type brokenStorage struct {
	storage.MarketDataStorage
}

var errDisk = errors.New("disk gone")

func (brokenStorage) Dates(context.Context) ([]time.Time, error) { return []time.Time{day1}, nil }
func (brokenStorage) LoadMessages(context.Context, time.Time) ([]domain.Message, error) {
	return nil, errDisk
}

type brokenProvider struct{}

func (brokenProvider) Get(domain.SecurityID, domain.DataType) (storage.MarketDataStorage, error) {
	return brokenStorage{}, nil
}

func TestProcessor_ProducerErrorSurfaces(t *testing.T) {
	p := NewProcessor(brokenProvider{}, nil, ProcessorConfig{})
	s := p.Process(context.Background(), &domain.MarketDataRequest{
		TransactionID: 1, IsSubscribe: true, SecurityID: testSec, DataType: domain.Ticks, From: ptr(day1),
	})

	_, err := s.Next(context.Background())
	if !errors.Is(err, errDisk) {
		t.Fatalf("Expected producer error, got %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, errDisk) {
		t.Errorf("Error not sticky: %v", err)
	}
}

func TestStream_CancelStopsProducer(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{BufferSize: 1})
	seedTicks(t, reg, day1, day2, day3)

	ctx, cancel := context.WithCancel(context.Background())
	s := p.Process(context.Background(), &domain.MarketDataRequest{
		TransactionID: 1, IsSubscribe: true, SecurityID: testSec, DataType: domain.Ticks, From: ptr(day1),
	})

	if _, err := s.Next(ctx); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if _, err := s.Next(context.Background()); err == nil {
		t.Error("Stream produced after cancellation")
	}
	if err := s.Close(); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Close failed: %v", err)
	}
}

func TestStream_CloseBeforeDrain(t *testing.T) {
	p, reg := newTestProcessor(ProcessorConfig{BufferSize: 1})
	seedTicks(t, reg, day1, day2)

	s := p.Process(context.Background(), &domain.MarketDataRequest{
		TransactionID: 1, IsSubscribe: true, SecurityID: testSec, DataType: domain.Ticks, From: ptr(day1),
	})
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after Close, got %v", err)
	}
}
