package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market_store/internal/domain"
	"market_store/internal/engine"
	"market_store/internal/storage"
)

var (
	testSec = domain.SecurityID{Code: "SBER", Board: "TQBR"}
	day1    = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func TestReplayer_RunReplay(t *testing.T) {
	reg := storage.NewRegistry(storage.NewMemoryDrive(), storage.DefaultOptions(), false)
	ctx := context.Background()

	var ticks []*domain.Tick
	for d := 0; d < 2; d++ {
		for i := 0; i < 3; i++ {
			ticks = append(ticks, &domain.Tick{
				SecurityID: testSec,
				ServerTime: day1.AddDate(0, 0, d).Add(time.Duration(i) * time.Hour),
				TradeID:    int64(d*10 + i + 1),
				Price:      decimal.NewFromInt(int64(100 + i)),
				Volume:     decimal.NewFromInt(1),
			})
		}
	}
	if _, err := reg.Ticks(testSec).Save(ctx, ticks); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	l1 := &domain.Level1Change{SecurityID: testSec, ServerTime: day1.Add(time.Hour), Changes: map[domain.Level1Field]decimal.Decimal{domain.L1LastTradePrice: decimal.NewFromInt(101)}}
	if _, err := reg.Level1(testSec).Save(ctx, []*domain.Level1Change{l1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var got []domain.Message
	buf := storage.NewBuffer(false)
	seq := engine.NewSequencer(1, buf, reg, func(m domain.Message) { got = append(got, m) })

	from := day1
	n, err := NewReplayer(reg).RunReplay(ctx, seq,
		&domain.MarketDataRequest{TransactionID: 1, IsSubscribe: true, SecurityID: testSec, DataType: domain.Ticks, From: &from},
		&domain.MarketDataRequest{TransactionID: 2, IsSubscribe: true, SecurityID: testSec, DataType: domain.Level1, From: &from},
	)
	if err != nil {
		t.Fatalf("RunReplay failed: %v", err)
	}
	if n != 7 || len(got) != 7 {
		t.Fatalf("Expected 7 replayed messages, got n=%d delivered=%d", n, len(got))
	}
	for i := 1; i < 6; i++ {
		if got[i].GetTime().Before(got[i-1].GetTime()) {
			t.Errorf("Ticks out of order at %d", i)
		}
	}
	if buf.Len() != 0 {
		t.Error("Replayed messages must not be buffered for storage")
	}
}

func TestReplayer_NeedsStart(t *testing.T) {
	reg := storage.NewRegistry(storage.NewMemoryDrive(), storage.DefaultOptions(), false)
	seq := engine.NewSequencer(1, storage.NewBuffer(false), reg, nil)

	_, err := NewReplayer(reg).RunReplay(context.Background(), seq, &domain.MarketDataRequest{TransactionID: 1, IsSubscribe: true, SecurityID: testSec, DataType: domain.Ticks})
	if err == nil {
		t.Error("Expected error for request without From")
	}
}
