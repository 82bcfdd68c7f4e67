package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market_store/internal/codec"
	"market_store/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tick(day time.Time, at time.Duration, id int64, price string) *domain.Tick {
	return &domain.Tick{
		SecurityID: testSec,
		ServerTime: day.Add(at),
		TradeID:    id,
		Price:      dec(price),
		Volume:     dec("1"),
		Side:       domain.SideBuy,
	}
}

func orderLogItem(id int64) *domain.OrderLogItem {
	return &domain.OrderLogItem{
		SecurityID:    testSec,
		ServerTime:    day1.Add(10*time.Hour + time.Duration(id)*time.Millisecond),
		TransactionID: id,
		OrderID:       id * 10,
		OrderPrice:    dec("100"),
		OrderVolume:   dec("5"),
		Side:          domain.SideSell,
		State:         domain.OrderStateActive,
	}
}

func finishedCandle(open time.Time, price string) *domain.Candle {
	return &domain.Candle{
		SecurityID: testSec,
		Type:       domain.CandleTimeFrame,
		Arg:        "1m",
		OpenTime:   open,
		CloseTime:  open.Add(time.Minute),
		Open:       dec(price),
		High:       dec(price),
		Low:        dec(price),
		Close:      dec(price),
		Volume:     dec("10"),
		State:      domain.CandleStateFinished,
	}
}

func newTestRegistry() *Registry {
	return NewRegistry(NewMemoryDrive(), DefaultOptions(), false)
}

func TestStorage_SaveLoadAcrossDays(t *testing.T) {
	ctx := context.Background()
	s := newTestRegistry().Ticks(testSec)

	ticks := []*domain.Tick{
		tick(day1, 10*time.Hour, 1, "100.01"),
		tick(day1, 11*time.Hour, 2, "100.02"),
		tick(day2, 10*time.Hour, 3, "101"),
		tick(day2, 23*time.Hour, 4, "99.5"),
	}
	n, err := s.Save(ctx, ticks)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n != 4 {
		t.Fatalf("Expected 4 written, got %d", n)
	}

	dates, err := s.Dates(ctx)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	if len(dates) != 2 || !dates[0].Equal(day1) || !dates[1].Equal(day2) {
		t.Fatalf("Unexpected dates %v", dates)
	}

	got, err := s.Load(ctx, day2)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 || got[0].TradeID != 3 || got[1].TradeID != 4 || !got[1].Price.Equal(dec("99.5")) {
		t.Errorf("Unexpected day 2 records: %+v", got)
	}

	if empty, err := s.Load(ctx, day3); err != nil || len(empty) != 0 {
		t.Errorf("Missing date should load empty, got %d records, err %v", len(empty), err)
	}

	meta, err := s.Metadata(ctx, day1)
	if err != nil || meta == nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if meta.Count != 2 || meta.LastID != 2 {
		t.Errorf("Unexpected metadata %+v", meta)
	}
	if meta, _ := s.Metadata(ctx, day3); meta != nil {
		t.Error("Metadata of missing date should be nil")
	}
}

func TestStorage_DedupIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	t.Run("ticks", func(t *testing.T) {
		s := reg.Ticks(testSec)
		batch := []*domain.Tick{
			tick(day1, time.Hour, 1, "10"),
			tick(day1, time.Hour, 2, "10.01"),
			tick(day1, 2*time.Hour, 3, "10.02"),
		}
		first, err := s.Save(ctx, batch)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		second, err := s.Save(ctx, batch)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if first != 3 || second != 0 {
			t.Errorf("Expected 3 then 0, got %d then %d", first, second)
		}
		if got, _ := s.Load(ctx, day1); len(got) != 3 {
			t.Errorf("Expected 3 stored, got %d", len(got))
		}
	})

	t.Run("orderlog", func(t *testing.T) {
		s := reg.OrderLog(testSec)
		batch := []*domain.OrderLogItem{orderLogItem(1), orderLogItem(2), orderLogItem(4)}
		first, _ := s.Save(ctx, batch)
		second, err := s.Save(ctx, batch)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if first != 3 || second != 0 {
			t.Errorf("Expected 3 then 0, got %d then %d", first, second)
		}
	})

	t.Run("candles", func(t *testing.T) {
		s := reg.Candles(testSec, domain.CandleTimeFrame, "1m")
		batch := []*domain.Candle{
			finishedCandle(day1.Add(10*time.Hour), "50"),
			finishedCandle(day1.Add(10*time.Hour+time.Minute), "51"),
		}
		first, _ := s.Save(ctx, batch)
		second, err := s.Save(ctx, batch)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if first != 2 || second != 0 {
			t.Errorf("Expected 2 then 0, got %d then %d", first, second)
		}
	})
}

func TestStorage_TickTieBreakByID(t *testing.T) {
	ctx := context.Background()
	s := newTestRegistry().Ticks(testSec)

	if n, err := s.Save(ctx, []*domain.Tick{tick(day1, time.Hour, 7, "1")}); err != nil || n != 1 {
		t.Fatalf("Save = %d, %v", n, err)
	}
	// Same instant, other trade: kept. Earlier instant: dropped.
	n, err := s.Save(ctx, []*domain.Tick{
		tick(day1, time.Hour, 8, "1"),
		tick(day1, time.Hour-time.Second, 9, "1"),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected only the tied trade, got %d", n)
	}
}

func TestFilterOrderLog_Monotonic(t *testing.T) {
	meta := codec.Metadata{Count: 1, LastTransactionID: 5}
	var in []*domain.OrderLogItem
	for _, id := range []int64{5, 3, 7, 7, 8} {
		in = append(in, orderLogItem(id))
	}

	out := FilterOrderLog(in, meta, time.Microsecond)
	if len(out) != 2 || out[0].TransactionID != 7 || out[1].TransactionID != 8 {
		ids := make([]int64, len(out))
		for i, r := range out {
			ids[i] = r.TransactionID
		}
		t.Fatalf("Expected [7 8], got %v", ids)
	}

	// Empty segment: the first entry is accepted even without an id.
	out = FilterOrderLog([]*domain.OrderLogItem{orderLogItem(0), orderLogItem(0), orderLogItem(2)}, codec.Metadata{}, time.Microsecond)
	if len(out) != 2 || out[0].TransactionID != 0 || out[1].TransactionID != 2 {
		t.Errorf("Unexpected result on empty segment: %d records", len(out))
	}
}

func TestCandleFilter(t *testing.T) {
	last := day1.Add(10 * time.Hour)
	meta := codec.Metadata{Count: 3, LastTime: last}
	active := finishedCandle(last.Add(2*time.Minute), "1")
	active.State = domain.CandleStateActive
	in := []*domain.Candle{
		finishedCandle(last, "1"),
		finishedCandle(last.Add(time.Minute), "1"),
		active,
	}

	if out := CandleFilter(true)(in, meta, time.Millisecond); len(out) != 1 || !out[0].OpenTime.Equal(last.Add(time.Minute)) {
		t.Errorf("Time-frame filter kept %d candles", len(out))
	}
	if out := CandleFilter(false)(in, meta, time.Millisecond); len(out) != 2 {
		t.Errorf("Non time-frame filter should keep the bar at the last time, kept %d", len(out))
	}
}

func TestStorage_Level1DropsEmptyChanges(t *testing.T) {
	ctx := context.Background()
	s := newTestRegistry().Level1(testSec)
	n, err := s.Save(ctx, []*domain.Level1Change{
		{SecurityID: testSec, ServerTime: day1.Add(time.Hour), Changes: map[domain.Level1Field]decimal.Decimal{domain.L1LastTradePrice: dec("10")}},
		{SecurityID: testSec, ServerTime: day1.Add(2 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 written, got %d", n)
	}
}

func TestStorage_AppendOnlyNewDisabled(t *testing.T) {
	ctx := context.Background()
	s := newTestRegistry().Ticks(testSec)
	s.SetAppendOnlyNew(false)

	batch := []*domain.Tick{tick(day1, time.Hour, 1, "10"), tick(day1, 2*time.Hour, 2, "10")}
	if _, err := s.Save(ctx, batch); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	n, err := s.Save(ctx, batch)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected verbatim write of 2, got %d", n)
	}
	if got, _ := s.Load(ctx, day1); len(got) != 4 {
		t.Errorf("Expected 4 stored, got %d", len(got))
	}
}

func TestStorage_DeleteRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestRegistry().Ticks(testSec)
	ticks := []*domain.Tick{
		tick(day1, time.Hour, 1, "10"),
		tick(day1, 2*time.Hour, 2, "11"),
		tick(day1, 3*time.Hour, 3, "12"),
	}
	if _, err := s.Save(ctx, ticks); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := s.Delete(ctx, []*domain.Tick{ticks[1]}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err := s.Load(ctx, day1)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 || got[0].TradeID != 1 || got[1].TradeID != 3 || !got[1].Price.Equal(dec("12")) {
		t.Fatalf("Unexpected records after delete: %+v", got)
	}

	// Appending after a rewrite continues from the rewritten metadata.
	if n, err := s.Save(ctx, []*domain.Tick{tick(day1, 4*time.Hour, 4, "13")}); err != nil || n != 1 {
		t.Fatalf("Save after delete = %d, %v", n, err)
	}

	if err := s.Delete(ctx, []*domain.Tick{ticks[0], ticks[2], tick(day1, 4*time.Hour, 4, "13")}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if dates, _ := s.Dates(ctx); len(dates) != 0 {
		t.Errorf("Emptied segment should be removed, dates %v", dates)
	}
}

func TestStorage_DeleteSubPrecisionTimes(t *testing.T) {
	ctx := context.Background()
	s := newTestRegistry().Candles(testSec, domain.CandleTimeFrame, "1m")
	a := finishedCandle(day1.Add(10*time.Hour+123456789*time.Nanosecond), "10")
	b := finishedCandle(day1.Add(11*time.Hour+123456789*time.Nanosecond), "11")
	if _, err := s.Save(ctx, []*domain.Candle{a, b}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := s.Delete(ctx, []*domain.Candle{a}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err := s.Load(ctx, day1)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 1 || !got[0].Close.Equal(dec("11")) {
		t.Fatalf("Expected only the 11:00 candle to remain, got %d records", len(got))
	}
}

func TestStorage_DeleteDate(t *testing.T) {
	ctx := context.Background()
	s := newTestRegistry().Ticks(testSec)
	if _, err := s.Save(ctx, []*domain.Tick{tick(day1, time.Hour, 1, "10"), tick(day2, time.Hour, 2, "10")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.DeleteDate(ctx, day1); err != nil {
		t.Fatalf("DeleteDate failed: %v", err)
	}
	dates, _ := s.Dates(ctx)
	if len(dates) != 1 || !dates[0].Equal(day2) {
		t.Errorf("Unexpected dates %v", dates)
	}
}

func TestStorage_ConfiguredSteps(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.PriceStep = dec("0.5")
	s := NewTickStorage(testSec, NewMemoryDrive(), opts)
	if _, err := s.Save(ctx, []*domain.Tick{tick(day1, time.Hour, 1, "10.5"), tick(day1, 2*time.Hour, 2, "12")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	meta, err := s.Metadata(ctx, day1)
	if err != nil || meta == nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if !meta.PriceStep.Equal(dec("0.5")) {
		t.Errorf("Expected price step 0.5, got %s", meta.PriceStep)
	}
}

func TestStorage_SaveMessagesRejectsOtherKinds(t *testing.T) {
	s := newTestRegistry().Ticks(testSec)
	_, err := s.SaveMessages(context.Background(), []domain.Message{orderLogItem(1)})
	if !errors.Is(err, domain.ErrDataFormat) {
		t.Errorf("Expected ErrDataFormat, got %v", err)
	}
}

func TestStorage_ValidationErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestRegistry().Ticks(testSec)
	bad := tick(day1, time.Hour, 1, "10")
	bad.Volume = dec("-1")
	if _, err := s.Save(ctx, []*domain.Tick{bad}); !errors.Is(err, domain.ErrDataFormat) {
		t.Fatalf("Expected ErrDataFormat, got %v", err)
	}
	if dates, _ := s.Dates(ctx); len(dates) != 0 {
		t.Errorf("Rejected save left dates %v", dates)
	}
}
