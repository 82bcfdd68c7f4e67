package storage

import (
	"time"

	"market_store/internal/codec"
	"market_store/internal/domain"
)

// FilterTicks keeps ticks later than the segment's last trade, or at the
// same instant with a different trade id.
func FilterTicks(records []*domain.Tick, meta codec.Metadata, precision time.Duration) []*domain.Tick {
	lastTime, lastID := meta.LastTime, meta.LastID
	hasLast := !meta.IsEmpty()

	out := make([]*domain.Tick, 0, len(records))
	for _, t := range records {
		ts := t.ServerTime.Truncate(precision)
		if hasLast && (ts.Before(lastTime) || (ts.Equal(lastTime) && t.TradeID == lastID)) {
			continue
		}
		out = append(out, t)
		lastTime, lastID, hasLast = ts, t.TradeID, true
	}
	return out
}

// FilterOrderLog keeps entries whose transaction id strictly increases.
// An empty segment accepts its first entry whatever the id.
func FilterOrderLog(records []*domain.OrderLogItem, meta codec.Metadata, _ time.Duration) []*domain.OrderLogItem {
	last := meta.LastTransactionID
	hasLast := !meta.IsEmpty()

	out := make([]*domain.OrderLogItem, 0, len(records))
	for _, r := range records {
		if hasLast && r.TransactionID <= last {
			continue
		}
		out = append(out, r)
		last, hasLast = r.TransactionID, true
	}
	return out
}

// CandleFilter keeps finished candles opening after the last stored one.
// Time-frame bars need a strictly later open; other candle types also
// accept a bar opening at the last stored time.
func CandleFilter(timeFrame bool) func([]*domain.Candle, codec.Metadata, time.Duration) []*domain.Candle {
	return func(records []*domain.Candle, meta codec.Metadata, precision time.Duration) []*domain.Candle {
		last := meta.LastTime
		hasLast := !meta.IsEmpty()

		out := make([]*domain.Candle, 0, len(records))
		for _, c := range records {
			if c.State != domain.CandleStateFinished {
				continue
			}
			open := c.OpenTime.Truncate(precision)
			if hasLast {
				if timeFrame && !open.After(last) {
					continue
				}
				if !timeFrame && open.Before(last) {
					continue
				}
			}
			out = append(out, c)
			last, hasLast = open, true
		}
		return out
	}
}

// FilterLevel1 drops changes that carry no field.
func FilterLevel1(records []*domain.Level1Change, _ codec.Metadata, _ time.Duration) []*domain.Level1Change {
	out := make([]*domain.Level1Change, 0, len(records))
	for _, r := range records {
		if len(r.Changes) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// FilterPositions drops changes that carry no field.
func FilterPositions(records []*domain.PositionChange, _ codec.Metadata, _ time.Duration) []*domain.PositionChange {
	out := make([]*domain.PositionChange, 0, len(records))
	for _, r := range records {
		if len(r.Changes) > 0 {
			out = append(out, r)
		}
	}
	return out
}
