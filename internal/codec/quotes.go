package codec

import (
	"fmt"
	"slices"
	"time"

	"market_store/internal/domain"

	"github.com/shopspring/decimal"
)

// NewQuoteSerializer returns the order book serializer for sec.
// Each part starts with a full book; later records are level deltas against the
// previous book.
func NewQuoteSerializer(sec domain.SecurityID, opts ...Option) Serializer[*domain.QuoteChange] {
	s := newBinarySerializer[*domain.QuoteChange](sec, domain.MarketDepth, time.Microsecond, opts)
	s.validate = validateBook
	s.baseline = func(m *Metadata, first *domain.QuoteChange) {
		var p decimal.Decimal
		switch {
		case len(first.Bids) > 0:
			p = first.Bids[0].Price
		case len(first.Asks) > 0:
			p = first.Asks[0].Price
		}
		m.FirstPrice, m.LastPrice = p, p
	}
	s.write = writeBook
	s.read = readBook
	return s
}

func validateBook(q *domain.QuoteChange) error {
	for _, side := range [][]domain.Quote{q.Bids, q.Asks} {
		for _, l := range side {
			if l.Volume.Sign() <= 0 {
				return fmt.Errorf("%w: non-positive volume %s at %s", domain.ErrDataFormat, l.Volume, l.Price)
			}
		}
	}
	if !sortedLevels(q.Bids, true) {
		return fmt.Errorf("%w: bids not in descending price order", domain.ErrDataFormat)
	}
	if !sortedLevels(q.Asks, false) {
		return fmt.Errorf("%w: asks not in ascending price order", domain.ErrDataFormat)
	}
	if q.IsCrossed() {
		return fmt.Errorf("%w: crossed book bid %s > ask %s", domain.ErrDataFormat, q.Bids[0].Price, q.Asks[0].Price)
	}
	return nil
}

// sortedLevels reports whether prices strictly improve towards the top of the
// book, which also rules out duplicate levels.
func sortedLevels(levels []domain.Quote, descending bool) bool {
	for i := 1; i < len(levels); i++ {
		c := levels[i].Price.Cmp(levels[i-1].Price)
		if descending && c >= 0 || !descending && c <= 0 {
			return false
		}
	}
	return true
}

type levelChange struct {
	price   decimal.Decimal
	volume  decimal.Decimal
	removed bool
}

// diffLevels lists what turns prev into curr: new or changed levels in curr
// order, then removals.
func diffLevels(prev, curr []domain.Quote) []levelChange {
	old := make(map[string]decimal.Decimal, len(prev))
	for _, l := range prev {
		old[l.Price.String()] = l.Volume
	}

	changes := make([]levelChange, 0, len(curr))
	seen := make(map[string]struct{}, len(curr))
	for _, l := range curr {
		key := l.Price.String()
		seen[key] = struct{}{}
		if v, ok := old[key]; ok && v.Equal(l.Volume) {
			continue
		}
		changes = append(changes, levelChange{price: l.Price, volume: l.Volume})
	}
	for _, l := range prev {
		if _, ok := seen[l.Price.String()]; !ok {
			changes = append(changes, levelChange{price: l.Price, removed: true})
		}
	}
	return changes
}

// applyLevels returns levels with changes applied, sorted best first.
func applyLevels(levels []domain.Quote, changes []levelChange, descending bool) []domain.Quote {
	book := make(map[string]domain.Quote, len(levels)+len(changes))
	for _, l := range levels {
		book[l.Price.String()] = l
	}
	for _, ch := range changes {
		key := ch.price.String()
		if ch.removed {
			delete(book, key)
			continue
		}
		book[key] = domain.Quote{Price: ch.price, Volume: ch.volume}
	}

	out := make([]domain.Quote, 0, len(book))
	for _, l := range book {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b domain.Quote) int {
		if descending {
			return b.Price.Cmp(a.Price)
		}
		return a.Price.Cmp(b.Price)
	})
	return out
}

func writeBook(c *writeCtx, q, prev *domain.QuoteChange, hasPrev bool) error {
	c.w.WriteBit(!hasPrev)

	var prevBids, prevAsks []domain.Quote
	if hasPrev {
		prevBids, prevAsks = prev.Bids, prev.Asks
	}
	c.writeLevels(diffLevels(prevBids, q.Bids))
	c.writeLevels(diffLevels(prevAsks, q.Asks))

	if err := c.writeTime(q.ServerTime); err != nil {
		return err
	}
	c.writeLocalTime(q.LocalTime)
	return nil
}

func (c *writeCtx) writeLevels(changes []levelChange) {
	c.w.WriteUint(uint64(len(changes)))
	for _, ch := range changes {
		c.writePrice(ch.price)
		c.w.WriteBit(ch.removed)
		if !ch.removed {
			c.writeVolume(ch.volume)
		}
	}
}

func readBook(c *readCtx, prev *domain.QuoteChange, hasPrev bool) (*domain.QuoteChange, error) {
	full := c.r.ReadBit()
	if !full && !hasPrev {
		return nil, fmt.Errorf("%w: order book delta without preceding book", domain.ErrDataFormat)
	}

	q := &domain.QuoteChange{SecurityID: c.security}
	var baseBids, baseAsks []domain.Quote
	if !full {
		baseBids, baseAsks = prev.Bids, prev.Asks
	}
	q.Bids = applyLevels(baseBids, c.readLevels(), true)
	q.Asks = applyLevels(baseAsks, c.readLevels(), false)
	q.ServerTime = c.readTime()
	q.LocalTime = c.readLocalTime()

	if q.IsCrossed() {
		return nil, fmt.Errorf("%w: crossed book bid %s > ask %s at %s",
			domain.ErrDataFormat, q.Bids[0].Price, q.Asks[0].Price, q.ServerTime)
	}
	return q, nil
}

func (c *readCtx) readLevels() []levelChange {
	n := c.r.ReadUint()
	if c.r.Err() != nil || n > uint64(c.r.remaining()) {
		c.r.fail("level count %d exceeds stream", n)
		return nil
	}
	changes := make([]levelChange, 0, n)
	for i := uint64(0); i < n; i++ {
		ch := levelChange{price: c.readPrice()}
		ch.removed = c.r.ReadBit()
		if !ch.removed {
			ch.volume = c.readVolume()
		}
		changes = append(changes, ch)
	}
	return changes
}
