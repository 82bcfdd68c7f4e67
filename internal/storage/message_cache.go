package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"market_store/internal/domain"
)

// CachedStorage memoizes decoded days of a stream for the rest of the
// process lifetime. Entries are never evicted or invalidated, so a day
// saved after its first load keeps serving the earlier records.
type CachedStorage struct {
	MarketDataStorage

	mu   sync.Mutex
	days map[time.Time][]domain.Message
}

// NewCachedStorage wraps inner.
func NewCachedStorage(inner MarketDataStorage) *CachedStorage {
	return &CachedStorage{MarketDataStorage: inner, days: make(map[time.Time][]domain.Message)}
}

func (c *CachedStorage) LoadMessages(ctx context.Context, date time.Time) ([]domain.Message, error) {
	day := DayOf(date)

	c.mu.Lock()
	defer c.mu.Unlock()
	if msgs, ok := c.days[day]; ok {
		return slices.Clone(msgs), nil
	}

	msgs, err := c.MarketDataStorage.LoadMessages(ctx, day)
	if err != nil {
		return nil, err
	}
	c.days[day] = msgs
	return slices.Clone(msgs), nil
}

// Cached reports how many days are memoized.
func (c *CachedStorage) Cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.days)
}
