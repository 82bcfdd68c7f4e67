package storage

import (
	"fmt"
	"slices"
	"sync"

	"market_store/internal/domain"
)

type registryKey struct {
	sec domain.SecurityID
	dt  domain.DataType
}

// Registry hands out one storage per (security, data type) over a shared
// drive. Typed getters serve writers; Get serves the processor.
type Registry struct {
	drive         MarketDataDrive
	opts          Options
	cacheMessages bool

	mu       sync.Mutex
	storages map[registryKey]MarketDataStorage
	cached   map[registryKey]*CachedStorage
	baskets  map[domain.SecurityID][]domain.SecurityID
}

// NewRegistry creates a registry. With cacheMessages set, Get wraps each
// stream in a CachedStorage.
func NewRegistry(drive MarketDataDrive, opts Options, cacheMessages bool) *Registry {
	return &Registry{
		drive:         drive,
		opts:          opts,
		cacheMessages: cacheMessages,
		storages:      make(map[registryKey]MarketDataStorage),
		cached:        make(map[registryKey]*CachedStorage),
		baskets:       make(map[domain.SecurityID][]domain.SecurityID),
	}
}

// Drive returns the underlying drive.
func (r *Registry) Drive() MarketDataDrive { return r.drive }

func getOrCreate[T domain.Message](r *Registry, sec domain.SecurityID, dt domain.DataType, create func() *Storage[T]) *Storage[T] {
	key := registryKey{sec, dt}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.storages[key].(*Storage[T]); ok {
		return s
	}
	s := create()
	r.storages[key] = s
	return s
}

func (r *Registry) Ticks(sec domain.SecurityID) *Storage[*domain.Tick] {
	return getOrCreate(r, sec, domain.Ticks, func() *Storage[*domain.Tick] {
		return NewTickStorage(sec, r.drive, r.opts)
	})
}

func (r *Registry) OrderLog(sec domain.SecurityID) *Storage[*domain.OrderLogItem] {
	return getOrCreate(r, sec, domain.OrderLog, func() *Storage[*domain.OrderLogItem] {
		return NewOrderLogStorage(sec, r.drive, r.opts)
	})
}

func (r *Registry) Transactions(sec domain.SecurityID) *Storage[*domain.Transaction] {
	return getOrCreate(r, sec, domain.Transactions, func() *Storage[*domain.Transaction] {
		return NewTransactionStorage(sec, r.drive, r.opts)
	})
}

func (r *Registry) Quotes(sec domain.SecurityID) *Storage[*domain.QuoteChange] {
	return getOrCreate(r, sec, domain.MarketDepth, func() *Storage[*domain.QuoteChange] {
		return NewQuoteStorage(sec, r.drive, r.opts)
	})
}

func (r *Registry) Candles(sec domain.SecurityID, typ domain.CandleType, arg string) *Storage[*domain.Candle] {
	return getOrCreate(r, sec, domain.CandleDataType(typ, arg), func() *Storage[*domain.Candle] {
		return NewCandleStorage(sec, typ, arg, r.drive, r.opts)
	})
}

func (r *Registry) Level1(sec domain.SecurityID) *Storage[*domain.Level1Change] {
	return getOrCreate(r, sec, domain.Level1, func() *Storage[*domain.Level1Change] {
		return NewLevel1Storage(sec, r.drive, r.opts)
	})
}

func (r *Registry) Positions(sec domain.SecurityID) *Storage[*domain.PositionChange] {
	return getOrCreate(r, sec, domain.Positions, func() *Storage[*domain.PositionChange] {
		return NewPositionStorage(sec, r.drive, r.opts)
	})
}

func (r *Registry) News() *Storage[*domain.News] {
	return getOrCreate(r, domain.AllSecurity, domain.NewsData, func() *Storage[*domain.News] {
		return NewNewsStorage(r.drive, r.opts)
	})
}

func (r *Registry) BoardStates() *Storage[*domain.BoardState] {
	return getOrCreate(r, domain.AllSecurity, domain.Board, func() *Storage[*domain.BoardState] {
		return NewBoardStateStorage(r.drive, r.opts)
	})
}

// RegisterBasket makes sec a composite of underlyings.
func (r *Registry) RegisterBasket(sec domain.SecurityID, underlyings []domain.SecurityID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baskets[sec] = slices.Clone(underlyings)
}

// Get returns the kind-erased storage of (sec, dt). News and board state
// ignore sec.
func (r *Registry) Get(sec domain.SecurityID, dt domain.DataType) (MarketDataStorage, error) {
	r.mu.Lock()
	members, isBasket := r.baskets[sec]
	r.mu.Unlock()
	if isBasket && !dt.IsSecurityLess() {
		return NewBasketStorage(sec, dt, members, r.Get), nil
	}

	s, err := r.typed(sec, dt)
	if err != nil {
		return nil, err
	}
	if !r.cacheMessages {
		return s, nil
	}

	key := registryKey{s.SecurityID(), dt}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cached[key]
	if !ok {
		c = NewCachedStorage(s)
		r.cached[key] = c
	}
	return c, nil
}

func (r *Registry) typed(sec domain.SecurityID, dt domain.DataType) (MarketDataStorage, error) {
	if !dt.IsSecurityLess() && sec.IsZero() {
		return nil, fmt.Errorf("%w: %s storage needs a security", domain.ErrNotSupported, dt)
	}

	switch dt.Kind {
	case domain.KindTick:
		return r.Ticks(sec), nil
	case domain.KindOrderLog:
		return r.OrderLog(sec), nil
	case domain.KindTransaction:
		return r.Transactions(sec), nil
	case domain.KindQuotes:
		return r.Quotes(sec), nil
	case domain.KindCandle:
		return r.Candles(sec, dt.CandleType(), dt.CandleArg()), nil
	case domain.KindLevel1:
		return r.Level1(sec), nil
	case domain.KindPosition:
		return r.Positions(sec), nil
	case domain.KindNews:
		return r.News(), nil
	case domain.KindBoardState:
		return r.BoardStates(), nil
	default:
		return nil, fmt.Errorf("%w: no storage for %s", domain.ErrNotSupported, dt)
	}
}
