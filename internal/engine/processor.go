package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"market_store/internal/domain"
	"market_store/internal/snapshot"
	"market_store/internal/storage"
)

// Mode selects how level-1 requests are answered.
type Mode string

const (
	// ModeIncremental replays stored level-1 changes.
	ModeIncremental Mode = "incremental"
	// ModeSnapshot answers level-1 requests from the snapshot store.
	ModeSnapshot Mode = "snapshot"
)

// StorageProvider resolves the storage of a stream. *storage.Registry
// satisfies it.
type StorageProvider interface {
	Get(sec domain.SecurityID, dt domain.DataType) (storage.MarketDataStorage, error)
}

// ProcessorConfig tunes a Processor.
type ProcessorConfig struct {
	// BufferSize bounds the channel between replay and consumer.
	BufferSize int
	// DaysLoad, when positive, replays that many days back for requests
	// that carry no From.
	DaysLoad int
	Mode     Mode
}

// Processor answers subscription requests from storage and decides what
// remains to be requested from the live source.
type Processor struct {
	storages StorageProvider
	level1   *snapshot.Store[domain.SecurityID, *domain.Level1Change]
	cfg      ProcessorConfig
	now      func() time.Time

	mu       sync.Mutex
	replayed map[int64]struct{}
}

// NewProcessor creates a processor. level1 may be nil unless cfg.Mode is
// ModeSnapshot.
func NewProcessor(storages StorageProvider, level1 *snapshot.Store[domain.SecurityID, *domain.Level1Change], cfg ProcessorConfig) *Processor {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeIncremental
	}
	return &Processor{
		storages: storages,
		level1:   level1,
		cfg:      cfg,
		now:      time.Now,
		replayed: make(map[int64]struct{}),
	}
}

// Process handles one subscribe or stop request. The stream yields stored
// records in storage order followed by either a SubscriptionFinished, the
// request to forward to the live source, or a synthetic stop confirmation.
func (p *Processor) Process(ctx context.Context, req *domain.MarketDataRequest) *Stream {
	req = req.Clone()
	return newStream(ctx, p.cfg.BufferSize, func(ctx context.Context, emit func(domain.Message) error) error {
		if !req.IsSubscribe {
			return p.stop(req, emit)
		}
		err := p.subscribe(ctx, req, emit)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Replay failed",
				slog.Int64("transaction_id", req.TransactionID),
				slog.String("security", req.SecurityID.String()),
				slog.String("type", req.DataType.String()),
				slog.Any("error", err))
		}
		return err
	})
}

// IsReplayed reports whether transactionID was answered entirely from storage.
func (p *Processor) IsReplayed(transactionID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.replayed[transactionID]
	return ok
}

func (p *Processor) stop(req *domain.MarketDataRequest, emit func(domain.Message) error) error {
	p.mu.Lock()
	_, ok := p.replayed[req.OriginalTransactionID]
	delete(p.replayed, req.OriginalTransactionID)
	p.mu.Unlock()

	if ok {
		return emit(&domain.SubscriptionResponse{OriginalTransactionID: req.TransactionID})
	}
	return emit(req)
}

func (p *Processor) subscribe(ctx context.Context, req *domain.MarketDataRequest, emit func(domain.Message) error) error {
	if p.cfg.Mode == ModeSnapshot && req.DataType.Kind == domain.KindLevel1 && p.level1 != nil {
		return p.fromSnapshot(req, emit)
	}

	// A book request with neither bound wants the current book: history is
	// replayed but the live request keeps its original bounds.
	liveBook := req.DataType.Kind == domain.KindQuotes && req.From == nil && req.To == nil

	if req.From == nil && p.cfg.DaysLoad > 0 {
		from := storage.DayOf(p.now()).AddDate(0, 0, -p.cfg.DaysLoad)
		req.From = &from
	}
	if req.From == nil {
		return emit(req)
	}
	if req.SecurityID.IsZero() && !req.DataType.IsSecurityLess() {
		return emit(req)
	}

	st, err := p.storages.Get(req.SecurityID, req.DataType)
	if errors.Is(err, domain.ErrNotSupported) {
		return emit(req)
	}
	if err != nil {
		return err
	}

	res, err := p.replay(ctx, st, req, emit)
	if err != nil {
		return err
	}

	if res.covered(req) {
		p.mu.Lock()
		p.replayed[req.TransactionID] = struct{}{}
		p.mu.Unlock()

		slog.Debug("Subscription replayed from storage",
			slog.Int64("transaction_id", req.TransactionID),
			slog.Int64("records", res.count))
		return emit(&domain.SubscriptionFinished{OriginalTransactionID: req.TransactionID})
	}

	if liveBook {
		out := req.Clone()
		out.From = nil
		return emit(out)
	}
	return emit(res.narrow(req))
}

type replayResult struct {
	count     int64
	last      time.Time
	reachedTo bool // storage holds data past To
}

func (r replayResult) exhausted(req *domain.MarketDataRequest) bool {
	return req.Count != nil && r.count >= *req.Count
}

// covered reports whether nothing is left to request live: the count is
// used up, or storage holds data at or after To.
func (r replayResult) covered(req *domain.MarketDataRequest) bool {
	if r.exhausted(req) {
		return true
	}
	if req.To == nil {
		return false
	}
	if r.count > 0 && !r.last.Before(*req.To) {
		return true
	}
	return r.reachedTo
}

// narrow returns the request for what storage could not serve.
func (r replayResult) narrow(req *domain.MarketDataRequest) *domain.MarketDataRequest {
	out := req.Clone()
	if r.count == 0 {
		return out
	}
	from := r.last.Add(time.Nanosecond)
	out.From = &from
	if out.Count != nil {
		left := *out.Count - r.count
		out.Count = &left
	}
	return out
}

func (p *Processor) replay(ctx context.Context, st storage.MarketDataStorage, req *domain.MarketDataRequest, emit func(domain.Message) error) (replayResult, error) {
	var res replayResult

	dates, err := st.Dates(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list dates: %w", err)
	}
	from := *req.From
	first := storage.DayOf(from)
	for _, date := range dates {
		if date.Before(first) {
			continue
		}
		if req.To != nil && date.After(*req.To) {
			res.reachedTo = true
			break
		}

		msgs, err := st.LoadMessages(ctx, date)
		if err != nil {
			return res, fmt.Errorf("failed to load %s: %w", date.Format(storage.DateLayout), err)
		}
		for _, m := range msgs {
			t := m.GetTime()
			if t.Before(from) {
				continue
			}
			if req.To != nil && t.After(*req.To) {
				res.reachedTo = true
				continue
			}
			if res.exhausted(req) {
				return res, nil
			}
			if err := emit(m); err != nil {
				return res, err
			}
			res.count++
			res.last = t
		}
	}
	return res, nil
}

func (p *Processor) fromSnapshot(req *domain.MarketDataRequest, emit func(domain.Message) error) error {
	var msgs []*domain.Level1Change
	if req.SecurityID.IsZero() {
		msgs = p.level1.GetAll(req.From, req.To)
	} else if m, ok := p.level1.Get(req.SecurityID); ok {
		msgs = append(msgs, m)
	}
	for _, m := range msgs {
		if err := emit(m); err != nil {
			return err
		}
	}
	return emit(req)
}
