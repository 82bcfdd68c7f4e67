package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"market_store/internal/domain"
)

// Breaker guards calls to the fast tier. *infra.CircuitBreaker satisfies it.
type Breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
}

// CacheDrive layers a fast drive over an authoritative slow one. Reads
// fall through to the slow drive and populate the fast one; writes and
// deletes go to both. Failures of the fast tier are logged and never
// surface to the caller.
type CacheDrive struct {
	fast    MarketDataDrive
	slow    MarketDataDrive
	breaker Breaker
}

// NewCacheDrive builds the tiered drive. breaker may be nil.
func NewCacheDrive(fast, slow MarketDataDrive, breaker Breaker) *CacheDrive {
	return &CacheDrive{fast: fast, slow: slow, breaker: breaker}
}

func (d *CacheDrive) GetDrive(sec domain.SecurityID, dt domain.DataType) Drive {
	return &cacheStream{
		fast:    d.fast.GetDrive(sec, dt),
		slow:    d.slow.GetDrive(sec, dt),
		breaker: d.breaker,
		name:    sec.String() + "/" + dt.String(),
	}
}

func (d *CacheDrive) Close() error {
	ferr := d.fast.Close()
	if err := d.slow.Close(); err != nil {
		return err
	}
	return ferr
}

type cacheStream struct {
	fast    Drive
	slow    Drive
	breaker Breaker
	name    string
}

func (s *cacheStream) allow() bool {
	return s.breaker == nil || s.breaker.Allow()
}

func (s *cacheStream) record(op string, err error) {
	if err == nil {
		if s.breaker != nil {
			s.breaker.RecordSuccess()
		}
		return
	}
	if s.breaker != nil {
		s.breaker.RecordFailure()
	}
	slog.Warn("Cache tier failed",
		slog.String("op", op),
		slog.String("stream", s.name),
		slog.Any("error", err))
}

func (s *cacheStream) LoadStream(ctx context.Context, date time.Time) ([]byte, error) {
	if s.allow() {
		data, err := s.fast.LoadStream(ctx, date)
		s.record("load", err)
		if err == nil && data != nil {
			return data, nil
		}
	}

	data, err := s.slow.LoadStream(ctx, date)
	if err != nil {
		return nil, err
	}
	if data != nil && s.allow() {
		s.record("fill", s.fast.SaveStream(ctx, date, data))
	}
	return data, nil
}

func (s *cacheStream) SaveStream(ctx context.Context, date time.Time, data []byte) error {
	if err := s.slow.SaveStream(ctx, date, data); err != nil {
		return err
	}
	if s.allow() {
		s.record("save", s.fast.SaveStream(ctx, date, data))
	}
	return nil
}

func (s *cacheStream) Delete(ctx context.Context, date time.Time) error {
	if err := s.slow.Delete(ctx, date); err != nil {
		return err
	}
	if s.allow() {
		s.record("delete", s.fast.Delete(ctx, date))
	}
	return nil
}

func (s *cacheStream) Dates(ctx context.Context) ([]time.Time, error) {
	dates, err := s.slow.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list slow tier dates: %w", err)
	}
	if s.allow() {
		fast, err := s.fast.Dates(ctx)
		s.record("dates", err)
		if err == nil {
			dates = sortDates(append(dates, fast...))
		}
	}
	return dates, nil
}
