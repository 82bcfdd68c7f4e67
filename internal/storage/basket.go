package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"market_store/internal/domain"
)

// Lookup resolves the storage of one underlying instrument.
type Lookup func(sec domain.SecurityID, dt domain.DataType) (MarketDataStorage, error)

// BasketStorage serves an index or continuous instrument by fanning out to
// the storages of its underlyings. It owns no segments itself.
type BasketStorage struct {
	security    domain.SecurityID
	dataType    domain.DataType
	underlyings []domain.SecurityID
	lookup      Lookup
}

// NewBasketStorage creates the composite view of sec over underlyings.
func NewBasketStorage(sec domain.SecurityID, dt domain.DataType, underlyings []domain.SecurityID, lookup Lookup) *BasketStorage {
	return &BasketStorage{
		security:    sec,
		dataType:    dt,
		underlyings: slices.Clone(underlyings),
		lookup:      lookup,
	}
}

func (b *BasketStorage) SecurityID() domain.SecurityID { return b.security }
func (b *BasketStorage) DataType() domain.DataType     { return b.dataType }

// Underlyings returns the member instruments.
func (b *BasketStorage) Underlyings() []domain.SecurityID {
	return slices.Clone(b.underlyings)
}

func (b *BasketStorage) member(sec domain.SecurityID) (MarketDataStorage, error) {
	if !slices.Contains(b.underlyings, sec) {
		return nil, fmt.Errorf("%w: %s is not part of basket %s", domain.ErrNotSupported, sec, b.security)
	}
	return b.lookup(sec, b.dataType)
}

// Dates is the union of the underlyings' dates.
func (b *BasketStorage) Dates(ctx context.Context) ([]time.Time, error) {
	var dates []time.Time
	for _, sec := range b.underlyings {
		s, err := b.lookup(sec, b.dataType)
		if err != nil {
			return nil, err
		}
		d, err := s.Dates(ctx)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d...)
	}
	return sortDates(dates), nil
}

// LoadMessages merges the underlyings' records of date in time order.
func (b *BasketStorage) LoadMessages(ctx context.Context, date time.Time) ([]domain.Message, error) {
	var merged []domain.Message
	for _, sec := range b.underlyings {
		s, err := b.lookup(sec, b.dataType)
		if err != nil {
			return nil, err
		}
		msgs, err := s.LoadMessages(ctx, date)
		if err != nil {
			return nil, err
		}
		merged = append(merged, msgs...)
	}
	slices.SortStableFunc(merged, func(x, y domain.Message) int {
		return x.GetTime().Compare(y.GetTime())
	})
	return merged, nil
}

// SaveMessages regroups msgs by their own instrument and saves each group
// into that underlying's storage.
func (b *BasketStorage) SaveMessages(ctx context.Context, msgs []domain.Message) (int, error) {
	total := 0
	for _, g := range groupBySecurity(msgs) {
		s, err := b.member(g.sec)
		if err != nil {
			return total, err
		}
		n, err := s.SaveMessages(ctx, g.msgs)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DeleteMessages regroups msgs like SaveMessages.
func (b *BasketStorage) DeleteMessages(ctx context.Context, msgs []domain.Message) error {
	for _, g := range groupBySecurity(msgs) {
		s, err := b.member(g.sec)
		if err != nil {
			return err
		}
		if err := s.DeleteMessages(ctx, g.msgs); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDate is not supported: a whole basket day spans several owners.
func (b *BasketStorage) DeleteDate(context.Context, time.Time) error {
	return fmt.Errorf("%w: delete date of basket %s", domain.ErrNotSupported, b.security)
}

type securityGroup struct {
	sec  domain.SecurityID
	msgs []domain.Message
}

func groupBySecurity(msgs []domain.Message) []securityGroup {
	var groups []securityGroup
	index := make(map[domain.SecurityID]int)
	for _, m := range msgs {
		sec := m.GetSecurityID()
		i, ok := index[sec]
		if !ok {
			i = len(groups)
			index[sec] = i
			groups = append(groups, securityGroup{sec: sec})
		}
		groups[i].msgs = append(groups[i].msgs, m)
	}
	return groups
}
