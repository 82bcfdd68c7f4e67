package storage

import (
	"context"
	"slices"
	"time"

	"market_store/internal/domain"
)

// DateLayout names day directories and keys.
const DateLayout = "2006_01_02"

// Drive stores one byte blob per calendar date for a single
// (security, data type) stream.
type Drive interface {
	// LoadStream returns nil without error when the date has no segment.
	LoadStream(ctx context.Context, date time.Time) ([]byte, error)
	SaveStream(ctx context.Context, date time.Time, data []byte) error
	Delete(ctx context.Context, date time.Time) error
	// Dates lists stored dates in ascending order.
	Dates(ctx context.Context) ([]time.Time, error)
}

// MarketDataDrive hands out the Drive of each stream.
type MarketDataDrive interface {
	GetDrive(sec domain.SecurityID, dt domain.DataType) Drive
	Close() error
}

// DayOf returns the UTC calendar date containing t.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dateKey(date time.Time) string {
	return DayOf(date).Format(DateLayout)
}

func parseDateKey(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

func sortDates(dates []time.Time) []time.Time {
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(dates, func(a, b time.Time) bool { return a.Equal(b) })
}
