// Package storage keeps market data as one encoded segment per
// (security, data type, date) on a pluggable Drive.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"market_store/internal/codec"
	"market_store/internal/domain"
)

// MarketDataStorage is the kind-erased view of one stream used by the
// processor, baskets and the live buffer flush.
type MarketDataStorage interface {
	SecurityID() domain.SecurityID
	DataType() domain.DataType
	Dates(ctx context.Context) ([]time.Time, error)
	LoadMessages(ctx context.Context, date time.Time) ([]domain.Message, error)
	SaveMessages(ctx context.Context, msgs []domain.Message) (int, error)
	DeleteMessages(ctx context.Context, msgs []domain.Message) error
	DeleteDate(ctx context.Context, date time.Time) error
}

// Policy holds the per-kind behaviour of a Storage.
type Policy[T domain.Message] struct {
	// Filter drops records already covered by meta. nil accepts everything.
	Filter func(records []T, meta codec.Metadata, precision time.Duration) []T
	// Key identifies a record for Delete. Times are compared at precision.
	Key func(r T, precision time.Duration) string
}

// Options are shared by every storage a Registry creates.
type Options struct {
	PriceStep     decimal.Decimal
	VolumeStep    decimal.Decimal
	AppendOnlyNew bool
}

// DefaultOptions uses the codec's default steps with dedup enabled.
func DefaultOptions() Options {
	return Options{
		PriceStep:     codec.DefaultPriceStep,
		VolumeStep:    codec.DefaultVolumeStep,
		AppendOnlyNew: true,
	}
}

// Storage persists one message kind of one security. It assumes a single
// writer per stream; concurrent Save calls on the same stream must be
// serialized by the caller.
type Storage[T domain.Message] struct {
	security   domain.SecurityID
	drive      Drive
	serializer codec.Serializer[T]
	policy     Policy[T]
	opts       Options
}

// New creates a storage over drive.
func New[T domain.Message](sec domain.SecurityID, drive Drive, serializer codec.Serializer[T], policy Policy[T], opts Options) *Storage[T] {
	return &Storage[T]{
		security:   sec,
		drive:      drive,
		serializer: serializer,
		policy:     policy,
		opts:       opts,
	}
}

func (s *Storage[T]) SecurityID() domain.SecurityID { return s.security }
func (s *Storage[T]) DataType() domain.DataType     { return s.serializer.DataType() }

// AppendOnlyNew reports whether Save filters through the dedup policy.
func (s *Storage[T]) AppendOnlyNew() bool { return s.opts.AppendOnlyNew }

// SetAppendOnlyNew toggles dedup; bulk re-imports turn it off.
func (s *Storage[T]) SetAppendOnlyNew(v bool) { s.opts.AppendOnlyNew = v }

func (s *Storage[T]) Dates(ctx context.Context) ([]time.Time, error) {
	return s.drive.Dates(ctx)
}

func (s *Storage[T]) newMetadata(date time.Time) codec.Metadata {
	m := s.serializer.CreateMetadata(DayOf(date))
	if s.opts.PriceStep.IsPositive() {
		m.PriceStep = s.opts.PriceStep
	}
	if s.opts.VolumeStep.IsPositive() {
		m.VolumeStep = s.opts.VolumeStep
	}
	return m
}

func (s *Storage[T]) loadSegment(ctx context.Context, date time.Time) (codec.Metadata, []byte, bool, error) {
	blob, err := s.drive.LoadStream(ctx, date)
	if err != nil {
		return codec.Metadata{}, nil, false, err
	}
	if blob == nil {
		return codec.Metadata{}, nil, false, nil
	}
	meta, data, err := codec.DecodeSegment(blob)
	if err != nil {
		return codec.Metadata{}, nil, false, err
	}
	return meta, data, true, nil
}

// Metadata returns the segment metadata of date, or nil when absent.
func (s *Storage[T]) Metadata(ctx context.Context, date time.Time) (*codec.Metadata, error) {
	meta, _, ok, err := s.loadSegment(ctx, date)
	if err != nil || !ok {
		return nil, err
	}
	return &meta, nil
}

// Load decodes every record of date. A missing segment yields no records.
func (s *Storage[T]) Load(ctx context.Context, date time.Time) ([]T, error) {
	meta, data, ok, err := s.loadSegment(ctx, date)
	if err != nil || !ok {
		return nil, err
	}
	records, err := s.serializer.Deserialize(data, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s %s on %s: %w",
			s.security, s.DataType(), dateKey(date), err)
	}
	return records, nil
}

// Save appends records to their day segments and returns how many were written.
func (s *Storage[T]) Save(ctx context.Context, records []T) (int, error) {
	total := 0
	for _, g := range groupByDay(records) {
		n, err := s.saveDay(ctx, g.date, g.records)
		total += n
		if err != nil {
			return total, fmt.Errorf("failed to save %s %s on %s: %w",
				s.security, s.DataType(), dateKey(g.date), err)
		}
	}
	return total, nil
}

func (s *Storage[T]) saveDay(ctx context.Context, date time.Time, records []T) (int, error) {
	meta, data, ok, err := s.loadSegment(ctx, date)
	if err != nil {
		return 0, err
	}
	if !ok {
		meta = s.newMetadata(date)
	}

	if s.opts.AppendOnlyNew && s.policy.Filter != nil {
		records = s.policy.Filter(records, meta, s.serializer.TimePrecision())
	}
	if len(records) == 0 {
		return 0, nil
	}

	part, next, err := s.serializer.Serialize(records, meta)
	if err != nil {
		return 0, err
	}

	blob, err := codec.EncodeSegment(next, append(data[:len(data):len(data)], part...))
	if err != nil {
		return 0, err
	}
	if err := s.drive.SaveStream(ctx, date, blob); err != nil {
		return 0, err
	}

	slog.Debug("Segment appended",
		slog.String("security", s.security.String()),
		slog.String("type", s.DataType().String()),
		slog.String("date", dateKey(date)),
		slog.Int("records", len(records)),
		slog.Int("total", next.Count))

	return len(records), nil
}

// Delete removes the given records, rewriting each touched segment. A
// segment left without records is deleted.
func (s *Storage[T]) Delete(ctx context.Context, records []T) error {
	if s.policy.Key == nil {
		return fmt.Errorf("%w: %s records have no identity", domain.ErrNotSupported, s.DataType())
	}

	for _, g := range groupByDay(records) {
		if err := s.deleteDay(ctx, g.date, g.records); err != nil {
			return fmt.Errorf("failed to delete from %s %s on %s: %w",
				s.security, s.DataType(), dateKey(g.date), err)
		}
	}
	return nil
}

func (s *Storage[T]) deleteDay(ctx context.Context, date time.Time, records []T) error {
	meta, data, ok, err := s.loadSegment(ctx, date)
	if err != nil || !ok {
		return err
	}
	existing, err := s.serializer.Deserialize(data, meta)
	if err != nil {
		return err
	}

	precision := s.serializer.TimePrecision()
	drop := make(map[string]struct{}, len(records))
	for _, r := range records {
		drop[s.policy.Key(r, precision)] = struct{}{}
	}
	n := len(existing)
	keep := slices.DeleteFunc(existing, func(r T) bool {
		_, ok := drop[s.policy.Key(r, precision)]
		return ok
	})
	if len(keep) == n {
		return nil
	}
	if len(keep) == 0 {
		return s.drive.Delete(ctx, date)
	}

	fresh := s.newMetadata(date)
	fresh.PriceStep, fresh.VolumeStep = meta.PriceStep, meta.VolumeStep
	part, next, err := s.serializer.Serialize(keep, fresh)
	if err != nil {
		return err
	}
	blob, err := codec.EncodeSegment(next, part)
	if err != nil {
		return err
	}
	return s.drive.SaveStream(ctx, date, blob)
}

// DeleteDate removes the whole segment of date.
func (s *Storage[T]) DeleteDate(ctx context.Context, date time.Time) error {
	return s.drive.Delete(ctx, date)
}

func (s *Storage[T]) LoadMessages(ctx context.Context, date time.Time) ([]domain.Message, error) {
	records, err := s.Load(ctx, date)
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, len(records))
	for i, r := range records {
		msgs[i] = r
	}
	return msgs, nil
}

func (s *Storage[T]) SaveMessages(ctx context.Context, msgs []domain.Message) (int, error) {
	records, err := s.typed(msgs)
	if err != nil {
		return 0, err
	}
	return s.Save(ctx, records)
}

func (s *Storage[T]) DeleteMessages(ctx context.Context, msgs []domain.Message) error {
	records, err := s.typed(msgs)
	if err != nil {
		return err
	}
	return s.Delete(ctx, records)
}

func (s *Storage[T]) typed(msgs []domain.Message) ([]T, error) {
	records := make([]T, 0, len(msgs))
	for _, m := range msgs {
		r, ok := m.(T)
		if !ok {
			return nil, fmt.Errorf("%w: %T does not belong to %s storage",
				domain.ErrDataFormat, m, s.DataType())
		}
		records = append(records, r)
	}
	return records, nil
}

type dayGroup[T domain.Message] struct {
	date    time.Time
	records []T
}

// groupByDay splits records by UTC calendar date, keeping input order
// within each day and returning days in ascending order.
func groupByDay[T domain.Message](records []T) []dayGroup[T] {
	var groups []dayGroup[T]
	index := make(map[time.Time]int)
	for _, r := range records {
		day := DayOf(r.GetTime())
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, dayGroup[T]{date: day})
		}
		groups[i].records = append(groups[i].records, r)
	}
	slices.SortFunc(groups, func(a, b dayGroup[T]) int { return a.date.Compare(b.date) })
	return groups
}
