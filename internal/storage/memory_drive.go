package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"market_store/internal/domain"
)

type streamKey struct {
	sec domain.SecurityID
	dt  domain.DataType
}

// MemoryDrive keeps segments in process memory.
type MemoryDrive struct {
	mu      sync.RWMutex
	streams map[streamKey]map[string][]byte
}

// NewMemoryDrive creates an empty in-memory drive.
func NewMemoryDrive() *MemoryDrive {
	return &MemoryDrive{streams: make(map[streamKey]map[string][]byte)}
}

func (d *MemoryDrive) GetDrive(sec domain.SecurityID, dt domain.DataType) Drive {
	return &memoryStream{root: d, key: streamKey{sec, dt}}
}

func (d *MemoryDrive) Close() error { return nil }

type memoryStream struct {
	root *MemoryDrive
	key  streamKey
}

func (s *memoryStream) LoadStream(_ context.Context, date time.Time) ([]byte, error) {
	s.root.mu.RLock()
	defer s.root.mu.RUnlock()
	return slices.Clone(s.root.streams[s.key][dateKey(date)]), nil
}

func (s *memoryStream) SaveStream(_ context.Context, date time.Time, data []byte) error {
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	days, ok := s.root.streams[s.key]
	if !ok {
		days = make(map[string][]byte)
		s.root.streams[s.key] = days
	}
	days[dateKey(date)] = slices.Clone(data)
	return nil
}

func (s *memoryStream) Delete(_ context.Context, date time.Time) error {
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	delete(s.root.streams[s.key], dateKey(date))
	return nil
}

func (s *memoryStream) Dates(_ context.Context) ([]time.Time, error) {
	s.root.mu.RLock()
	defer s.root.mu.RUnlock()
	dates := make([]time.Time, 0, len(s.root.streams[s.key]))
	for k := range s.root.streams[s.key] {
		if d, err := parseDateKey(k); err == nil {
			dates = append(dates, d)
		}
	}
	return sortDates(dates), nil
}
