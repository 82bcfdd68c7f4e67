package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"market_store/internal/domain"
)

const segmentExt = ".bin"

// LocalDrive lays segments out as <root>/<security>/<yyyy_MM_dd>/<type>.bin.
type LocalDrive struct {
	root string

	mu      sync.Mutex
	indexes map[string]*datesIndex
}

// NewLocalDrive creates a drive rooted at dir.
func NewLocalDrive(dir string) (*LocalDrive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalDrive{root: dir, indexes: make(map[string]*datesIndex)}, nil
}

// Root returns the base directory.
func (d *LocalDrive) Root() string { return d.root }

func (d *LocalDrive) GetDrive(sec domain.SecurityID, dt domain.DataType) Drive {
	secDir := filepath.Join(d.root, pathSafe(sec.String()))
	name := pathSafe(dt.FileName())

	d.mu.Lock()
	defer d.mu.Unlock()
	key := filepath.Join(secDir, name)
	idx, ok := d.indexes[key]
	if !ok {
		idx = newDatesIndex(filepath.Join(secDir, name+datesSuffix))
		d.indexes[key] = idx
	}
	return &localStream{dir: secDir, name: name + segmentExt, index: idx}
}

func (d *LocalDrive) Close() error { return nil }

// pathSafe keeps security codes such as "EUR/USD" inside one directory level.
func pathSafe(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_").Replace(s)
}

type localStream struct {
	dir   string
	name  string
	index *datesIndex
}

func (s *localStream) path(date time.Time) string {
	return filepath.Join(s.dir, dateKey(date), s.name)
}

func (s *localStream) LoadStream(_ context.Context, date time.Time) ([]byte, error) {
	data, err := os.ReadFile(s.path(date))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read segment: %w", err)
	}
	return data, nil
}

func (s *localStream) SaveStream(_ context.Context, date time.Time, data []byte) error {
	path := s.path(date)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create date dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write segment: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace segment: %w", err)
	}

	return s.index.add(DayOf(date), s.scan)
}

func (s *localStream) Delete(_ context.Context, date time.Time) error {
	path := s.path(date)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	// the date directory goes away with its last file
	os.Remove(filepath.Dir(path))

	return s.index.remove(DayOf(date), s.scan)
}

func (s *localStream) Dates(_ context.Context) ([]time.Time, error) {
	return s.index.dates(s.scan)
}

// scan rebuilds the date list from the directory tree.
func (s *localStream) scan() ([]time.Time, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read security dir: %w", err)
	}

	var dates []time.Time
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		date, err := parseDateKey(entry.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, entry.Name(), s.name)); err == nil {
			dates = append(dates, date)
		}
	}
	return sortDates(dates), nil
}
