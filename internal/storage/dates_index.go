package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

const datesSuffix = "_dates.json"

// datesIndex caches the stored dates of one local stream in a JSON file
// next to the day directories.
type datesIndex struct {
	path string

	mu     sync.Mutex
	loaded bool
	list   []time.Time
}

type datesFile struct {
	UpdatedUnix int64    `json:"updated"`
	Dates       []string `json:"dates"`
}

func newDatesIndex(path string) *datesIndex {
	return &datesIndex{path: path}
}

func (ix *datesIndex) dates(scan func() ([]time.Time, error)) ([]time.Time, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.ensure(scan); err != nil {
		return nil, err
	}
	return slices.Clone(ix.list), nil
}

func (ix *datesIndex) add(date time.Time, scan func() ([]time.Time, error)) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.ensure(scan); err != nil {
		return err
	}
	if slices.ContainsFunc(ix.list, date.Equal) {
		return nil
	}
	ix.list = sortDates(append(ix.list, date))
	return ix.save()
}

func (ix *datesIndex) remove(date time.Time, scan func() ([]time.Time, error)) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.ensure(scan); err != nil {
		return err
	}
	n := len(ix.list)
	ix.list = slices.DeleteFunc(ix.list, date.Equal)
	if len(ix.list) == n {
		return nil
	}
	return ix.save()
}

// ensure loads the cache file, falling back to a directory scan when the
// file is missing or unreadable.
func (ix *datesIndex) ensure(scan func() ([]time.Time, error)) error {
	if ix.loaded {
		return nil
	}

	list, err := ix.load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Dates index unreadable, rescanning",
				slog.String("path", ix.path),
				slog.Any("error", err))
		}
		if list, err = scan(); err != nil {
			return err
		}
		ix.list = list
		ix.loaded = true
		if len(list) > 0 {
			return ix.save()
		}
		return nil
	}

	ix.list = list
	ix.loaded = true
	return nil
}

func (ix *datesIndex) load() ([]time.Time, error) {
	data, err := os.ReadFile(ix.path)
	if err != nil {
		return nil, err
	}

	var f datesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dates index: %w", err)
	}

	list := make([]time.Time, 0, len(f.Dates))
	for _, s := range f.Dates {
		date, err := parseDateKey(s)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %q: %w", s, err)
		}
		list = append(list, date)
	}
	return sortDates(list), nil
}

func (ix *datesIndex) save() error {
	if err := os.MkdirAll(filepath.Dir(ix.path), 0755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}

	f := datesFile{UpdatedUnix: time.Now().Unix(), Dates: make([]string, len(ix.list))}
	for i, d := range ix.list {
		f.Dates[i] = d.Format(DateLayout)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dates index: %w", err)
	}

	tmp := ix.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write dates index: %w", err)
	}
	if err := os.Rename(tmp, ix.path); err != nil {
		return fmt.Errorf("failed to replace dates index: %w", err)
	}
	return nil
}
