// Package snapshot keeps the latest record per key in memory and mirrors it
// into fixed-size slots of a flat file.
package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"market_store/internal/domain"
)

const headerSize = 2

const (
	slotDead byte = 0
	slotLive byte = 1
)

// Serializer maps one message kind to fixed-size slot payloads.
type Serializer[K comparable, M any] interface {
	Name() string
	// Version is written into the header of new files.
	Version() uint16
	// SlotSize is the payload size for a file version.
	SlotSize(version uint16) (int, error)
	Key(m M) K
	Encode(buf []byte, m M, version uint16) error
	Decode(buf []byte, version uint16) (M, error)
	// Update merges curr into prev and returns the result; neither input
	// may be retained by it.
	Update(prev, curr M) M
	Clone(m M) M
	Time(m M) time.Time
}

type entry[M any] struct {
	offset int64
	msg    M
}

// Store holds the latest message per key. Update and Get never touch the
// disk; Flush writes dirty slots in place.
type Store[K comparable, M any] struct {
	path string
	ser  Serializer[K, M]

	mu       sync.Mutex
	file     *os.File
	version  uint16
	slotSize int64
	next     int64
	entries  map[K]*entry[M]
	dirty    map[K]struct{}
	dead     []int64

	flushing atomic.Bool
}

// NewStore creates a store backed by path. Call Init before use.
func NewStore[K comparable, M any](path string, ser Serializer[K, M]) *Store[K, M] {
	return &Store[K, M]{
		path:    path,
		ser:     ser,
		entries: make(map[K]*entry[M]),
		dirty:   make(map[K]struct{}),
	}
}

// Init opens the file, writing the version header on first use, and replays
// every live slot into memory.
func (s *Store[K, M]) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return fmt.Errorf("snapshot %s already initialized", s.ser.Name())
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat snapshot file: %w", err)
	}

	if info.Size() < headerSize {
		s.version = s.ser.Version()
		var header [headerSize]byte
		binary.LittleEndian.PutUint16(header[:], s.version)
		if _, err := f.WriteAt(header[:], 0); err != nil {
			f.Close()
			return fmt.Errorf("failed to write snapshot header: %w", err)
		}
		if err := f.Truncate(headerSize); err != nil {
			f.Close()
			return fmt.Errorf("failed to truncate snapshot file: %w", err)
		}
	} else {
		var header [headerSize]byte
		if _, err := f.ReadAt(header[:], 0); err != nil {
			f.Close()
			return fmt.Errorf("failed to read snapshot header: %w", err)
		}
		s.version = binary.LittleEndian.Uint16(header[:])
		if s.version > s.ser.Version() {
			f.Close()
			return fmt.Errorf("%w: %s snapshot version %d is newer than %d",
				domain.ErrDataFormat, s.ser.Name(), s.version, s.ser.Version())
		}
	}

	size, err := s.ser.SlotSize(s.version)
	if err != nil {
		f.Close()
		return err
	}
	s.slotSize = int64(size) + 1
	s.file = f

	if err := s.replay(info.Size()); err != nil {
		s.file = nil
		f.Close()
		return err
	}

	slog.Info("Snapshot store loaded",
		slog.String("name", s.ser.Name()),
		slog.String("path", s.path),
		slog.Int("version", int(s.version)),
		slog.Int("entries", len(s.entries)))

	return nil
}

func (s *Store[K, M]) replay(fileSize int64) error {
	s.next = headerSize
	buf := make([]byte, s.slotSize)
	for off := int64(headerSize); off+s.slotSize <= fileSize; off += s.slotSize {
		if _, err := s.file.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read slot at %d: %w", off, err)
		}
		s.next = off + s.slotSize
		if buf[0] != slotLive {
			continue
		}
		msg, err := s.ser.Decode(buf[1:], s.version)
		if err != nil {
			return fmt.Errorf("failed to decode slot at %d: %w", off, err)
		}
		s.entries[s.ser.Key(msg)] = &entry[M]{offset: off, msg: msg}
	}
	return nil
}

// Update merges m into the slot of its key, allocating a slot for new keys.
func (s *Store[K, M]) Update(m M) {
	key := s.ser.Key(m)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.msg = s.ser.Update(e.msg, m)
	} else {
		s.entries[key] = &entry[M]{offset: s.next, msg: s.ser.Clone(m)}
		s.next += s.slotSize
	}
	s.dirty[key] = struct{}{}
}

// Get returns a copy of the latest message of key.
func (s *Store[K, M]) Get(key K) (M, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		var zero M
		return zero, false
	}
	return s.ser.Clone(e.msg), true
}

// GetAll returns copies of all messages whose time falls in [from, to].
// Nil bounds are open. Results follow slot order.
func (s *Store[K, M]) GetAll(from, to *time.Time) []M {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*entry[M], 0, len(s.entries))
	for _, e := range s.entries {
		t := s.ser.Time(e.msg)
		if from != nil && t.Before(*from) {
			continue
		}
		if to != nil && t.After(*to) {
			continue
		}
		list = append(list, e)
	}
	slices.SortFunc(list, func(a, b *entry[M]) int {
		switch {
		case a.offset < b.offset:
			return -1
		case a.offset > b.offset:
			return 1
		}
		return 0
	})

	out := make([]M, len(list))
	for i, e := range list {
		out[i] = s.ser.Clone(e.msg)
	}
	return out
}

// Len returns the number of live keys.
func (s *Store[K, M]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear forgets key. Its slot is marked dead on the next flush; the space
// is not reused.
func (s *Store[K, M]) Clear(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		s.dead = append(s.dead, e.offset)
		delete(s.entries, key)
		delete(s.dirty, key)
	}
}

// ClearAll forgets every key.
func (s *Store[K, M]) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		s.dead = append(s.dead, e.offset)
	}
	clear(s.entries)
	clear(s.dirty)
}

type pendingSlot[K comparable, M any] struct {
	key    K
	offset int64
	msg    M
}

// Flush writes dirty slots. It returns immediately when another flush is
// running. Slots that fail to write stay dirty for the next call.
func (s *Store[K, M]) Flush() error {
	if !s.flushing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.flushing.Store(false)

	s.mu.Lock()
	if s.file == nil {
		s.mu.Unlock()
		return fmt.Errorf("snapshot %s not initialized", s.ser.Name())
	}
	pending := make([]pendingSlot[K, M], 0, len(s.dirty))
	for key := range s.dirty {
		e := s.entries[key]
		pending = append(pending, pendingSlot[K, M]{key: key, offset: e.offset, msg: s.ser.Clone(e.msg)})
	}
	clear(s.dirty)
	dead := s.dead
	s.dead = nil
	file, version := s.file, s.version
	s.mu.Unlock()

	if len(pending) == 0 && len(dead) == 0 {
		return nil
	}

	var errs []error
	var failed []K
	var failedDead []int64

	buf := make([]byte, s.slotSize)
	for _, p := range pending {
		clear(buf)
		buf[0] = slotLive
		err := s.ser.Encode(buf[1:], p.msg, version)
		if err == nil {
			_, err = file.WriteAt(buf, p.offset)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("slot at %d: %w", p.offset, err))
			failed = append(failed, p.key)
		}
	}
	for _, off := range dead {
		if _, err := file.WriteAt([]byte{slotDead}, off); err != nil {
			errs = append(errs, fmt.Errorf("tombstone at %d: %w", off, err))
			failedDead = append(failedDead, off)
		}
	}
	if err := file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}

	if len(failed) > 0 || len(failedDead) > 0 {
		s.mu.Lock()
		for _, key := range failed {
			if _, ok := s.entries[key]; ok {
				s.dirty[key] = struct{}{}
			}
		}
		s.dead = append(s.dead, failedDead...)
		s.mu.Unlock()
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to flush %s snapshot: %w", s.ser.Name(), err)
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
// Failures are logged and retried on the next tick.
func (s *Store[K, M]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				slog.Error("Final snapshot flush failed",
					slog.String("name", s.ser.Name()),
					slog.Any("error", err))
			}
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				slog.Error("Snapshot flush failed",
					slog.String("name", s.ser.Name()),
					slog.Any("error", err))
			}
		}
	}
}

// Close flushes and releases the file.
func (s *Store[K, M]) Close() error {
	ferr := s.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ferr
	}
	err := s.file.Close()
	s.file = nil
	if ferr != nil {
		return ferr
	}
	return err
}
