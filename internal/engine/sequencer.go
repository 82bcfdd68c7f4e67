package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"market_store/internal/domain"
	"market_store/internal/snapshot"
	"market_store/internal/storage"
)

// Sequencer is the single-goroutine router of live messages. Every message
// is buffered for day storage, applied to the snapshot stores and handed to
// the outbound callback.
type Sequencer struct {
	inbox    chan domain.Message
	buffer   *storage.Buffer
	storages StorageProvider

	level1       *snapshot.Store[domain.SecurityID, *domain.Level1Change]
	transactions *snapshot.Store[int64, *domain.Transaction]

	// Boundary: consumers of live data (feeds out, UI, tests)
	onMessage func(domain.Message)

	flushes   sync.WaitGroup
	flushing  atomic.Bool
	processed atomic.Uint64
	persisted atomic.Uint64
}

// NewSequencer creates a sequencer. storages receives drained buffers;
// onMessage may be nil.
func NewSequencer(inboxSize int, buffer *storage.Buffer, storages StorageProvider, onMessage func(domain.Message)) *Sequencer {
	return &Sequencer{
		inbox:     make(chan domain.Message, inboxSize),
		buffer:    buffer,
		storages:  storages,
		onMessage: onMessage,
	}
}

// SetSnapshots attaches the latest-state stores. Either may be nil.
func (s *Sequencer) SetSnapshots(level1 *snapshot.Store[domain.SecurityID, *domain.Level1Change], transactions *snapshot.Store[int64, *domain.Transaction]) {
	s.level1 = level1
	s.transactions = transactions
}

// Inbox returns the message channel. Feeds send here.
func (s *Sequencer) Inbox() chan<- domain.Message {
	return s.inbox
}

// Track registers a live subscription with the buffer filter.
func (s *Sequencer) Track(req *domain.MarketDataRequest) {
	if req.IsSubscribe {
		s.buffer.Subscribe(req.SecurityID, req.DataType)
		return
	}
	s.buffer.Unsubscribe(req.SecurityID, req.DataType)
}

// Run is the main loop. It MUST run in a single goroutine. Buffers are
// persisted every storageInterval and once more on shutdown.
func (s *Sequencer) Run(ctx context.Context, storageInterval time.Duration) {
	slog.Info("Sequencer started", slog.Duration("storage_interval", storageInterval))

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState("panic_dump.json")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	ticker := time.NewTicker(storageInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
		drain:
			for {
				select {
				case m := <-s.inbox:
					s.process(m)
				default:
					break drain
				}
			}
			s.flushes.Wait()
			if _, err := s.FlushStorage(context.Background()); err != nil {
				slog.Error("Final storage flush failed", slog.Any("error", err))
			}
			return
		case m := <-s.inbox:
			s.process(m)
		case <-ticker.C:
			s.flushes.Add(1)
			go func() {
				defer s.flushes.Done()
				if _, err := s.FlushStorage(context.WithoutCancel(ctx)); err != nil {
					slog.Error("Storage flush failed", slog.Any("error", err))
				}
			}()
		}
	}
}

func (s *Sequencer) process(m domain.Message) {
	s.buffer.Add(m)
	s.apply(m)
	s.processed.Add(1)
}

// Replay applies m to the snapshot stores and the callback without
// buffering it for storage. Used for data that already comes from storage.
func (s *Sequencer) Replay(m domain.Message) {
	s.apply(m)
}

func (s *Sequencer) apply(m domain.Message) {
	switch msg := m.(type) {
	case *domain.Level1Change:
		if s.level1 != nil {
			s.level1.Update(msg)
		}
	case *domain.Transaction:
		if s.transactions != nil {
			s.transactions.Update(msg)
		}
	}

	if s.onMessage != nil {
		s.onMessage(m)
	}
}

// FlushStorage saves everything buffered so far. A call made while another
// flush runs returns at once. Batches that fail are logged and dropped.
func (s *Sequencer) FlushStorage(ctx context.Context) (int, error) {
	if !s.flushing.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.flushing.Store(false)

	var errs []error
	total := 0
	for _, b := range s.buffer.Drain() {
		st, err := s.storages.Get(b.SecurityID, b.DataType)
		if err == nil {
			var n int
			n, err = st.SaveMessages(ctx, b.Messages)
			total += n
		}
		if err != nil {
			slog.Warn("Dropping buffered batch",
				slog.String("security", b.SecurityID.String()),
				slog.String("type", b.DataType.String()),
				slog.Int("messages", len(b.Messages)),
				slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	s.persisted.Add(uint64(total))
	if total > 0 {
		slog.Debug("Buffers persisted", slog.Int("records", total))
	}
	return total, errors.Join(errs...)
}

// Stats returns how many live messages were routed and how many records
// reached day storage.
func (s *Sequencer) Stats() (processed, persisted uint64) {
	return s.processed.Load(), s.persisted.Load()
}

// DumpState writes counters and buffer occupancy to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	processed, persisted := s.Stats()
	data := struct {
		Processed uint64 `json:"processed"`
		Persisted uint64 `json:"persisted"`
		Buffered  int    `json:"buffered"`
		Inbox     int    `json:"inbox"`
	}{
		Processed: processed,
		Persisted: persisted,
		Buffered:  s.buffer.Len(),
		Inbox:     len(s.inbox),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
