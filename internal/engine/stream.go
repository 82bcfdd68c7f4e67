package engine

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"market_store/internal/domain"
)

// Stream is the ordered output of one processed request. A producer
// goroutine fills a bounded channel; Next reads it in order. A Stream has
// a single consumer.
type Stream struct {
	ch     chan domain.Message
	cancel context.CancelFunc
	group  *errgroup.Group

	done bool
	err  error
}

// newStream starts produce on its own goroutine. produce must return once
// its context is cancelled.
func newStream(ctx context.Context, size int, produce func(ctx context.Context, emit func(domain.Message) error) error) *Stream {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s := &Stream{ch: make(chan domain.Message, size), cancel: cancel, group: g}

	emit := func(m domain.Message) error {
		select {
		case s.ch <- m:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	}

	g.Go(func() error {
		defer close(s.ch)
		return produce(gctx, emit)
	})
	return s
}

// Next returns the next message, io.EOF after the last one, or the
// producer's error. Once ctx is cancelled the producer is stopped and
// awaited before Next returns, and every later call fails.
func (s *Stream) Next(ctx context.Context) (domain.Message, error) {
	if s.done {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		s.Close()
		s.err = err
		return nil, err
	}

	select {
	case m, ok := <-s.ch:
		if ok {
			return m, nil
		}
		s.finish(s.group.Wait())
		return nil, s.err
	case <-ctx.Done():
		s.Close()
		s.err = ctx.Err()
		return nil, s.err
	}
}

// Close stops the producer and waits for it to exit.
func (s *Stream) Close() error {
	if s.done {
		if errors.Is(s.err, io.EOF) {
			return nil
		}
		return s.err
	}
	s.cancel()
	err := s.group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.finish(err)
	return err
}

func (s *Stream) finish(err error) {
	s.cancel()
	s.done = true
	if err == nil {
		err = io.EOF
	}
	s.err = err
}

// Collect drains s into a slice.
func Collect(ctx context.Context, s *Stream) ([]domain.Message, error) {
	defer s.Close()

	var out []domain.Message
	for {
		m, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
}
