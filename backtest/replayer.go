package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"market_store/internal/domain"
	"market_store/internal/engine"
)

// Replayer feeds stored history into a Sequencer for offline analysis.
// Messages go through Sequencer.Replay, so snapshot stores and the
// sequencer callback see them while nothing is buffered for storage again.
type Replayer struct {
	processor *engine.Processor
}

// NewReplayer creates a replayer reading from storages. Requests are
// always answered from history; level-1 snapshot mode is not used.
func NewReplayer(storages engine.StorageProvider) *Replayer {
	return &Replayer{
		processor: engine.NewProcessor(storages, nil, engine.ProcessorConfig{Mode: engine.ModeIncremental}),
	}
}

// RunReplay replays each request in order and returns the number of
// market data messages delivered. Parts of a request that storage cannot
// serve are logged and skipped.
func (r *Replayer) RunReplay(ctx context.Context, seq *engine.Sequencer, reqs ...*domain.MarketDataRequest) (int, error) {
	total := 0
	for _, req := range reqs {
		if req.From == nil {
			return total, fmt.Errorf("replay of %s %s needs a start time", req.SecurityID, req.DataType)
		}

		n, err := r.replayOne(ctx, seq, req)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *Replayer) replayOne(ctx context.Context, seq *engine.Sequencer, req *domain.MarketDataRequest) (int, error) {
	stream := r.processor.Process(ctx, req.Clone())
	defer stream.Close()

	n := 0
	for {
		m, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to replay %s %s: %w", req.SecurityID, req.DataType, err)
		}

		switch msg := m.(type) {
		case *domain.MarketDataRequest:
			slog.Info("History ends before the requested range",
				slog.String("security", req.SecurityID.String()),
				slog.String("type", req.DataType.String()),
				slog.Int("replayed", n),
				slog.Any("remaining_from", msg.From))
		case *domain.SubscriptionFinished, *domain.SubscriptionResponse:
		default:
			// Feed into sequencer synchronously for deterministic replay.
			seq.Replay(m)
			n++
		}
	}
}
