package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"market_store/internal/domain"
	"market_store/internal/engine"
	"market_store/internal/infra"
	"market_store/internal/snapshot"
	"market_store/internal/storage"
)

// Bootstrap orchestrates the application startup sequence and owns every
// long-lived component.
type Bootstrap struct {
	Config       *infra.Config
	WorkDir      string
	Drive        storage.MarketDataDrive
	Registry     *storage.Registry
	Level1       *snapshot.Store[domain.SecurityID, *domain.Level1Change]
	Transactions *snapshot.Store[int64, *domain.Transaction]
	Processor    *engine.Processor
	Sequencer    *engine.Sequencer
	Feeds        []infra.Feed

	// Output receives every message delivered to subscribers, live or
	// replayed. Defaults to debug logging.
	Output func(domain.Message)

	nextTxID atomic.Int64
	unlock   func()
}

// NewBootstrap creates a Bootstrap for cfg. Runtime data lives under workDir.
func NewBootstrap(cfg *infra.Config, workDir string) *Bootstrap {
	return &Bootstrap{Config: cfg, WorkDir: workDir, Output: logMessage}
}

// Initialize opens storage and snapshot files and wires the engine.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	cfg := b.Config
	slog.Info("Bootstrapping market data store...", slog.String("app", cfg.App.Name))

	if err := infra.EnsureDir(b.WorkDir); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	// One writer per workspace
	unlock, err := infra.CreateLockFile(b.WorkDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	drive, err := OpenDrive(ctx, cfg, b.WorkDir)
	if err != nil {
		b.Close()
		return err
	}
	b.Drive = drive

	opts := storage.DefaultOptions()
	opts.AppendOnlyNew = cfg.Storage.AppendOnlyNew
	if !cfg.Storage.PriceStep.IsZero() {
		opts.PriceStep = cfg.Storage.PriceStep
	}
	if !cfg.Storage.VolumeStep.IsZero() {
		opts.VolumeStep = cfg.Storage.VolumeStep
	}
	b.Registry = storage.NewRegistry(drive, opts, cfg.Storage.MessageCache)

	for _, bc := range cfg.Storage.Baskets {
		sec, members, err := parseBasket(bc)
		if err != nil {
			b.Close()
			return err
		}
		b.Registry.RegisterBasket(sec, members)
	}

	if err := b.openSnapshots(); err != nil {
		b.Close()
		return err
	}

	b.Processor = engine.NewProcessor(b.Registry, b.Level1, engine.ProcessorConfig{
		BufferSize: cfg.Processor.BufferSize,
		DaysLoad:   cfg.Storage.DaysLoad,
		Mode:       engine.Mode(cfg.Processor.Mode),
	})

	buffer := storage.NewBuffer(cfg.Processor.FilterSubscription)
	b.Sequencer = engine.NewSequencer(cfg.Processor.InboxSize, buffer, b.Registry, b.output)
	b.Sequencer.SetSnapshots(b.Level1, b.Transactions)

	if url := cfg.Live.WebSocket.URL; url != "" {
		b.Feeds = append(b.Feeds, infra.NewWSFeed(url, b.Sequencer.Inbox()))
	}
	if k := cfg.Live.Kafka; len(k.Brokers) > 0 {
		b.Feeds = append(b.Feeds, infra.NewKafkaFeed(infra.KafkaConfig{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			GroupID:      k.GroupID,
			RequestTopic: k.RequestTopic,
		}, b.Sequencer.Inbox()))
	}

	slog.Info("Engine wired",
		slog.Int("baskets", len(cfg.Storage.Baskets)),
		slog.Int("feeds", len(b.Feeds)),
		slog.String("mode", cfg.Processor.Mode))
	return nil
}

func (b *Bootstrap) openSnapshots() error {
	dir := infra.ResolveDataPath(b.WorkDir, b.Config.Snapshot.Dir, "snapshots")
	if err := infra.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	level1 := snapshot.NewStore[domain.SecurityID, *domain.Level1Change](filepath.Join(dir, "level1.snp"), snapshot.NewLevel1Serializer(0))
	if err := level1.Init(); err != nil {
		return err
	}
	b.Level1 = level1

	transactions := snapshot.NewStore[int64, *domain.Transaction](filepath.Join(dir, "transactions.snp"), snapshot.TransactionSerializer{})
	if err := transactions.Init(); err != nil {
		return err
	}
	b.Transactions = transactions

	slog.Info("Snapshot stores loaded",
		slog.Int("level1", b.Level1.Len()),
		slog.Int("transactions", b.Transactions.Len()))
	return nil
}

// Run starts the snapshot flushers, the sequencer and the feeds, then
// issues the configured startup subscriptions. It blocks until ctx ends and
// every component has stopped.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.Level1.Run(ctx, b.Config.SnapshotInterval())
		return nil
	})
	g.Go(func() error {
		b.Transactions.Run(ctx, b.Config.SnapshotInterval())
		return nil
	})
	g.Go(func() error {
		b.Sequencer.Run(ctx, b.Config.StorageInterval())
		return nil
	})
	for _, f := range b.Feeds {
		f := f
		g.Go(func() error {
			if err := f.Run(ctx); err != nil {
				return fmt.Errorf("feed %s: %w", f.Name(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		for _, s := range b.Config.Live.WebSocket.Subscriptions {
			sec, dt, err := ParseSubscription(s)
			if err != nil {
				slog.Error("Skipping startup subscription", slog.String("subscription", s), slog.Any("error", err))
				continue
			}
			req := &domain.MarketDataRequest{IsSubscribe: true, SecurityID: sec, DataType: dt}
			if err := b.Subscribe(ctx, req); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Startup subscription failed", slog.String("subscription", s), slog.Any("error", err))
			}
		}
		return nil
	})

	slog.Info("Market data store operational")
	return g.Wait()
}

// Subscribe runs req through the storage processor. Stored history goes to
// Output; whatever history cannot answer is forwarded to the feeds and
// tracked by the live buffer. A zero TransactionID gets a fresh id.
func (b *Bootstrap) Subscribe(ctx context.Context, req *domain.MarketDataRequest) error {
	if req.TransactionID == 0 {
		req.TransactionID = b.nextTxID.Add(1)
	}

	stream := b.Processor.Process(ctx, req)
	defer stream.Close()

	replayed := 0
	for {
		m, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch msg := m.(type) {
		case *domain.MarketDataRequest:
			b.forward(ctx, msg)
		case *domain.SubscriptionResponse:
			if msg.Error != "" {
				slog.Warn("Subscription rejected",
					slog.Int64("transaction", msg.OriginalTransactionID),
					slog.String("error", msg.Error))
			}
		case *domain.SubscriptionFinished:
			slog.Info("Subscription answered from storage",
				slog.Int64("transaction", msg.OriginalTransactionID),
				slog.Int("messages", replayed))
		default:
			replayed++
			b.output(m)
		}
	}
	return nil
}

func (b *Bootstrap) forward(ctx context.Context, req *domain.MarketDataRequest) {
	b.Sequencer.Track(req)
	for _, f := range b.Feeds {
		if err := f.Send(ctx, req); err != nil && !errors.Is(err, domain.ErrNotSupported) {
			slog.Warn("Failed to forward request",
				slog.String("feed", f.Name()),
				slog.Int64("transaction", req.TransactionID),
				slog.Any("error", err))
		}
	}
}

func (b *Bootstrap) output(m domain.Message) {
	if b.Output != nil {
		b.Output(m)
	}
}

// Close releases storage and the workspace lock. Snapshot stores are
// flushed by their Run loops and closed here.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Level1 != nil {
		errs = append(errs, b.Level1.Close())
	}
	if b.Transactions != nil {
		errs = append(errs, b.Transactions.Close())
	}
	if b.Drive != nil {
		errs = append(errs, b.Drive.Close())
	}
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
	return errors.Join(errs...)
}

// ParseSubscription parses "CODE@BOARD:type[:arg]". News and board-state
// may omit the security ("news").
func ParseSubscription(s string) (domain.SecurityID, domain.DataType, error) {
	if dt, err := domain.ParseDataType(s); err == nil && dt.IsSecurityLess() {
		return domain.AllSecurity, dt, nil
	}

	secPart, dtPart, ok := strings.Cut(s, ":")
	if !ok {
		return domain.SecurityID{}, domain.DataType{}, fmt.Errorf("subscription %q needs a data type", s)
	}
	sec, err := domain.ParseSecurityID(secPart)
	if err != nil {
		return domain.SecurityID{}, domain.DataType{}, err
	}
	dt, err := domain.ParseDataType(dtPart)
	if err != nil {
		return domain.SecurityID{}, domain.DataType{}, err
	}
	return sec, dt, nil
}

func parseBasket(bc infra.BasketConfig) (domain.SecurityID, []domain.SecurityID, error) {
	sec, err := domain.ParseSecurityID(bc.Security)
	if err != nil {
		return domain.SecurityID{}, nil, fmt.Errorf("invalid basket: %w", err)
	}
	members := make([]domain.SecurityID, 0, len(bc.Underlyings))
	for _, u := range bc.Underlyings {
		m, err := domain.ParseSecurityID(u)
		if err != nil {
			return domain.SecurityID{}, nil, fmt.Errorf("invalid basket %s: %w", bc.Security, err)
		}
		members = append(members, m)
	}
	return sec, members, nil
}

func logMessage(m domain.Message) {
	slog.Debug("Message",
		slog.String("type", m.GetType().String()),
		slog.String("security", m.GetSecurityID().String()),
		slog.Time("time", m.GetTime()))
}
