package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"market_store/internal/domain"
)

// KafkaReader is the subset of *kafka.Reader the feed uses.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter is the subset of *kafka.Writer used to forward requests.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaFeed.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	RequestTopic string // empty disables request forwarding
}

// KafkaFeed consumes JSON envelopes from a topic as a consumer group
// member. Offsets are committed only after the message reached the inbox.
type KafkaFeed struct {
	reader KafkaReader
	writer KafkaWriter
	inbox  chan<- domain.Message
	topic  string

	Backoff Backoff
}

// NewKafkaFeed creates a feed reading cfg.Topic.
func NewKafkaFeed(cfg KafkaConfig, inbox chan<- domain.Message) *KafkaFeed {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // commits are explicit
	})

	var writer KafkaWriter
	if cfg.RequestTopic != "" {
		writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.RequestTopic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return newKafkaFeed(reader, writer, cfg.Topic, inbox)
}

func newKafkaFeed(reader KafkaReader, writer KafkaWriter, topic string, inbox chan<- domain.Message) *KafkaFeed {
	return &KafkaFeed{
		reader:  reader,
		writer:  writer,
		inbox:   inbox,
		topic:   topic,
		Backoff: DefaultBackoff,
	}
}

func (f *KafkaFeed) Name() string { return "kafka:" + f.topic }

// Run fetches until ctx is cancelled, then closes the reader and writer.
func (f *KafkaFeed) Run(ctx context.Context) error {
	defer f.close()

	slog.Info("Kafka feed started", slog.String("topic", f.topic))
	retry := 0
	for {
		m, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			slog.Error("Kafka fetch error", slog.String("topic", f.topic), slog.Any("error", err))
			if !f.Backoff.Wait(ctx.Done(), retry) {
				return nil
			}
			retry++
			continue
		}
		retry = 0

		if !deliver(ctx, f.inbox, f.Name(), m.Value) {
			return nil
		}
		if err := f.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			slog.Warn("Kafka commit failed",
				slog.String("topic", f.topic),
				slog.Int64("offset", m.Offset),
				slog.Any("error", err))
		}
	}
}

// Send publishes req to the request topic, keyed by security so that a
// subscribe and its unsubscribe land on one partition.
func (f *KafkaFeed) Send(ctx context.Context, req *domain.MarketDataRequest) error {
	if f.writer == nil {
		return fmt.Errorf("%w: kafka feed has no request topic", domain.ErrNotSupported)
	}
	data, err := domain.EncodeEnvelope(req)
	if err != nil {
		return err
	}
	if err := f.writer.WriteMessages(ctx, kafka.Message{Key: []byte(req.SecurityID.String()), Value: data}); err != nil {
		return fmt.Errorf("failed to publish request %d: %w", req.TransactionID, err)
	}
	return nil
}

func (f *KafkaFeed) close() {
	if err := f.reader.Close(); err != nil {
		slog.Warn("Kafka reader close failed", slog.Any("error", err))
	}
	if f.writer != nil {
		if err := f.writer.Close(); err != nil {
			slog.Warn("Kafka writer close failed", slog.Any("error", err))
		}
	}
}
