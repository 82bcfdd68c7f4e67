package infra

import (
	"context"
	"log/slog"

	"market_store/internal/domain"
)

// Feed is a live message source. Run blocks until ctx is cancelled or the
// feed fails permanently. Send forwards a subscription request upstream.
type Feed interface {
	Name() string
	Run(ctx context.Context) error
	Send(ctx context.Context, req *domain.MarketDataRequest) error
}

// deliver decodes one JSON envelope and pushes it to inbox. Undecodable
// payloads are logged and skipped. It returns false only when ctx ended.
func deliver(ctx context.Context, inbox chan<- domain.Message, source string, raw []byte) bool {
	m, err := domain.DecodeEnvelope(raw)
	if err != nil {
		slog.Warn("Dropping undecodable feed message",
			slog.String("feed", source),
			slog.Any("error", err))
		return true
	}
	if m.GetType() == domain.KindSubscription {
		slog.Warn("Ignoring request received from feed", slog.String("feed", source))
		return true
	}

	select {
	case inbox <- m:
		return true
	case <-ctx.Done():
		return false
	}
}
