package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market_store/backtest"
	"market_store/internal/app"
	"market_store/internal/domain"
	"market_store/internal/engine"
	"market_store/internal/infra"
	"market_store/internal/storage"
)

// replay prints a stored range as JSON envelopes, one per line.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	subscription := flag.String("sub", "", `stream to replay, e.g. "SBER@TQBR:tick"`)
	fromFlag := flag.String("from", "", "start, RFC3339 or 2006-01-02")
	toFlag := flag.String("to", "", "end, RFC3339 or 2006-01-02 (optional)")
	count := flag.Int64("count", 0, "maximum messages, 0 for all")
	flag.Parse()

	// Logs go to stderr so stdout stays machine readable
	slog.SetDefault(infra.NewLogger(os.Stderr, "warn", "text"))

	if err := run(*configPath, *subscription, *fromFlag, *toFlag, *count); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

func run(configPath, subscription, fromFlag, toFlag string, count int64) error {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath(configPath))
	if err != nil {
		return err
	}

	sec, dt, err := app.ParseSubscription(subscription)
	if err != nil {
		return err
	}
	req := &domain.MarketDataRequest{TransactionID: 1, IsSubscribe: true, SecurityID: sec, DataType: dt}
	if req.From, err = parseTime(fromFlag); err != nil {
		return err
	}
	if req.To, err = parseTime(toFlag); err != nil {
		return err
	}
	if count > 0 {
		req.Count = &count
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drive, err := app.OpenDrive(ctx, cfg, infra.GetWorkspaceDir())
	if err != nil {
		return err
	}
	defer drive.Close()

	opts := storage.DefaultOptions()
	opts.AppendOnlyNew = cfg.Storage.AppendOnlyNew
	reg := storage.NewRegistry(drive, opts, false)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	var writeErr error
	seq := engine.NewSequencer(1, storage.NewBuffer(false), reg, func(m domain.Message) {
		if writeErr != nil {
			return
		}
		b, err := domain.EncodeEnvelope(m)
		if err == nil {
			_, err = fmt.Fprintf(out, "%s\n", b)
		}
		writeErr = err
	})

	n, err := backtest.NewReplayer(reg).RunReplay(ctx, seq, req)
	if err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("failed to write output: %w", writeErr)
	}
	slog.Info("Replay finished", slog.Int("messages", n))
	return nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q", s)
}
