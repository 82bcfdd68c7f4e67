package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"market_store/internal/app"
	"market_store/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	pprofAddr := flag.String("pprof", "localhost:6060", "pprof listen address, empty to disable")
	flag.Parse()

	// 1. Config & Logger
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath(*configPath))
	if err != nil {
		slog.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(infra.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format))

	// 2. Pprof Server (localhost only)
	if *pprofAddr != "" {
		go func() {
			slog.Info("Pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. System Bootstrapping
	bootstrap := app.NewBootstrap(cfg, infra.GetWorkspaceDir())
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	slog.Info("Press Ctrl+C to exit.")
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("Service stopped with error", slog.Any("error", err))
	}

	processed, persisted := bootstrap.Sequencer.Stats()
	slog.Info("Shut down gracefully",
		slog.Uint64("processed", processed),
		slog.Uint64("persisted", persisted))
}
