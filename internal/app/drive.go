package app

import (
	"context"
	"fmt"
	"log/slog"

	"market_store/internal/infra"
	"market_store/internal/storage"
)

// OpenDrive builds the configured market data drive. With a Redis address
// the drive is wrapped in a CacheDrive whose fast tier sits behind a
// circuit breaker.
func OpenDrive(ctx context.Context, cfg *infra.Config, workDir string) (storage.MarketDataDrive, error) {
	var slow storage.MarketDataDrive
	switch cfg.Storage.Drive {
	case "memory":
		slow = storage.NewMemoryDrive()
	case "sqlite":
		path := infra.ResolveDataPath(workDir, cfg.Storage.Path, "market.db")
		d, err := storage.NewSQLiteDrive(path)
		if err != nil {
			return nil, err
		}
		slow = d
	case "local":
		dir := infra.ResolveDataPath(workDir, cfg.Storage.Path, "data")
		if err := infra.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
		d, err := storage.NewLocalDrive(dir)
		if err != nil {
			return nil, err
		}
		slow = d
	default:
		return nil, fmt.Errorf("unknown storage drive: %s", cfg.Storage.Drive)
	}
	slog.Info("Storage drive ready", slog.String("drive", cfg.Storage.Drive))

	if cfg.Cache.RedisAddr == "" {
		return slow, nil
	}

	fast, err := storage.NewRedisDrive(ctx, storage.RedisOptions{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Prefix:   cfg.Cache.Prefix,
		TTL:      cfg.CacheTTL(),
	})
	if err != nil {
		// Cache tier is optional
		slog.Warn("Redis cache unavailable, using storage drive only",
			slog.String("addr", cfg.Cache.RedisAddr),
			slog.Any("error", err))
		return slow, nil
	}

	breaker := infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("redis-cache"))
	slog.Info("Redis cache tier enabled", slog.String("addr", cfg.Cache.RedisAddr))
	return storage.NewCacheDrive(fast, slow, breaker), nil
}
