package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"market_store/internal/domain"
)

// RedisDrive keeps one string key per segment plus a sorted set of the
// stream's dates. It is meant as the fast tier of a CacheDrive.
type RedisDrive struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures NewRedisDrive.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL of segment keys; zero keeps them forever.
	TTL time.Duration
}

// NewRedisDrive connects and pings the server.
func NewRedisDrive(ctx context.Context, opts RedisOptions) (*RedisDrive, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", opts.Addr, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "mds"
	}

	slog.Info("Redis drive initialized",
		slog.String("addr", opts.Addr),
		slog.String("prefix", prefix))

	return &RedisDrive{client: client, prefix: prefix, ttl: opts.TTL}, nil
}

func (d *RedisDrive) GetDrive(sec domain.SecurityID, dt domain.DataType) Drive {
	base := fmt.Sprintf("%s:%s:%s", d.prefix, sec.String(), dt.FileName())
	return &redisStream{client: d.client, base: base, ttl: d.ttl}
}

func (d *RedisDrive) Close() error {
	return d.client.Close()
}

type redisStream struct {
	client *redis.Client
	base   string
	ttl    time.Duration
}

func (s *redisStream) segmentKey(date time.Time) string {
	return s.base + ":" + dateKey(date)
}

func (s *redisStream) datesKey() string {
	return s.base + ":dates"
}

func (s *redisStream) LoadStream(ctx context.Context, date time.Time) ([]byte, error) {
	data, err := s.client.Get(ctx, s.segmentKey(date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	return data, nil
}

func (s *redisStream) SaveStream(ctx context.Context, date time.Time, data []byte) error {
	day := DayOf(date)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.segmentKey(day), data, s.ttl)
		pipe.ZAdd(ctx, s.datesKey(), redis.Z{Score: float64(day.Unix()), Member: dateKey(day)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set segment: %w", err)
	}
	return nil
}

func (s *redisStream) Delete(ctx context.Context, date time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.segmentKey(date))
		pipe.ZRem(ctx, s.datesKey(), dateKey(date))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	return nil
}

func (s *redisStream) Dates(ctx context.Context) ([]time.Time, error) {
	keys, err := s.client.ZRange(ctx, s.datesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dates: %w", err)
	}

	dates := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		date, err := parseDateKey(k)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %q: %w", k, err)
		}
		dates = append(dates, date)
	}
	return dates, nil
}
