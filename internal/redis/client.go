package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/stream-relay/config"
)

// Connect opens a client for cfg and pings it, retrying with exponential
// backoff up to cfg.ConnectAttempts times.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ConnectInterval
	b.MaxInterval = 8 * cfg.ConnectInterval
	b.MaxElapsedTime = 0

	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("redis.connect_retry", "addr", cfg.Addr, "attempt", attempt, "wait", wait, "err", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.ConnectAttempts-1)), ctx)
	if err := backoff.RetryNotify(ping, policy, notify); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s after %d attempts: %w", cfg.Addr, attempt, err)
	}

	logger.Info("redis.connected", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}
