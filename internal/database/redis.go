package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps pub/sub on its own connection so long-lived dashboard
// subscriptions never hold pool slots needed by tokens and rate limits.
type RedisClients struct {
	Cache  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Request-path commands get short timeouts.
	cacheOpt := *opt
	cacheOpt.DialTimeout = 5 * time.Second
	cacheOpt.ReadTimeout = 2 * time.Second
	cacheOpt.WriteTimeout = 2 * time.Second
	cacheOpt.PoolSize = 50

	// Subscriptions block on read.
	pubsubOpt := *opt
	pubsubOpt.DialTimeout = 5 * time.Second
	pubsubOpt.ReadTimeout = -1

	clients := &RedisClients{
		Cache:  redis.NewClient(&cacheOpt),
		PubSub: redis.NewClient(&pubsubOpt),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := clients.Ping(ctx); err != nil {
		clients.Close()
		return nil, err
	}
	return clients, nil
}

// Ping checks both connections; it backs the readiness endpoint.
func (r *RedisClients) Ping(ctx context.Context) error {
	var errs []error
	if err := r.Cache.Ping(ctx).Err(); err != nil {
		errs = append(errs, fmt.Errorf("failed to ping Redis (cache): %w", err))
	}
	if err := r.PubSub.Ping(ctx).Err(); err != nil {
		errs = append(errs, fmt.Errorf("failed to ping Redis (pubsub): %w", err))
	}
	return errors.Join(errs...)
}

func (r *RedisClients) Close() {
	r.Cache.Close()
	r.PubSub.Close()
}
