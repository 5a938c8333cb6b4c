package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend adapts a go-redis client (single instance or cluster) to the
// Backend interface.
type redisBackend struct {
	client redis.UniversalClient
}

// newRedisBackend builds a Redis client from the configuration.
func newRedisBackend(config *Config) Backend {
	var client redis.UniversalClient
	if config.IsClusterMode() {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           config.Cluster.Addresses,
			Username:        config.Cluster.Username,
			Password:        config.Cluster.Password,
			PoolSize:        config.PoolSize,
			MinIdleConns:    config.MinIdleConns,
			ConnMaxLifetime: config.MaxConnAge,
			PoolTimeout:     config.PoolTimeout,
			ConnMaxIdleTime: config.IdleTimeout,
			ReadTimeout:     config.ReadTimeout,
			WriteTimeout:    config.WriteTimeout,
			DialTimeout:     config.DialTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:            config.GetAddr(),
			Password:        config.Password,
			DB:              config.Database,
			PoolSize:        config.PoolSize,
			MinIdleConns:    config.MinIdleConns,
			ConnMaxLifetime: config.MaxConnAge,
			PoolTimeout:     config.PoolTimeout,
			ConnMaxIdleTime: config.IdleTimeout,
			ReadTimeout:     config.ReadTimeout,
			WriteTimeout:    config.WriteTimeout,
			DialTimeout:     config.DialTimeout,
		})
	}
	return &redisBackend{client: client}
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	result := b.client.Get(ctx, key)
	if result.Err() == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("%w: redis get: %v", ErrBackendFailure, result.Err())
	}
	return []byte(result.Val()), nil
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ErrBackendFailure, err)
	}
	return nil
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", ErrBackendFailure, err)
	}
	return nil
}

func (b *redisBackend) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	result := b.client.IncrBy(ctx, key, delta)
	if result.Err() != nil {
		// INCRBY only errors on a reachable server when the value is not an
		// integer; connection errors surface again on the healing Set.
		return 0, fmt.Errorf("%w: %v", ErrNotCounter, result.Err())
	}
	return result.Val(), nil
}

func (b *redisBackend) Clear(ctx context.Context) error {
	if err := b.client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis flushdb: %v", ErrBackendFailure, err)
	}
	return nil
}

func (b *redisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (b *redisBackend) Close() error {
	return b.client.Close()
}
