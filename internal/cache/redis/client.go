// Package redis holds the last-traded-price cache behind the domain
// PriceCache interface. Redis is the engine's only price state: the feed
// writes every tick here and the reconciler, closer and force-close path read
// it back, so a restart keeps the most recent prices without replaying the
// stream.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the LTP cache.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps the go-redis connection shared by the caches in this package.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection with a ping. Tick caching
// is on the feed's hot path, so a cache that is down should fail wiring
// rather than surface per-tick errors later.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping checks connectivity to the cache.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the driver for the caches built on this client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
