// Package redis wraps the go-redis client used for the finalize advisory
// lock. Redis is optional: an empty URL yields a nil client, and callers
// treat a nil client as "locking disabled".
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sitecheck/internal/platform/config"
)

// Client embeds the go-redis client so lock and health helpers hang off one
// type.
type Client struct {
	*redis.Client
}

// New dials redis from config and verifies the connection with a ping.
// An empty URL returns (nil, nil).
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health reports whether redis still answers; wired into /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}
