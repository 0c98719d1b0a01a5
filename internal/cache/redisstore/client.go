// Package redisstore is the shared tier of the dataset cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/bizmap/internal/core/observability"
)

type Options struct {
	PoolSize    int
	DialTimeout time.Duration
	// OpTimeout is used for both reads and writes on the connection.
	OpTimeout time.Duration
}

type Client struct {
	rdb *redis.Client
}

// New connects to addr and pings it once.
func New(ctx context.Context, addr string, opts Options) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redisstore: address is required")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 8
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.OpTimeout,
		WriteTimeout: opts.OpTimeout,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	c := &Client{rdb: rdb}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

func observe(op string, start time.Time, err error) {
	observability.ObserveCacheOp(op, err, time.Since(start).Seconds())
}

// Get reports ok=false without error when key is absent.
func (c *Client) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	start := time.Now()
	val, err = c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		observe("get", start, nil)
		return nil, false, nil
	case err != nil:
		observe("get", start, err)
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	observe("get", start, nil)
	return val, true, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observe("set", start, err)
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observe("del", start, err)
	if err != nil {
		return fmt.Errorf("redis DEL %v: %w", keys, err)
	}
	return nil
}

// Ping doubles as the optional readiness check.
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observe("ping", start, err)
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
