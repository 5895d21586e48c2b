// Package redisstore wraps the Redis client operations used by the
// telemetry, zone and alert stores.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akilada/openlews/internal/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get returns (nil, nil) for a missing key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	v, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveStoreOp("get", nil, time.Since(start).Seconds())
		return nil, nil
	}
	observability.ObserveStoreOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return v, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observability.ObserveStoreOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

// MGet returns a map of found keys to their values. Missing keys are absent.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if len(keys) == 0 {
		observability.ObserveStoreOp("mget", nil, time.Since(start).Seconds())
		return map[string][]byte{}, nil
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	observability.ObserveStoreOp("mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		if v == nil {
			continue // missing key
		}
		switch t := v.(type) {
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveStoreOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	start := time.Now()
	err := c.rdb.SAdd(ctx, key, args...).Err()
	observability.ObserveStoreOp("sadd", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SADD %q: %w", key, err)
	}
	return nil
}

func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	start := time.Now()
	err := c.rdb.SRem(ctx, key, args...).Err()
	observability.ObserveStoreOp("srem", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SREM %q: %w", key, err)
	}
	return nil
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	out, err := c.rdb.SMembers(ctx, key).Result()
	observability.ObserveStoreOp("smembers", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %q: %w", key, err)
	}
	return out, nil
}

func (c *Client) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	start := time.Now()
	out, err := c.rdb.SUnion(ctx, keys...).Result()
	observability.ObserveStoreOp("sunion", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SUNION %d keys: %w", len(keys), err)
	}
	return out, nil
}

func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	start := time.Now()
	err := c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	observability.ObserveStoreOp("zadd", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ZADD %q: %w", key, err)
	}
	return nil
}

func (c *Client) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	start := time.Now()
	out, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
	observability.ObserveStoreOp("zrangebyscore", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGEBYSCORE %q: %w", key, err)
	}
	return out, nil
}

func (c *Client) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	start := time.Now()
	err := c.rdb.ZRemRangeByScore(ctx, key,
		fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Err()
	observability.ObserveStoreOp("zremrangebyscore", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ZREMRANGEBYSCORE %q: %w", key, err)
	}
	return nil
}

func (c *Client) HSet(ctx context.Context, key, field string, val []byte) error {
	start := time.Now()
	err := c.rdb.HSet(ctx, key, field, val).Err()
	observability.ObserveStoreOp("hset", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HSET %q %q: %w", key, field, err)
	}
	return nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	out, err := c.rdb.HGetAll(ctx, key).Result()
	observability.ObserveStoreOp("hgetall", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %q: %w", key, err)
	}
	return out, nil
}

// ScanKeys collects every key matching the pattern. Only used against
// bounded key families (active alerts).
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			observability.ObserveStoreOp("scan", err, time.Since(start).Seconds())
			return nil, fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
		out = append(out, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	observability.ObserveStoreOp("scan", nil, time.Since(start).Seconds())
	return out, nil
}

func (c *Client) Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	start := time.Now()
	out, err := script.Run(ctx, c.rdb, keys, args...).Result()
	observability.ObserveStoreOp("eval", err, time.Since(start).Seconds())
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis EVAL: %w", err)
	}
	return out, nil
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Expire(ctx, key, ttl).Err()
	observability.ObserveStoreOp("expire", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis EXPIRE %q: %w", key, err)
	}
	return nil
}

// PipelineSet writes every entry with the same TTL in one round trip.
func (c *Client) PipelineSet(ctx context.Context, kv map[string][]byte, ttl time.Duration) error {
	start := time.Now()
	if len(kv) == 0 {
		observability.ObserveStoreOp("pipeline_set", nil, time.Since(start).Seconds())
		return nil
	}

	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range kv {
			if err := p.Set(ctx, k, v, ttl).Err(); err != nil {
				return fmt.Errorf("pipeline SET %q: %w", k, err)
			}
		}
		return nil
	})

	observability.ObserveStoreOp("pipeline_set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis pipeline SET %d keys: %w", len(kv), err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
