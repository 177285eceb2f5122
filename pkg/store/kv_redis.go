package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKVTimeout = 3 * time.Second

// RedisKVConfig configures the Redis-backed KV.
type RedisKVConfig struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds every round trip; zero means 3s.
	Timeout time.Duration
}

// RedisKV implements KV on a Redis server.
type RedisKV struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisKV builds a Redis-backed KV. It does not dial; call Ping to verify.
func NewRedisKV(cfg RedisKVConfig) (*RedisKV, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	return NewRedisKVWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.Timeout), nil
}

// NewRedisKVWithClient wraps an existing client.
func NewRedisKVWithClient(client *redis.Client, timeout time.Duration) *RedisKV {
	if timeout <= 0 {
		timeout = defaultKVTimeout
	}
	return &RedisKV{client: client, timeout: timeout}
}

func (r *RedisKV) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *RedisKV) HGet(ctx context.Context, key, field string) (string, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	val, err := r.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisKV) HSet(ctx context.Context, key, field, value string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.client.HSet(ctx, key, field, value).Result()
	if err != nil {
		return false, fmt.Errorf("hset %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *RedisKV) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	ok, err := r.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, fmt.Errorf("hsetnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisKV) HExists(ctx context.Context, key, field string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	ok, err := r.client.HExists(ctx, key, field).Result()
	if err != nil {
		return false, fmt.Errorf("hexists %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisKV) HVals(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	vals, err := r.client.HVals(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hvals %s: %w", key, err)
	}
	return vals, nil
}

func (r *RedisKV) ZAdd(ctx context.Context, key, member string, score float64) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Result()
	if err != nil {
		return false, fmt.Errorf("zadd %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *RedisKV) ZRem(ctx context.Context, key, member string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.client.ZRem(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("zrem %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *RedisKV) ZRangeAll(ctx context.Context, key string) ([]ScoredMember, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	zs, err := r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	out := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, ScoredMember{Member: member, Score: z.Score})
	}
	return out, nil
}

func (r *RedisKV) Del(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("del %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *RedisKV) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}

// Client exposes the underlying client so other Redis-backed components,
// such as the rate limiter, can share the connection pool.
func (r *RedisKV) Client() *redis.Client {
	return r.client
}
