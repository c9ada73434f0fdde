package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// RedisKV реализует KV поверх Redis.
type RedisKV struct {
	store cmdable
	raw   *redis.Client
}

// NewRedisKV подключается к Redis по URL и проверяет соединение.
func NewRedisKV(ctx context.Context, url string) (*RedisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisKV{store: raw, raw: raw}, nil
}

// Get возвращает значение ключа, redis.Nil переводится в ErrMissing.
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.store.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMissing
	}
	return v, err
}

// Set сохраняет значение со сроком жизни ttl.
func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.store.Set(ctx, key, value, ttl).Err()
}

// Del удаляет ключи одной командой.
func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	return r.store.Del(ctx, keys...).Err()
}

// Ping проверяет соединение.
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.store.Ping(ctx).Err()
}

// Close закрывает клиент.
func (r *RedisKV) Close() error {
	if r.raw == nil {
		return nil
	}
	return r.raw.Close()
}
