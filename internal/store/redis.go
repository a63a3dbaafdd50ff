package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore wraps go-redis v9 behind the Store interface.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and verifies connectivity with a ping.
// Returns the adapter and any connection error; the caller decides whether to
// fall back to the in-memory store.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &RedisStore{rdb: rdb}, nil
}

// Close shuts down the underlying redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// wrapUnavailable tags a failed command with ErrUnavailable so callers can
// tell a down backend apart from a missing key and degrade accordingly.
func wrapUnavailable(err error, cmd, key string) error {
	return fmt.Errorf("redis %s %s: %w: %w", cmd, key, ErrUnavailable, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", wrapUnavailable(err, "GET", key)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapUnavailable(err, "SET", key)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	stored, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapUnavailable(err, "SETNX", key)
	}
	return stored, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return wrapUnavailable(err, "DEL", keys[0])
	}
	return nil
}

func (s *RedisStore) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	val, err := s.rdb.IncrByFloat(ctx, key, delta).Result()
	if err != nil {
		return 0, wrapUnavailable(err, "INCRBYFLOAT", key)
	}
	return val, nil
}

func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) error {
	ifaces := make([]interface{}, len(values))
	for i, v := range values {
		ifaces[i] = v
	}
	if err := s.rdb.LPush(ctx, key, ifaces...).Err(); err != nil {
		return wrapUnavailable(err, "LPUSH", key)
	}
	return nil
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.rdb.LTrim(ctx, key, start, stop).Err(); err != nil {
		return wrapUnavailable(err, "LTRIM", key)
	}
	return nil
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	out, err := s.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrapUnavailable(err, "LRANGE", key)
	}
	return out, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	if err := s.rdb.SAdd(ctx, key, ifaces...).Err(); err != nil {
		return wrapUnavailable(err, "SADD", key)
	}
	return nil
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	if err := s.rdb.SRem(ctx, key, ifaces...).Err(); err != nil {
		return wrapUnavailable(err, "SREM", key)
	}
	return nil
}

func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrapUnavailable(err, "SISMEMBER", key)
	}
	return ok, nil
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapUnavailable(err, "SMEMBERS", key)
	}
	return members, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, message []byte) error {
	if err := s.rdb.Publish(ctx, channel, message).Err(); err != nil {
		return wrapUnavailable(err, "PUBLISH", channel)
	}
	return nil
}

// Subscribe registers a handler for messages on a Redis Pub/Sub channel.
// Returns an unsubscribe function.
func (s *RedisStore) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := s.rdb.Subscribe(ctx, channel)

	// Wait for subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}
