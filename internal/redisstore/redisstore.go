// Package redisstore implements plm.ShardStore over Redis: an optional
// second-tier shared item-cache backend for deployments where multiple
// users share a workspace session host (SPEC_FULL.md §3), grounded on
// the teacher's internal/infrastructure/cache.RedisCache connection and
// error-handling shape, adapted from a generic get/set-into-dest cache
// to the flat string-keyed contract plm.ShardStore requires.
package redisstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config mirrors the teacher's CacheConfig fields this store actually
// uses; pool sizing/backoff knobs are forwarded verbatim to redis.Options.
type Config struct {
	Addr            string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	KeyPrefix       string // namespaces shard keys when a Redis instance is shared across workspaces
}

// Store is a plm.ShardStore backed by a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// New connects to Redis and verifies reachability with a bounded ping,
// the way the teacher's NewRedisCache does before returning.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("redis item cache store: connection failed", "addr", cfg.Addr, "error", err)
		return nil, err
	}
	logger.Info("redis item cache store connected", "addr", cfg.Addr, "db", cfg.DB)
	return &Store{client: client, prefix: cfg.KeyPrefix, logger: logger}, nil
}

// NewFromClient wraps an already-constructed *redis.Client, the seam
// tests use with miniredis.
func NewFromClient(client *redis.Client, keyPrefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: keyPrefix, logger: logger}
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.key(prefix) + "*"
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if s.prefix != "" {
			k = k[len(s.prefix)+1:]
		}
		out = append(out, k)
	}
	return out, iter.Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }
