// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package flagstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the flags document in Redis, for deployments where many
// capture workers share one recording decision.
type RedisStore struct {
	client *redis.Client
	key    string
}

// RedisConfig holds Redis connection parameters for the flag store.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // optional
	DB       int
	Key      string // storage key, defaults to "replaybuf:flags"
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = "replaybuf:flags"
	}
	return &RedisStore{client: client, key: key}, nil
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Load fetches and decodes the flags document. A missing key yields zero Flags.
func (s *RedisStore) Load() (Flags, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Flags{}, nil
		}
		return Flags{}, fmt.Errorf("redis get %s: %w", s.key, err)
	}

	var f Flags
	if err := json.Unmarshal(data, &f); err != nil {
		return Flags{}, fmt.Errorf("decode flags from redis: %w", err)
	}
	return f, nil
}

// Save encodes and stores the flags document without expiry.
func (s *RedisStore) Save(f Flags) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}
