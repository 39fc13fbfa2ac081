package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// keyPrefix namespaces every cache key in Redis
const keyPrefix = "sheetflow:schema:"

// opTimeout bounds individual Redis operations
const opTimeout = 5 * time.Second

// RedisStore implements the Store interface on Redis, for operators who
// want cached schemas to survive process restarts. Semantics match the
// in-memory store; expiry is delegated to per-key Redis TTLs.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	// Addr is the host:port of the Redis server
	Addr string `json:"addr"`

	// Password for the Redis server, if any
	Password string `json:"password,omitempty"`

	// DB is the Redis database number
	DB int `json:"db,omitempty"`
}

// NewRedisStore creates a Redis-backed schema cache store
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, now: time.Now}, nil
}

// Get returns the entry for the key. Redis evicts expired keys itself.
func (s *RedisStore) Get(key Key) (Entry, bool, error) {
	if err := key.Validate(); err != nil {
		return Entry{}, false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, keyPrefix+key.String()).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		// Backend trouble is treated as a miss; the cache is advisory
		// and callers always have a persisted-store fallback
		return Entry{}, false, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, nil
	}

	return entry, true, nil
}

// GetWithFallback retries a miss under the default sheet name
func (s *RedisStore) GetWithFallback(key Key) (Entry, bool, error) {
	entry, found, err := s.Get(key)
	if err != nil || found {
		return entry, found, err
	}
	if key.SheetName == DefaultSheetName {
		return Entry{}, false, nil
	}
	return s.Get(key.WithSheet(DefaultSheetName))
}

// Set writes an entry under the key with a tiered TTL
func (s *RedisStore) Set(key Key, entry Entry, ttlOverride ...time.Duration) error {
	if err := key.Validate(); err != nil {
		return err
	}

	entry.Timestamp = s.now()
	entry.SheetName = key.SheetName
	ttl := EffectiveTTL(entry, ttlOverride...)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, keyPrefix+key.String(), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	// Shadow copy under the default sheet; SetNX keeps an existing
	// shadow authoritative
	if key.SheetName != DefaultSheetName {
		shadow := entry
		shadow.SheetName = DefaultSheetName
		shadowData, err := json.Marshal(shadow)
		if err != nil {
			return fmt.Errorf("failed to marshal shadow entry: %w", err)
		}
		shadowKey := keyPrefix + key.WithSheet(DefaultSheetName).String()
		if err := s.client.SetNX(ctx, shadowKey, shadowData, ttl).Err(); err != nil {
			return fmt.Errorf("failed to write shadow entry: %w", err)
		}
	}

	return nil
}

// Delete removes the entry for the key
func (s *RedisStore) Delete(key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return s.client.Del(ctx, keyPrefix+key.String()).Err()
}

// DeleteWorkflow removes every entry belonging to the workflow
func (s *RedisStore) DeleteWorkflow(workflowID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pattern := keyPrefix + workflowPrefix(workflowID) + "*"
	removed := 0

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete cache entry: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan cache entries: %w", err)
	}

	return removed, nil
}

// Clear removes all entries under the cache namespace
func (s *RedisStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cache entry: %w", err)
		}
	}
	return iter.Err()
}

// Close releases the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
