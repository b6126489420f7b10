package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss means the key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// KVStore is the key/value store behind the query cache.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisKVStore implements KVStore with go-redis.
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKVStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// QueryCache caches assembled patient query results. Keys carry the snapshot
// generation, so a reload never serves results built from an older snapshot.
type QueryCache struct {
	kv      KVStore
	ttl     time.Duration
	prefix  string
	log     *zap.Logger
	metrics *Metrics
}

func NewQueryCache(kv KVStore, ttl time.Duration, log *zap.Logger, metrics *Metrics) *QueryCache {
	return &QueryCache{
		kv:      kv,
		ttl:     ttl,
		prefix:  "clinic-snapshot:patient:",
		log:     log,
		metrics: metrics,
	}
}

func (c *QueryCache) key(patientKey string, generation int64) string {
	return fmt.Sprintf("%s%s:%d", c.prefix, patientKey, generation)
}

// Get returns a cached result. Any failure is treated as a miss.
func (c *QueryCache) Get(ctx context.Context, patientKey string, generation int64) (*PatientQueryResult, bool) {
	if c == nil {
		return nil, false
	}

	val, err := c.kv.Get(ctx, c.key(patientKey, generation))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn("Query cache read failed", zap.Error(err))
		}
		c.metrics.IncrementCache("miss")
		return nil, false
	}

	var result PatientQueryResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		c.log.Warn("Query cache entry unreadable", zap.Error(err))
		c.metrics.IncrementCache("miss")
		return nil, false
	}

	c.metrics.IncrementCache("hit")
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, patientKey string, generation int64, result *PatientQueryResult) {
	if c == nil {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		c.log.Warn("Query cache entry not encodable", zap.Error(err))
		return
	}
	if err := c.kv.Set(ctx, c.key(patientKey, generation), string(data), c.ttl); err != nil {
		c.log.Warn("Query cache write failed", zap.Error(err))
	}
}

// Invalidate drops cached results of the given patients for a generation.
func (c *QueryCache) Invalidate(ctx context.Context, generation int64, patientKeys []string) {
	if c == nil || len(patientKeys) == 0 {
		return
	}

	keys := make([]string, len(patientKeys))
	for i, p := range patientKeys {
		keys[i] = c.key(p, generation)
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		c.log.Warn("Query cache invalidation failed",
			zap.Int("patients", len(patientKeys)),
			zap.Error(err))
	}
}
