package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisStorage.
const DefaultRedisPrefix = "campus"

// RedisStorage stores each named cache as one Redis hash
// (<prefix>:cache:<name>, field = request key, value = JSON entry) and keeps
// the set of cache names in <prefix>:caches.
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed storage.
func NewRedisStorage(redisClient *redis.Client, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{redis: redisClient, prefix: prefix}
}

func (r *RedisStorage) namesKey() string { return r.prefix + ":caches" }

func (r *RedisStorage) hashKey(name string) string { return r.prefix + ":cache:" + name }

func (r *RedisStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := r.redis.SAdd(ctx, r.namesKey(), name).Err(); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("redis sadd: %w", err)
	}
	return &redisStore{redis: r.redis, name: name, key: r.hashKey(name), names: r.namesKey()}, nil
}

func (r *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := r.redis.SIsMember(ctx, r.namesKey(), name).Result()
	if err != nil {
		CacheErrors.WithLabelValues("has").Inc()
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

func (r *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	// Remove the hash and the name atomically
	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, r.hashKey(name))
	removed := pipe.SRem(ctx, r.namesKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("delete_cache").Inc()
		return false, fmt.Errorf("redis delete cache: %w", err)
	}
	return removed.Val() > 0, nil
}

func (r *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := r.redis.SMembers(ctx, r.namesKey()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the underlying Redis client.
func (r *RedisStorage) Close() error {
	return r.redis.Close()
}

type redisStore struct {
	redis *redis.Client
	name  string
	key   string
	names string
}

func (s *redisStore) Name() string { return s.name }

func (s *redisStore) Match(ctx context.Context, key string) (*Entry, error) {
	data, err := s.redis.HGet(ctx, s.key, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

func (s *redisStore) Put(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	// Re-register the name with the write so a handle held across a
	// cache deletion never leaves an unlisted hash behind.
	pipe := s.redis.TxPipeline()
	pipe.SAdd(ctx, s.names, s.name)
	pipe.HSet(ctx, s.key, key, data)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.HDel(ctx, s.key, key).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (s *redisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.redis.HKeys(ctx, s.key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *redisStore) Size(ctx context.Context) (int64, error) {
	values, err := s.redis.HVals(ctx, s.key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("size").Inc()
		return 0, fmt.Errorf("redis hvals: %w", err)
	}

	var total int64
	for _, v := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue
		}
		total += entry.Size()
	}
	return total, nil
}
