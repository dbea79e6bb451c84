package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const scanBatch = 500

type RedisCache struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

func NewRedisCache(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "jobmatch"
	}
	return &RedisCache{client: client, prefix: prefix, logger: logger, now: time.Now}
}

func (r *RedisCache) key(fingerprint string) string {
	return r.prefix + ":match:" + fingerprint
}

func (r *RedisCache) Get(ctx context.Context, fingerprint string) (Entry, bool) {
	raw, err := r.client.Get(ctx, r.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		r.logger.Warn("cache read failed, treating as miss", zap.String("fingerprint", fingerprint), zap.Error(err))
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		r.logger.Warn("dropping undecodable cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
		return Entry{}, false
	}
	// Redis TTL and our own expiry can disagree after a clock skew.
	if e.Expired(r.now()) {
		return Entry{}, false
	}
	return e, true
}

func (r *RedisCache) Put(ctx context.Context, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := r.now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)

	raw, err := json.Marshal(entry)
	if err != nil {
		r.logger.Warn("encode cache entry", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, r.key(entry.Fingerprint), raw, ttl).Err(); err != nil {
		r.logger.Warn("cache write failed", zap.String("fingerprint", entry.Fingerprint), zap.Error(err))
	}
}

func (r *RedisCache) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.key("*"), scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning cache keys: %w", err)
	}
	return keys, nil
}

func (r *RedisCache) Count(ctx context.Context) (int, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (r *RedisCache) Clear(ctx context.Context) (int, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		n, err := r.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return removed, fmt.Errorf("deleting cache keys: %w", err)
		}
		removed += int(n)
	}
	r.logger.Info("match cache cleared", zap.Int("removed", removed))
	return removed, nil
}
