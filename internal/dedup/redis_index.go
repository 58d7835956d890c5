package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// setNXClient is the slice of the go-redis client the index needs.
type setNXClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisIndex is a DedupIndex whose exact tier lives in Redis, letting
// multiple crawler processes share seen state. SETNX provides the atomic
// check-and-set.
type RedisIndex struct {
	client setNXClient
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewRedisIndex connects to Redis at addr. Keys are namespaced by prefix;
// ttl of zero means fingerprints never expire.
func NewRedisIndex(addr, prefix string, ttl time.Duration) *RedisIndex {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisIndex{
		client: client,
		closer: client.Close,
		prefix: prefix,
		ttl:    ttl,
	}
}

// NewRedisIndexWithClient builds an index over a custom client (tests).
func NewRedisIndexWithClient(client setNXClient, prefix string, ttl time.Duration) *RedisIndex {
	return &RedisIndex{client: client, prefix: prefix, ttl: ttl}
}

// Close releases the underlying client connection.
func (r *RedisIndex) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// MarkSeenURL marks a URL fingerprint via SETNX.
func (r *RedisIndex) MarkSeenURL(ctx context.Context, fp pipeline.Fingerprint) (bool, error) {
	return r.mark(ctx, fp)
}

// MarkSeenContent marks a content fingerprint via SETNX.
func (r *RedisIndex) MarkSeenContent(ctx context.Context, fp pipeline.Fingerprint) (bool, error) {
	return r.mark(ctx, fp)
}

func (r *RedisIndex) mark(ctx context.Context, fp pipeline.Fingerprint) (bool, error) {
	key := r.prefix + string(fp)
	fresh, err := r.client.SetNX(ctx, key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return fresh, nil
}
