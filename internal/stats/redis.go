package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecorder writes allocation outcomes into Redis hashes: a cumulative
// total plus minute buckets that expire, so several service instances can
// feed one dashboard.
type RedisRecorder struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisRecorder)

func WithPrefix(prefix string) RedisOption {
	return func(r *RedisRecorder) { r.prefix = prefix }
}

func WithTTL(d time.Duration) RedisOption {
	return func(r *RedisRecorder) { r.ttl = d }
}

func NewRedisRecorder(rdb *redis.Client, opts ...RedisOption) *RedisRecorder {
	r := &RedisRecorder{
		rdb:    rdb,
		prefix: "requiroute:alloc",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := string(ev.Outcome)
	totalKey := r.prefix + ":total"
	bucketKey := fmt.Sprintf("%s:minute:%s", r.prefix, at.UTC().Format("200601021504"))

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, totalKey, field, 1)
	pipe.HIncrByFloat(ctx, totalKey+":volume", field, ev.Amount)
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, bucketKey, r.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}
