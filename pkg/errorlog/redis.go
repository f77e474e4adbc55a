package errorlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list RedisSink appends to.
const DefaultRedisKey = "harvest:error_log"

// RedisSink appends entries to a Redis list, one JSON document per element.
type RedisSink struct {
	redis *redis.Client
	key   string
}

// NewRedisSink creates a Redis sink. An empty key uses DefaultRedisKey.
func NewRedisSink(redisClient *redis.Client, key string) *RedisSink {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSink{redis: redisClient, key: key}
}

// Key returns the Redis list key.
func (r *RedisSink) Key() string {
	return r.key
}

// Append implements Sink. All entries are pushed in one pipeline.
func (r *RedisSink) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := r.redis.Pipeline()
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			harvestErrorLogWriteErrorsTotal.WithLabelValues("redis").Inc()
			return fmt.Errorf("marshal error log entry: %w", err)
		}
		pipe.RPush(ctx, r.key, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		harvestErrorLogWriteErrorsTotal.WithLabelValues("redis").Inc()
		return fmt.Errorf("store error log in redis: %w", err)
	}

	harvestErrorLogEntriesTotal.WithLabelValues("redis").Add(float64(len(entries)))
	return nil
}

// Entries returns every entry stored under the sink's key in push order.
func (r *RedisSink) Entries(ctx context.Context) ([]Entry, error) {
	values, err := r.redis.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrNoEntries
	}

	entries := make([]Entry, 0, len(values))
	for i, v := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			return nil, fmt.Errorf("decode error log entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
