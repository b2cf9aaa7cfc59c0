package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drblury/apilog/internal/runtime/events"
)

// RedisStore appends each record to a Redis stream with XADD.
type RedisStore struct {
	rdb    redis.UniversalClient
	stream string
}

// OpenRedis parses a redis:// URL, connects and pings.
func OpenRedis(ctx context.Context, dsn, stream string) (*RedisStore, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis store: %w", err)
	}
	return NewRedisStore(rdb, stream), nil
}

func NewRedisStore(rdb redis.UniversalClient, stream string) *RedisStore {
	return &RedisStore{rdb: rdb, stream: stream}
}

func (s *RedisStore) Persist(ctx context.Context, rec events.LogRecord) error {
	values := []any{
		"endpoint", rec.Endpoint,
		"method", rec.Method,
		"status_code", strconv.Itoa(rec.StatusCode),
		"response", strconv.Itoa(rec.ResponseFlag),
		"response_time", strconv.FormatFloat(rec.ResponseTime, 'f', -1, 64),
		"log_level", string(rec.LogLevel),
		"timestamp", rec.IngestionTimestamp.UTC().Format(time.RFC3339Nano),
	}
	// stream entries cannot hold nulls, so absent values are omitted
	if rec.Error != nil {
		values = append(values, "error", *rec.Error)
	}
	if rec.Metadata != nil {
		values = append(values, "metadata", *rec.Metadata)
	}

	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}).Err()
	if err != nil {
		return persistenceError(rec, err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
