package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maneesh/vidfeed/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CacheTTL is the time-to-live for cached video records (5 minutes)
	CacheTTL = 5 * time.Minute
)

// RedisCache caches video records with tracing
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache initializes a Redis client and verifies the connection
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisCache{client: client, ttl: CacheTTL}, nil
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func videoKey(id string) string {
	return fmt.Sprintf("video:%s", id)
}

// GetVideo returns a cached video, or nil on a miss
func (rc *RedisCache) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	ctx, span := tracer.Start(ctx, "redis.get_video",
		trace.WithAttributes(attribute.String("video_id", id)),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, videoKey(id)).Result()
	if err == redis.Nil {
		span.SetAttributes(
			attribute.Bool("cache_hit", false),
			attribute.String("cache_status", "miss"),
		)
		return nil, nil // Cache miss, not an error
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var v models.Video
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("cache_hit", true),
		attribute.String("cache_status", "hit"),
	)
	return &v, nil
}

// SetVideo stores a video record
func (rc *RedisCache) SetVideo(ctx context.Context, v *models.Video) error {
	ctx, span := tracer.Start(ctx, "redis.set_video",
		trace.WithAttributes(attribute.String("video_id", v.ID)),
	)
	defer span.End()

	data, err := json.Marshal(v)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal video: %w", err)
	}

	if err := rc.client.Set(ctx, videoKey(v.ID), data, rc.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	span.SetAttributes(attribute.Int64("ttl_seconds", int64(rc.ttl.Seconds())))
	return nil
}

// InvalidateVideo drops a cached record
func (rc *RedisCache) InvalidateVideo(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_video",
		trace.WithAttributes(attribute.String("video_id", id)),
	)
	defer span.End()

	if err := rc.client.Del(ctx, videoKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}
