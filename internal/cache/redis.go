package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"example.com/analysis/internal/domain"
)

const redisKeyPrefix = "analysis:lastactivity"

// RedisCache is a Redis-backed LastActivityCache shared by all analysis
// instances, so a burst of events for one user hits the fast path no matter
// which instance handles it.
type RedisCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr string, ttl time.Duration) (*RedisCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{rdb: rdb, ttl: ttl}, nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

type cachedActivity struct {
	ID        uuid.UUID `json:"id"`
	Zone      string    `json:"zone"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func redisKey(userAnonymizedID, goalID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, userAnonymizedID, goalID)
}

// Get implements LastActivityCache.
func (c *RedisCache) Get(ctx context.Context, userAnonymizedID, goalID uuid.UUID) (*domain.Activity, error) {
	raw, err := c.rdb.Get(ctx, redisKey(userAnonymizedID, goalID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cached cachedActivity
	if err := json.Unmarshal(raw, &cached); err != nil {
		// A malformed entry behaves like a miss; the store remains the
		// source of truth.
		return nil, nil
	}

	loc, err := time.LoadLocation(cached.Zone)
	if err != nil {
		return nil, nil
	}
	return &domain.Activity{
		ID:        cached.ID,
		Zone:      cached.Zone,
		StartTime: cached.StartTime.In(loc),
		EndTime:   cached.EndTime.In(loc),
	}, nil
}

// Put implements LastActivityCache.
func (c *RedisCache) Put(ctx context.Context, userAnonymizedID, goalID uuid.UUID, activity domain.Activity) error {
	raw, err := json.Marshal(cachedActivity{
		ID:        activity.ID,
		Zone:      activity.Zone,
		StartTime: activity.StartTime,
		EndTime:   activity.EndTime,
	})
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, redisKey(userAnonymizedID, goalID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Remove implements LastActivityCache.
func (c *RedisCache) Remove(ctx context.Context, userAnonymizedID, goalID uuid.UUID) error {
	if err := c.rdb.Del(ctx, redisKey(userAnonymizedID, goalID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
