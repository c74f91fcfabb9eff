// Package cache provides Redis-backed read caching for hot job lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/saficlean/marketplace/internal/app/domain/job"
)

// DefaultTTL bounds staleness of cached job reads.
const DefaultTTL = 15 * time.Minute

// ErrMiss is returned when the key is absent or the cache is disabled.
var ErrMiss = errors.New("cache miss")

// JobCache caches job records by ID. A nil client disables caching, so call
// sites never need to branch on whether Redis is configured.
type JobCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewJobCache wraps a Redis client. client may be nil.
func NewJobCache(client *redis.Client, ttl time.Duration) *JobCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JobCache{client: client, ttl: ttl}
}

func jobKey(id string) string { return "job:" + id }

// Get returns a cached job or ErrMiss.
func (c *JobCache) Get(ctx context.Context, id string) (job.Job, error) {
	if c == nil || c.client == nil {
		return job.Job{}, ErrMiss
	}
	data, err := c.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return job.Job{}, ErrMiss
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("cache get: %w", err)
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		// A corrupt entry behaves like a miss; the next Set overwrites it.
		return job.Job{}, ErrMiss
	}
	return j, nil
}

// Set stores a job under its ID.
func (c *JobCache) Set(ctx context.Context, j job.Job) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, jobKey(j.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate removes a job entry after a write.
func (c *JobCache) Invalidate(ctx context.Context, id string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, jobKey(id)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
