package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/saficlean/marketplace/internal/app/domain/tracking"
)

// ErrNoSession is returned when a job has no live session.
var ErrNoSession = errors.New("no active session")

// SessionStore holds live work sessions. Sessions are transient state, so
// Redis backs production and a map backs tests.
type SessionStore interface {
	Put(ctx context.Context, s tracking.Session) error
	Get(ctx context.Context, jobID string) (tracking.Session, error)
	Delete(ctx context.Context, s tracking.Session) error
	// ActiveForCleaner returns the cleaner's running session, if any.
	ActiveForCleaner(ctx context.Context, cleanerID string) (tracking.Session, bool, error)
}

// MemorySessionStore is the in-process SessionStore.
type MemorySessionStore struct {
	mu        sync.RWMutex
	byJob     map[string]tracking.Session
	byCleaner map[string]string
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		byJob:     make(map[string]tracking.Session),
		byCleaner: make(map[string]string),
	}
}

func (m *MemorySessionStore) Put(_ context.Context, s tracking.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byJob[s.JobID] = s
	m.byCleaner[s.CleanerID] = s.JobID
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, jobID string) (tracking.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byJob[jobID]
	if !ok {
		return tracking.Session{}, ErrNoSession
	}
	return s, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, s tracking.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byJob, s.JobID)
	delete(m.byCleaner, s.CleanerID)
	return nil
}

func (m *MemorySessionStore) ActiveForCleaner(_ context.Context, cleanerID string) (tracking.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobID, ok := m.byCleaner[cleanerID]
	if !ok {
		return tracking.Session{}, false, nil
	}
	return m.byJob[jobID], true, nil
}

// RedisSessionStore keeps sessions in Redis so they survive restarts and are
// shared across instances.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore wraps a Redis client. Sessions expire after ttl as a
// safety net against abandoned jobs; zero means 24 hours.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(jobID string) string     { return "tracking:session:" + jobID }
func cleanerKey(cleanerID string) string { return "tracking:cleaner:" + cleanerID }

func (r *RedisSessionStore) Put(ctx context.Context, s tracking.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.JobID), data, r.ttl)
	pipe.Set(ctx, cleanerKey(s.CleanerID), s.JobID, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Get(ctx context.Context, jobID string) (tracking.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return tracking.Session{}, ErrNoSession
	}
	if err != nil {
		return tracking.Session{}, fmt.Errorf("load session: %w", err)
	}
	var s tracking.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return tracking.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, s tracking.Session) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(s.JobID))
	pipe.Del(ctx, cleanerKey(s.CleanerID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) ActiveForCleaner(ctx context.Context, cleanerID string) (tracking.Session, bool, error) {
	jobID, err := r.client.Get(ctx, cleanerKey(cleanerID)).Result()
	if errors.Is(err, redis.Nil) {
		return tracking.Session{}, false, nil
	}
	if err != nil {
		return tracking.Session{}, false, fmt.Errorf("lookup cleaner session: %w", err)
	}
	s, err := r.Get(ctx, jobID)
	if errors.Is(err, ErrNoSession) {
		return tracking.Session{}, false, nil
	}
	if err != nil {
		return tracking.Session{}, false, err
	}
	return s, true, nil
}
