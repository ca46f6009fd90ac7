package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrMiss signals a cache miss in a typed way so callers can tell misses
// from transport errors.
var ErrMiss = errors.New("store: cache miss")

// ContextCache holds archived user-context snapshots so a reconnect
// within the session TTL resumes instead of resetting. Live state never
// passes through here; only point-in-time JSON snapshots do.
type ContextCache interface {
	GetUserContext(ctx context.Context, roomId, userId string) ([]byte, error)
	SetUserContext(ctx context.Context, roomId, userId string, snapshot []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RedisCache{client: c}, nil
}

func contextKey(roomId, userId string) string {
	return "ctx:" + roomId + ":" + userId
}

func (r *RedisCache) GetUserContext(ctx context.Context, roomId, userId string) ([]byte, error) {
	res, err := r.client.Get(ctx, contextKey(roomId, userId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *RedisCache) SetUserContext(ctx context.Context, roomId, userId string, snapshot []byte, ttl time.Duration) error {
	return r.client.Set(ctx, contextKey(roomId, userId), snapshot, ttl).Err()
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// MemoryCache is the in-process ContextCache used in tests and when no
// Redis URL is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (m *MemoryCache) GetUserContext(_ context.Context, roomId, userId string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[contextKey(roomId, userId)]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		return nil, ErrMiss
	}
	return e.data, nil
}

func (m *MemoryCache) SetUserContext(_ context.Context, roomId, userId string, snapshot []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.entries[contextKey(roomId, userId)] = memoryEntry{data: snapshot, expires: expires}
	return nil
}

func (m *MemoryCache) Ping(context.Context) error { return nil }
func (m *MemoryCache) Close() error               { return nil }
