package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/authsync/internal/domain"
)

// SessionStorage persists the client's current session across restarts so that
// bootstrap can restore it. Load returns nil, nil when nothing is stored.
type SessionStorage interface {
	Load(ctx context.Context) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	Clear(ctx context.Context) error
}

// RedisSessionStorage stores the session under a single key per client.
type RedisSessionStorage struct {
	client *redis.Client
	key    string
}

// NewRedisSessionStorage creates storage for the client identified by storageKey.
func NewRedisSessionStorage(client *redis.Client, keyPrefix, storageKey string) *RedisSessionStorage {
	return &RedisSessionStorage{client: client, key: keyPrefix + "client-session:" + storageKey}
}

func (s *RedisSessionStorage) Load(ctx context.Context) (*domain.Session, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("session storage: failed to unmarshal: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStorage) Save(ctx context.Context, session *domain.Session) error {
	ttl := time.Until(session.RefreshExpiresAt)
	if ttl <= 0 {
		return s.client.Del(ctx, s.key).Err()
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session storage: failed to marshal: %w", err)
	}
	return s.client.Set(ctx, s.key, data, ttl).Err()
}

func (s *RedisSessionStorage) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// MemorySessionStorage keeps the session in process memory.
type MemorySessionStorage struct {
	mu      sync.Mutex
	session *domain.Session
}

// NewMemorySessionStorage creates empty in-memory storage.
func NewMemorySessionStorage() *MemorySessionStorage {
	return &MemorySessionStorage{}
}

func (m *MemorySessionStorage) Load(context.Context) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemorySessionStorage) Save(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *session
	m.session = &s
	return nil
}

func (m *MemorySessionStorage) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
