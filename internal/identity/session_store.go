package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRecord is the provider-side record backing an issued session. Deleting it
// revokes every access token minted for the session.
type SessionRecord struct {
	SessionID    string    `json:"session_id"`
	IdentityID   string    `json:"identity_id"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionRecordStore persists session records. Get returns nil, nil for unknown sessions.
type SessionRecordStore interface {
	Create(ctx context.Context, record SessionRecord) error
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)
	Update(ctx context.Context, record SessionRecord) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisSessionRecordStore keeps records in Redis with a TTL matching their expiry.
type RedisSessionRecordStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionRecordStore creates a Redis-backed record store.
func NewRedisSessionRecordStore(client *redis.Client, keyPrefix string) *RedisSessionRecordStore {
	return &RedisSessionRecordStore{client: client, prefix: keyPrefix + "session:"}
}

func (r *RedisSessionRecordStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisSessionRecordStore) Create(ctx context.Context, record SessionRecord) error {
	if record.SessionID == "" || record.IdentityID == "" {
		return fmt.Errorf("session: missing session_id or identity_id")
	}
	return r.write(ctx, record)
}

func (r *RedisSessionRecordStore) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	val, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record SessionRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &record, nil
}

func (r *RedisSessionRecordStore) Update(ctx context.Context, record SessionRecord) error {
	if record.SessionID == "" {
		return fmt.Errorf("session: missing session_id")
	}
	return r.write(ctx, record)
}

func (r *RedisSessionRecordStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}

func (r *RedisSessionRecordStore) write(ctx context.Context, record SessionRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return r.client.Del(ctx, r.key(record.SessionID)).Err()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	return r.client.Set(ctx, r.key(record.SessionID), data, ttl).Err()
}

// MemorySessionRecordStore is an in-process record store.
type MemorySessionRecordStore struct {
	mu      sync.Mutex
	records map[string]SessionRecord
	now     func() time.Time
}

// NewMemorySessionRecordStore creates an empty in-memory store.
func NewMemorySessionRecordStore() *MemorySessionRecordStore {
	return &MemorySessionRecordStore{records: make(map[string]SessionRecord), now: time.Now}
}

func (m *MemorySessionRecordStore) Create(_ context.Context, record SessionRecord) error {
	if record.SessionID == "" || record.IdentityID == "" {
		return fmt.Errorf("session: missing session_id or identity_id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.SessionID] = record
	return nil
}

func (m *MemorySessionRecordStore) Get(_ context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[sessionID]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(record.ExpiresAt) {
		delete(m.records, sessionID)
		return nil, nil
	}
	return &record, nil
}

func (m *MemorySessionRecordStore) Update(_ context.Context, record SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.SessionID] = record
	return nil
}

func (m *MemorySessionRecordStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sessionID)
	return nil
}
