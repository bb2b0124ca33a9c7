package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// SessionStore maps a session id to its profile so any node can resolve an
// access token, and a logout on one node is seen by the others.
type SessionStore interface {
	Save(ctx context.Context, sessionID, profileID string, ttl time.Duration) error
	Lookup(ctx context.Context, sessionID string) (profileID string, ok bool, err error)
	Delete(ctx context.Context, sessionID string) error
}

// session key: moodchat:session:<id>，值为 profile id，TTL 与 access token 一致
func sessionKey(id string) string { return "moodchat:session:" + id }

type RedisSessionStore struct {
	rdb *redis.Client
}

func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

func (s *RedisSessionStore) Save(ctx context.Context, sessionID, profileID string, ttl time.Duration) error {
	return errors.Wrap(s.rdb.Set(ctx, sessionKey(sessionID), profileID, ttl).Err(), "session save")
}

func (s *RedisSessionStore) Lookup(ctx context.Context, sessionID string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "session lookup")
	}
	return val, true, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	return errors.Wrap(s.rdb.Del(ctx, sessionKey(sessionID)).Err(), "session delete")
}

// MemSessionStore 单进程实现；多个 Manager 共享同一实例即可模拟多节点
type MemSessionStore struct {
	mu  sync.Mutex
	m   map[string]memEntry
	now func() time.Time
}

func NewMemSessionStore() *MemSessionStore {
	return &MemSessionStore{m: make(map[string]memEntry), now: time.Now}
}

func (s *MemSessionStore) Save(_ context.Context, sessionID, profileID string, ttl time.Duration) error {
	e := memEntry{val: profileID}
	if ttl > 0 {
		e.exp = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.m[sessionID] = e
	s.mu.Unlock()
	return nil
}

func (s *MemSessionStore) Lookup(_ context.Context, sessionID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[sessionID]
	if !ok {
		return "", false, nil
	}
	if !e.exp.IsZero() && !s.now().Before(e.exp) {
		delete(s.m, sessionID)
		return "", false, nil
	}
	return e.val, true, nil
}

func (s *MemSessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.m, sessionID)
	s.mu.Unlock()
	return nil
}
