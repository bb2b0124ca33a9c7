package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// TokenStore remembers the result of a non-idempotent operation under a
// caller-supplied token so a retry can return the first outcome.
type TokenStore interface {
	// Claim stores val under key unless the key is already held.
	// It returns the value that is stored afterwards and whether this call stored it.
	Claim(ctx context.Context, key, val string, ttl time.Duration) (stored string, claimed bool, err error)
	// Set overwrites key, used once the operation knows its final result.
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

func idemKey(key string) string { return "moodchat:idem:" + key }

type RedisTokenStore struct {
	rdb *redis.Client
}

func NewRedisTokenStore(rdb *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func (s *RedisTokenStore) Claim(ctx context.Context, key, val string, ttl time.Duration) (string, bool, error) {
	ok, err := s.rdb.SetNX(ctx, idemKey(key), val, ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "idem claim")
	}
	if ok {
		return val, true, nil
	}
	cur, err := s.rdb.Get(ctx, idemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// 过期与读取之间的窗口，再抢一次
		return s.Claim(ctx, key, val, ttl)
	}
	if err != nil {
		return "", false, errors.Wrap(err, "idem read")
	}
	return cur, false, nil
}

func (s *RedisTokenStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return errors.Wrap(s.rdb.Set(ctx, idemKey(key), val, ttl).Err(), "idem set")
}

func (s *RedisTokenStore) Release(ctx context.Context, key string) error {
	return errors.Wrap(s.rdb.Del(ctx, idemKey(key)).Err(), "idem release")
}

// ----- 内存实现（单进程） -----

type MemTokenStore struct {
	mu  sync.Mutex
	m   map[string]memEntry
	now func() time.Time
}

func NewMemTokenStore() *MemTokenStore {
	return &MemTokenStore{m: make(map[string]memEntry), now: time.Now}
}

func (s *MemTokenStore) live(key string) (memEntry, bool) {
	e, ok := s.m[key]
	if ok && !e.exp.IsZero() && !s.now().Before(e.exp) {
		delete(s.m, key)
		return memEntry{}, false
	}
	return e, ok
}

func (s *MemTokenStore) Claim(_ context.Context, key, val string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.live(key); ok {
		return e.val, false, nil
	}
	s.m[key] = s.entry(val, ttl)
	return val, true, nil
}

func (s *MemTokenStore) Set(_ context.Context, key, val string, ttl time.Duration) error {
	s.mu.Lock()
	s.m[key] = s.entry(val, ttl)
	s.mu.Unlock()
	return nil
}

func (s *MemTokenStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *MemTokenStore) entry(val string, ttl time.Duration) memEntry {
	e := memEntry{val: val}
	if ttl > 0 {
		e.exp = s.now().Add(ttl)
	}
	return e
}
