package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Presence records which node currently holds a user's session.
type Presence interface {
	Online(ctx context.Context, userID, nodeID string, ttl time.Duration) error
	Offline(ctx context.Context, userID string) error
	Lookup(ctx context.Context, userID string) (nodeID string, online bool, err error)
}

// presence key: moodchat:presence:<user>
// Value: node id, TTL controls the online validity period
func presenceKey(user string) string { return "moodchat:presence:" + user }

type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

// Online sets the user as online and renews the TTL
func (p *RedisPresence) Online(ctx context.Context, user, nodeID string, ttl time.Duration) error {
	return errors.Wrap(p.rdb.Set(ctx, presenceKey(user), nodeID, ttl).Err(), "presence online")
}

// Offline actively sets the user offline (deletes the key)
func (p *RedisPresence) Offline(ctx context.Context, user string) error {
	return errors.Wrap(p.rdb.Del(ctx, presenceKey(user)).Err(), "presence offline")
}

// Lookup checks whether the user is online
func (p *RedisPresence) Lookup(ctx context.Context, user string) (string, bool, error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "presence lookup")
	}
	return val, true, nil
}

// MemPresence 单进程实现
type MemPresence struct {
	mu  sync.Mutex
	m   map[string]memEntry
	now func() time.Time
}

type memEntry struct {
	val string
	exp time.Time // zero = no expiry
}

func NewMemPresence() *MemPresence {
	return &MemPresence{m: make(map[string]memEntry), now: time.Now}
}

func (p *MemPresence) Online(_ context.Context, user, nodeID string, ttl time.Duration) error {
	e := memEntry{val: nodeID}
	if ttl > 0 {
		e.exp = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.m[user] = e
	p.mu.Unlock()
	return nil
}

func (p *MemPresence) Offline(_ context.Context, user string) error {
	p.mu.Lock()
	delete(p.m, user)
	p.mu.Unlock()
	return nil
}

func (p *MemPresence) Lookup(_ context.Context, user string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[user]
	if !ok {
		return "", false, nil
	}
	if !e.exp.IsZero() && !p.now().Before(e.exp) {
		delete(p.m, user)
		return "", false, nil
	}
	return e.val, true, nil
}
