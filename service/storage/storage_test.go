package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemTokenStoreClaim(t *testing.T) {
	ctx := context.Background()
	s := NewMemTokenStore()

	got, claimed, err := s.Claim(ctx, "k", "pending", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "pending", got)

	got, claimed, err = s.Claim(ctx, "k", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "pending", got)

	require.NoError(t, s.Set(ctx, "k", "link-1", time.Minute))
	got, _, _ = s.Claim(ctx, "k", "other", time.Minute)
	assert.Equal(t, "link-1", got)

	require.NoError(t, s.Release(ctx, "k"))
	_, claimed, _ = s.Claim(ctx, "k", "fresh", time.Minute)
	assert.True(t, claimed)
}

func TestMemTokenStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemTokenStore()
	s.now = func() time.Time { return now }

	_, claimed, _ := s.Claim(ctx, "k", "a", time.Second)
	require.True(t, claimed)

	now = now.Add(2 * time.Second)
	got, claimed, _ := s.Claim(ctx, "k", "b", time.Second)
	assert.True(t, claimed)
	assert.Equal(t, "b", got)
}

func TestMemPresence(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewMemPresence()
	p.now = func() time.Time { return now }

	_, online, err := p.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, p.Online(ctx, "u1", "node-1", time.Minute))
	node, online, _ := p.Lookup(ctx, "u1")
	assert.True(t, online)
	assert.Equal(t, "node-1", node)

	now = now.Add(time.Hour)
	_, online, _ = p.Lookup(ctx, "u1")
	assert.False(t, online, "ttl elapsed")

	require.NoError(t, p.Online(ctx, "u1", "node-1", 0))
	require.NoError(t, p.Offline(ctx, "u1"))
	_, online, _ = p.Lookup(ctx, "u1")
	assert.False(t, online)
}

func TestMemSessionStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemSessionStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, "s1", "u1", time.Minute))
	profile, ok, err := s.Lookup(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", profile)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, ok, _ = s.Lookup(ctx, "s1")
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "s2", "u2", time.Minute))
	now = now.Add(time.Minute)
	_, ok, _ = s.Lookup(ctx, "s2")
	assert.False(t, ok, "expires with the access token")
}
