package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"moodchat/data/store/memstore"
	"moodchat/module/chat/model"
	"moodchat/module/feed"
	"moodchat/module/identity"
	"moodchat/module/message"
	"moodchat/module/room"
	"moodchat/service/storage"
	"moodchat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	hub      *feed.Hub
	rooms    *room.Service
	messages *message.Service
	mgr      *Manager
	presence *storage.MemPresence
}

func setup(t *testing.T) *fixture {
	t.Helper()
	hub := feed.NewHub()
	t.Cleanup(hub.Close)
	db := memstore.New(hub)
	presence := storage.NewMemPresence()
	rooms := room.NewService(db, room.Options{})
	return &fixture{
		hub:      hub,
		rooms:    rooms,
		messages: message.NewService(db, message.Options{}),
		mgr:      NewManager(identity.NewService(db, identity.Options{}), rooms, hub, presence, Options{NodeID: "n1"}),
		presence: presence,
	}
}

func login(t *testing.T, f *fixture, id string) *Session {
	t.Helper()
	s, err := f.mgr.Login(context.Background(), model.Account{ID: id, Email: id + "@x.com"})
	require.NoError(t, err)
	return s
}

func TestLoginCreatesProfileAndPresence(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	s := login(t, f, "u1")
	assert.Equal(t, "u1", s.Profile.ID)
	got, err := f.mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	online, err := f.mgr.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	// a second device keeps the profile online after the first logs out
	s2 := login(t, f, "u1")
	require.NoError(t, f.mgr.Logout(ctx, s.ID))
	online, err = f.mgr.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, f.mgr.Logout(ctx, s2.ID))
	online, err = f.mgr.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)

	_, err = f.mgr.Get(ctx, s.ID)
	assert.True(t, errs.ErrTokenInvalid.Is(err))
	assert.NoError(t, f.mgr.Logout(ctx, s.ID), "logout is idempotent")
}

func TestSubscribeAuthorization(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	s1 := login(t, f, "u1")
	login(t, f, "u2")
	s3 := login(t, f, "u3")

	r, err := f.rooms.FindOrCreateDirectRoom(ctx, "u1", "u2")
	require.NoError(t, err)

	noop := func(feed.Event) error { return nil }

	_, err = s1.Subscribe(ctx, feed.RoomMessages(r.ID), nil, noop)
	assert.NoError(t, err)
	_, err = s3.Subscribe(ctx, feed.RoomMessages(r.ID), nil, noop)
	assert.True(t, errs.ErrForbidden.Is(err))

	_, err = s1.Subscribe(ctx, feed.ProfileFriendLinks("u1"), nil, noop)
	assert.NoError(t, err)
	_, err = s1.Subscribe(ctx, feed.ProfileRooms("u2"), nil, noop)
	assert.True(t, errs.ErrForbidden.Is(err))

	_, err = s1.Subscribe(ctx, "presence:u1", nil, noop)
	assert.True(t, errs.ErrInvalidArgument.Is(err))

	assert.Equal(t, 2, s1.Subscriptions())
}

func TestLogoutReleasesSubscriptions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	s1 := login(t, f, "u1")
	login(t, f, "u2")

	r, err := f.rooms.FindOrCreateDirectRoom(ctx, "u1", "u2")
	require.NoError(t, err)

	var got atomic.Int32
	topic := feed.RoomMessages(r.ID)
	sub, err := s1.Subscribe(ctx, topic, feed.OnlyOps(feed.OpInsert), func(feed.Event) error {
		got.Add(1)
		return nil
	})
	require.NoError(t, err)
	_, err = s1.Subscribe(ctx, feed.ProfileRooms("u1"), nil, func(feed.Event) error { return nil })
	require.NoError(t, err)

	_, err = f.messages.Append(ctx, message.AppendRequest{RoomID: r.ID, SenderID: "u2", Body: "hi"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return got.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.mgr.Logout(ctx, s1.ID))
	select {
	case <-s1.Done():
	default:
		t.Fatal("session not closed")
	}
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not released")
	}
	assert.Zero(t, s1.Subscriptions())
	assert.Zero(t, f.hub.Subscribers(topic))
	assert.Zero(t, f.hub.Subscribers(feed.ProfileRooms("u1")))

	_, err = s1.Subscribe(ctx, topic, nil, func(feed.Event) error { return nil })
	assert.True(t, errs.ErrInvalidState.Is(err))
	assert.Zero(t, f.hub.Subscribers(topic))
}

func TestSharedStoreAcrossNodes(t *testing.T) {
	ctx := context.Background()
	hub := feed.NewHub()
	t.Cleanup(hub.Close)
	db := memstore.New(hub)
	ident := identity.NewService(db, identity.Options{})
	rooms := room.NewService(db, room.Options{})
	presence := storage.NewMemPresence()
	shared := storage.NewMemSessionStore()
	node := func(id string) *Manager {
		return NewManager(ident, rooms, hub, presence, Options{NodeID: id, Store: shared, SessionTTL: time.Hour})
	}
	a, b := node("a"), node("b")

	s, err := a.Login(ctx, model.Account{ID: "u1", Email: "u1@x.com"})
	require.NoError(t, err)
	_, err = ident.EnsureProfile(ctx, model.Account{ID: "u2", Email: "u2@x.com"})
	require.NoError(t, err)
	r, err := rooms.FindOrCreateDirectRoom(ctx, "u1", "u2")
	require.NoError(t, err)

	// 请求落到另一个节点
	onB, err := b.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, onB.ID)
	assert.Equal(t, "u1", onB.Profile.ID)
	again, err := b.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Same(t, onB, again)
	assert.Equal(t, 1, b.Count())

	_, err = onB.Subscribe(ctx, feed.RoomMessages(r.ID), nil, func(feed.Event) error { return nil })
	require.NoError(t, err)

	// a restarted node resolves the same token
	restarted := node("a")
	_, err = restarted.Get(ctx, s.ID)
	require.NoError(t, err)

	// logout on a is seen by b on its next lookup
	require.NoError(t, a.Logout(ctx, s.ID))
	_, err = b.Get(ctx, s.ID)
	assert.True(t, errs.ErrTokenInvalid.Is(err))
	select {
	case <-onB.Done():
	default:
		t.Fatal("session on b not released")
	}
	assert.Zero(t, b.Count())
	assert.Zero(t, hub.Subscribers(feed.RoomMessages(r.ID)))

	assert.True(t, errs.ErrTokenInvalid.Is(b.Touch(ctx, s.ID)))
}

func TestGetWithoutStoreIsNodeLocal(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	s := login(t, f, "u1")

	other := NewManager(identity.NewService(memstore.New(nil), identity.Options{}), f.rooms, f.hub, f.presence, Options{NodeID: "n2"})
	_, err := other.Get(ctx, s.ID)
	assert.True(t, errs.ErrTokenInvalid.Is(err))
}
