package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"moodchat/data/store/memstore"
	"moodchat/module/chat/model"
	"moodchat/module/identity"
	"moodchat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*memstore.Store, *Service) {
	t.Helper()
	db := memstore.New(nil)
	ids := identity.NewService(db, identity.Options{})
	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := ids.EnsureProfile(context.Background(), model.Account{ID: id, Email: id + "@x.com"})
		require.NoError(t, err)
	}
	return db, NewService(db, Options{})
}

func TestFindOrCreateDirectRoomIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)

	r1, err := s.FindOrCreateDirectRoom(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, r1.IsDirect)
	assert.Equal(t, []string{"u1", "u2"}, r1.MemberIDs)

	r2, err := s.FindOrCreateDirectRoom(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID, "pair order does not matter")

	rooms, err := s.ListRoomsForProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
	assert.Len(t, rooms[0].Members, 2)
}

func TestFindOrCreateDirectRoomConcurrent(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)

	const n = 32
	var wg sync.WaitGroup
	got := make([]string, n)
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			r, err := s.FindOrCreateDirectRoom(ctx, a, b)
			if err != nil {
				errCh <- err
				return
			}
			got[i] = r.ID
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	for _, id := range got {
		assert.Equal(t, got[0], id)
	}

	for _, u := range []string{"u1", "u2"} {
		rooms, err := s.ListRoomsForProfile(ctx, u)
		require.NoError(t, err)
		assert.Len(t, rooms, 1, "no duplicate direct room for %s", u)
	}
}

func TestDirectRoomValidation(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)

	_, err := s.FindOrCreateDirectRoom(ctx, "u1", "u1")
	assert.True(t, errs.ErrInvalidOperation.Is(err))

	_, err = s.FindOrCreateDirectRoom(ctx, "u1", "ghost")
	assert.True(t, errs.ErrNotFound.Is(err))
}

func TestCreateGroupRoom(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)

	r, err := s.CreateGroupRoom(ctx, "u1", " Weekend mix ", []string{"u2", "u1", "u2", "u3"})
	require.NoError(t, err)
	assert.False(t, r.IsDirect)
	assert.Equal(t, "Weekend mix", r.Name)
	assert.Equal(t, []string{"u1", "u2", "u3"}, r.MemberIDs)

	for _, u := range r.MemberIDs {
		ok, err := s.IsMember(ctx, r.ID, u)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	solo, err := s.CreateGroupRoom(ctx, "u1", "notes", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, solo.MemberIDs)

	_, err = s.CreateGroupRoom(ctx, "u1", "x", []string{"ghost"})
	assert.True(t, errs.ErrNotFound.Is(err))
}

func TestListRoomsOrderedByActivity(t *testing.T) {
	ctx := context.Background()
	db, s := setup(t)

	direct, err := s.FindOrCreateDirectRoom(ctx, "u1", "u2")
	require.NoError(t, err)
	group, err := s.CreateGroupRoom(ctx, "u1", "g", []string{"u3"})
	require.NoError(t, err)

	require.NoError(t, db.InsertMessage(ctx, &model.Message{
		ID: "m1", RoomID: direct.ID, SenderID: "u2", Body: "hi", Type: model.MessageText,
		CreatedAt: time.Now().Add(time.Minute),
	}))

	rooms, err := s.ListRoomsForProfile(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, direct.ID, rooms[0].Room.ID)
	assert.Equal(t, group.ID, rooms[1].Room.ID)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "m1", rooms[0].LastMessage.ID)
	assert.EqualValues(t, 1, rooms[0].Unread)
	assert.Nil(t, rooms[1].LastMessage)
}

func TestGetRoomRequiresMembership(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)

	r, err := s.FindOrCreateDirectRoom(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = s.GetRoom(ctx, r.ID, "u3")
	assert.True(t, errs.ErrForbidden.Is(err))
	_, err = s.GetRoom(ctx, "missing", "u1")
	assert.True(t, errs.ErrNotFound.Is(err))

	sum, err := s.GetRoom(ctx, r.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, r.ID, sum.Room.ID)

	ok, err := s.IsMember(ctx, r.ID, "u3")
	require.NoError(t, err)
	assert.False(t, ok)
}
