package social

import (
	"context"
	"sync"
	"testing"

	"moodchat/data/store/memstore"
	"moodchat/module/chat/model"
	"moodchat/module/identity"
	"moodchat/service/storage"
	"moodchat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *memstore.Store
	social *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := memstore.New(nil)
	ids := identity.NewService(db, identity.Options{})
	for _, a := range []model.Account{
		{ID: "u1", Email: "a@x.com", Name: "Ann"},
		{ID: "u2", Email: "b@x.com", Name: "Bob"},
		{ID: "u3", Email: "c@x.com", Name: "Cat"},
	} {
		_, err := ids.EnsureProfile(context.Background(), a)
		require.NoError(t, err)
	}
	return &fixture{db: db, social: NewService(db, storage.NewMemTokenStore(), Options{})}
}

func profileIDs(ps []*model.Profile) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestRequestAcceptMakesFriends(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	link, err := f.social.SendRequest(ctx, "u1", "b@x.com", "")
	require.NoError(t, err)
	assert.Equal(t, "u1", link.RequesterID)
	assert.Equal(t, "u2", link.RecipientID)
	assert.Equal(t, model.FriendPending, link.Status)

	accepted, err := f.social.Accept(ctx, link.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, model.FriendAccepted, accepted.Status)
	assert.Equal(t, link.ID, accepted.ID, "acceptance is a transition, not a new record")

	friendsA, err := f.social.ListFriends(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, profileIDs(friendsA))
	friendsB, err := f.social.ListFriends(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, profileIDs(friendsB))

	_, err = f.social.SendRequest(ctx, "u1", "b@x.com", "")
	assert.True(t, errs.ErrConflict.Is(err))
	_, err = f.social.SendRequest(ctx, "u2", "a@x.com", "")
	assert.True(t, errs.ErrConflict.Is(err), "reverse direction is the same pair")

	ok, err := f.social.AreFriends(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelFreesThePair(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	link, err := f.social.SendRequest(ctx, "u1", "b@x.com", "")
	require.NoError(t, err)

	pending, err := f.social.ListPending(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	sent, err := f.social.ListSent(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sent, 1)

	require.NoError(t, f.social.Cancel(ctx, link.ID, "u1"))

	pending, err = f.social.ListPending(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.social.SendRequest(ctx, "u1", "b@x.com", "")
	assert.NoError(t, err)
}

func TestRejectFreesThePair(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	link, err := f.social.SendRequest(ctx, "u1", "b@x.com", "")
	require.NoError(t, err)
	require.NoError(t, f.social.Reject(ctx, link.ID, "u2"))

	_, err = f.social.Accept(ctx, link.ID, "u2")
	assert.True(t, errs.ErrNotFound.Is(err), "rejected link is gone")

	_, err = f.social.SendRequest(ctx, "u2", "a@x.com", "")
	assert.NoError(t, err)
}

func TestSendRequestValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.social.SendRequest(ctx, "u1", "nobody@x.com", "")
	assert.True(t, errs.ErrNotFound.Is(err))

	_, err = f.social.SendRequest(ctx, "u1", " A@X.com ", "")
	assert.True(t, errs.ErrInvalidOperation.Is(err))
	assert.True(t, errs.ErrInvalidArgument.Is(err))

	_, err = f.social.SendRequest(ctx, "u1", "", "")
	assert.True(t, errs.ErrInvalidArgument.Is(err))
}

func TestGuardsOrder(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.social.Accept(ctx, "missing", "u2")
	assert.True(t, errs.ErrNotFound.Is(err))

	link, err := f.social.SendRequest(ctx, "u1", "b@x.com", "")
	require.NoError(t, err)

	_, err = f.social.Accept(ctx, link.ID, "u1")
	assert.True(t, errs.ErrForbidden.Is(err), "requester cannot accept")
	assert.True(t, errs.ErrForbidden.Is(f.social.Reject(ctx, link.ID, "u3")))
	assert.True(t, errs.ErrForbidden.Is(f.social.Cancel(ctx, link.ID, "u2")), "recipient cannot cancel")

	_, err = f.social.Accept(ctx, link.ID, "u2")
	require.NoError(t, err)

	_, err = f.social.Accept(ctx, link.ID, "u2")
	assert.True(t, errs.ErrInvalidState.Is(err))
	assert.True(t, errs.ErrInvalidState.Is(f.social.Reject(ctx, link.ID, "u2")))
	assert.True(t, errs.ErrInvalidState.Is(f.social.Cancel(ctx, link.ID, "u1")))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	assert.True(t, errs.ErrNotFound.Is(f.social.Remove(ctx, "u1", "u2")))

	link, err := f.social.SendRequest(ctx, "u1", "b@x.com", "")
	require.NoError(t, err)
	assert.True(t, errs.ErrNotFound.Is(f.social.Remove(ctx, "u2", "u1")), "pending is not a friendship")

	_, err = f.social.Accept(ctx, link.ID, "u2")
	require.NoError(t, err)

	// either side may remove
	require.NoError(t, f.social.Remove(ctx, "u2", "u1"))

	friends, err := f.social.ListFriends(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, friends)

	_, err = f.social.SendRequest(ctx, "u1", "b@x.com", "")
	assert.NoError(t, err)
}

func TestSimultaneousCrossRequests(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = f.social.SendRequest(ctx, "u1", "b@x.com", "")
	}()
	go func() {
		defer wg.Done()
		_, results[1] = f.social.SendRequest(ctx, "u2", "a@x.com", "")
	}()
	wg.Wait()

	var ok, conflict int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errs.ErrConflict.Is(err):
			conflict++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)
}

func TestConcurrentAcceptAndReject(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	link, err := f.social.SendRequest(ctx, "u1", "b@x.com", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var acceptErr, rejectErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, acceptErr = f.social.Accept(ctx, link.ID, "u2") }()
	go func() { defer wg.Done(); rejectErr = f.social.Reject(ctx, link.ID, "u2") }()
	wg.Wait()

	if acceptErr == nil {
		assert.True(t, errs.ErrInvalidState.Is(rejectErr), "loser fails its precondition: %v", rejectErr)
	} else {
		assert.NoError(t, rejectErr)
		assert.True(t, errs.ErrNotFound.Is(acceptErr) || errs.ErrInvalidState.Is(acceptErr), "got %v", acceptErr)
	}
}

func TestSendRequestIdempotencyToken(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first, err := f.social.SendRequest(ctx, "u1", "b@x.com", "tok-1")
	require.NoError(t, err)
	retry, err := f.social.SendRequest(ctx, "u1", "b@x.com", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, retry.ID)

	sent, err := f.social.ListSent(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, sent, 1)

	// a failed attempt releases its token
	_, err = f.social.SendRequest(ctx, "u1", "c@x.com", "tok-2")
	require.NoError(t, err)
	_, err = f.social.SendRequest(ctx, "u1", "b@x.com", "tok-3")
	assert.True(t, errs.ErrConflict.Is(err))
	_, err = f.social.SendRequest(ctx, "u3", "b@x.com", "tok-3")
	assert.NoError(t, err, "token scope is per requester")
}
