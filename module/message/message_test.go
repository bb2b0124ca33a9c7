package message

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"moodchat/data/store/memstore"
	"moodchat/module/chat/model"
	"moodchat/module/identity"
	"moodchat/module/room"
	"moodchat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, *model.Room) {
	t.Helper()
	ctx := context.Background()
	db := memstore.New(nil)
	ident := identity.NewService(db, identity.Options{})
	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := ident.EnsureProfile(ctx, model.Account{ID: id, Email: id + "@x.com"})
		require.NoError(t, err)
	}
	r, err := room.NewService(db, room.Options{}).FindOrCreateDirectRoom(ctx, "u1", "u2")
	require.NoError(t, err)
	return NewService(db, Options{}), r
}

func text(roomID, sender, body string) AppendRequest {
	return AppendRequest{RoomID: roomID, SenderID: sender, Body: body, Type: model.MessageText}
}

// assertTimeOrdered checks msgs are non-decreasing by (created_at, id).
func assertTimeOrdered(t *testing.T, msgs []*model.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		prev, cur := msgs[i-1], msgs[i]
		if cur.CreatedAt.Equal(prev.CreatedAt) {
			a, err := strconv.ParseInt(prev.ID, 10, 64)
			require.NoError(t, err)
			b, err := strconv.ParseInt(cur.ID, 10, 64)
			require.NoError(t, err)
			assert.Less(t, a, b, "created_at tie broken against id order at %d", i)
			continue
		}
		assert.True(t, cur.CreatedAt.After(prev.CreatedAt), "created_at went backwards at %d", i)
	}
}

func TestAppendAndListInOrder(t *testing.T) {
	ctx := context.Background()
	s, r := setup(t)

	const n = 20
	for i := 0; i < n; i++ {
		sender := "u1"
		if i%3 == 0 {
			sender = "u2"
		}
		_, err := s.Append(ctx, text(r.ID, sender, fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, r.ID, "u1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.Body)
		assert.EqualValues(t, i+1, m.Seq)
	}
	assertTimeOrdered(t, msgs)

	page, err := s.ListMessages(ctx, r.ID, "u2", ListOptions{AfterSeq: 15, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.EqualValues(t, 16, page[0].Seq)
}

func TestNonMemberIsForbidden(t *testing.T) {
	ctx := context.Background()
	s, r := setup(t)

	_, err := s.Append(ctx, text(r.ID, "u3", "hi"))
	assert.True(t, errs.ErrForbidden.Is(err))
	_, err = s.ListMessages(ctx, r.ID, "u3", ListOptions{})
	assert.True(t, errs.ErrForbidden.Is(err))
	_, err = s.MarkRead(ctx, r.ID, "u3")
	assert.True(t, errs.ErrForbidden.Is(err))
	_, err = s.UnreadCount(ctx, r.ID, "u3")
	assert.True(t, errs.ErrForbidden.Is(err))

	_, err = s.Append(ctx, text("missing", "u1", "hi"))
	assert.True(t, errs.ErrNotFound.Is(err))
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	s, r := setup(t)

	cases := map[string]AppendRequest{
		"blank text":       text(r.ID, "u1", "   "),
		"unknown type":     {RoomID: r.ID, SenderID: "u1", Body: "x", Type: "audio"},
		"share no payload": {RoomID: r.ID, SenderID: "u1", Type: model.MessageShare},
		"text with payload": {RoomID: r.ID, SenderID: "u1", Body: "x", Type: model.MessageText,
			Metadata: &model.SharePayload{ID: "p", Name: "n"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Append(ctx, req)
			assert.True(t, errs.ErrInvalidArgument.Is(err), "got %v", err)
		})
	}
}

func TestShareRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, r := setup(t)

	payload := &model.SharePayload{
		ID: "pl-1", Name: "Rainy day", ExternalURL: "https://music.example/pl-1",
		ItemCount: 12, Duration: "48 min",
	}
	_, err := s.Append(ctx, AppendRequest{RoomID: r.ID, SenderID: "u1", Type: model.MessageShare, Metadata: payload})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, r.ID, "u2", ListOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageShare, msgs[0].Type)
	require.NotNil(t, msgs[0].Metadata)
	assert.Equal(t, *payload, *msgs[0].Metadata)
	assert.Empty(t, msgs[0].Metadata.CoverImageURL)
}

func TestAppendClientMsgIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, r := setup(t)

	req := text(r.ID, "u1", "hello")
	req.ClientMsgID = "c-1"
	first, err := s.Append(ctx, req)
	require.NoError(t, err)
	again, err := s.Append(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	msgs, err := s.ListMessages(ctx, r.ID, "u1", ListOptions{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	req.Body = "different"
	_, err = s.Append(ctx, req)
	assert.True(t, errs.ErrConflict.Is(err))

	// token scope is per sender
	other := text(r.ID, "u2", "hello")
	other.ClientMsgID = "c-1"
	_, err = s.Append(ctx, other)
	assert.NoError(t, err)
}

func TestMarkReadAndUnread(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s, r := setup(t)
	s.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		_, err := s.Append(ctx, text(r.ID, "u1", "ping"))
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, text(r.ID, "u2", "pong"))
	require.NoError(t, err)

	n, err := s.UnreadCount(ctx, r.ID, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n, "every message after the cursor counts, own ones included")

	m, err := s.MarkRead(ctx, r.ID, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 4, m.LastReadSeq)

	// retry is harmless
	_, err = s.MarkRead(ctx, r.ID, "u2")
	require.NoError(t, err)

	n, err = s.UnreadCount(ctx, r.ID, "u2")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Append(ctx, text(r.ID, "u1", "again"))
	require.NoError(t, err)
	n, err = s.UnreadCount(ctx, r.ID, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

// gatedDB holds the insert of one body until release is closed.
type gatedDB struct {
	DB
	body    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDB) InsertMessage(ctx context.Context, m *model.Message) error {
	if m.Body == g.body {
		close(g.entered)
		<-g.release
	}
	return g.DB.InsertMessage(ctx, m)
}

func TestAppendsCommittedOutOfIDOrder(t *testing.T) {
	ctx := context.Background()
	s, r := setup(t)
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }
	g := &gatedDB{DB: s.db, body: "first", entered: make(chan struct{}), release: make(chan struct{})}
	s.db = g

	done := make(chan error, 1)
	go func() {
		_, err := s.Append(ctx, text(r.ID, "u1", "first"))
		done <- err
	}()
	// "first" already has its id but commits after "second"
	<-g.entered
	second, err := s.Append(ctx, text(r.ID, "u2", "second"))
	require.NoError(t, err)
	close(g.release)
	require.NoError(t, <-done)

	msgs, err := s.ListMessages(ctx, r.ID, "u1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"second", "first"}, []string{msgs[0].Body, msgs[1].Body})
	assert.Equal(t, second.ID, msgs[0].ID)
	assert.True(t, msgs[1].CreatedAt.After(msgs[0].CreatedAt))
	assertTimeOrdered(t, msgs)
}
