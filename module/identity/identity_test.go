package identity

import (
	"context"
	"sync"
	"testing"

	"moodchat/data/store/memstore"
	"moodchat/module/chat/model"
	"moodchat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() *Service {
	return NewService(memstore.New(nil), Options{})
}

func TestEnsureProfileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newService()

	first, err := s.EnsureProfile(ctx, model.Account{ID: "u1", Email: "A@X.com", Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", first.Email)
	assert.Equal(t, "Ann", first.Name)

	again, err := s.EnsureProfile(ctx, model.Account{ID: "u1", Email: "a@x.com", Name: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Ann", again.Name, "existing profile is returned untouched")
}

func TestEnsureProfileConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newService()

	var wg sync.WaitGroup
	errCh := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.EnsureProfile(ctx, model.Account{ID: "u1", Email: "a@x.com"})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		assert.NoError(t, err)
	}
}

func TestEnsureProfileDerivesName(t *testing.T) {
	p, err := newService().EnsureProfile(context.Background(), model.Account{ID: "u9", Email: "zed@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "zed", p.Name)
}

func TestEnsureProfileEmailTakenByOtherAccount(t *testing.T) {
	ctx := context.Background()
	s := newService()
	_, err := s.EnsureProfile(ctx, model.Account{ID: "u1", Email: "a@x.com"})
	require.NoError(t, err)

	_, err = s.EnsureProfile(ctx, model.Account{ID: "u2", Email: "A@x.com"})
	assert.True(t, errs.ErrConflict.Is(err))
}

func TestGetProfileNotFound(t *testing.T) {
	_, err := newService().GetProfile(context.Background(), "missing")
	assert.True(t, errs.ErrNotFound.Is(err))
}

func TestFindProfilesByEmailPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewService(memstore.New(nil), Options{SearchLimit: 3})
	for _, a := range []model.Account{
		{ID: "u1", Email: "anna@x.com"},
		{ID: "u2", Email: "ANDY@x.com"},
		{ID: "u3", Email: "bob@y.com"},
		{ID: "u4", Email: "dan@x.com"},
		{ID: "u5", Email: "randall@x.com"},
	} {
		_, err := s.EnsureProfile(ctx, a)
		require.NoError(t, err)
	}

	got, err := s.FindProfilesByEmailPrefix(ctx, "u1", "AN", 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"u2", "u4", "u5"}, ids, "caller excluded, case-insensitive, sorted by email")

	got, err = s.FindProfilesByEmailPrefix(ctx, "u1", "x.com", 100)
	require.NoError(t, err)
	assert.Len(t, got, 3, "limit is clamped")

	got, err = s.FindProfilesByEmailPrefix(ctx, "u1", "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	s := newService()
	_, err := s.EnsureProfile(ctx, model.Account{ID: "u1", Email: "a@x.com"})
	require.NoError(t, err)

	name, avatar := "  Ann ", "https://img/a.png"
	p, err := s.UpdateProfile(ctx, "u1", ProfilePatch{Name: &name, AvatarURL: &avatar})
	require.NoError(t, err)
	assert.Equal(t, "Ann", p.Name)

	got, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, avatar, got.AvatarURL)

	blank := " "
	_, err = s.UpdateProfile(ctx, "u1", ProfilePatch{Name: &blank})
	assert.True(t, errs.ErrInvalidArgument.Is(err))
}
