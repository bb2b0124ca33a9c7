package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"moodchat/data/store/memstore"
	"moodchat/module/chat/model"
	"moodchat/module/feed"
	"moodchat/module/identity"
	"moodchat/module/message"
	"moodchat/module/room"
	"moodchat/module/session"
	"moodchat/module/social"
	"moodchat/service/storage"
	"moodchat/tools/errs"
	"moodchat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type harness struct {
	t        *testing.T
	router   *gin.Engine
	provider security.Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := feed.NewHub()
	t.Cleanup(hub.Close)
	db := memstore.New(hub)
	ident := identity.NewService(db, identity.Options{})
	rooms := room.NewService(db, room.Options{})
	srv := &Server{
		Identity:    ident,
		Social:      social.NewService(db, storage.NewMemTokenStore(), social.Options{}),
		Rooms:       rooms,
		Messages:    message.NewService(db, message.Options{}),
		Sessions:    session.NewManager(ident, rooms, hub, storage.NewMemPresence(), session.Options{NodeID: "n1"}),
		Access:      security.DefaultOptions([]byte("access-secret")),
		Provider:    security.DefaultOptions([]byte("provider-secret")),
		SearchLimit: 10,
	}
	return &harness{t: t, router: srv.NewRouter(), provider: srv.Provider}
}

func (h *harness) do(method, path, token string, body any, hdr ...string) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (h *harness) login(id string) (string, *model.Profile) {
	h.t.Helper()
	provider, _, err := security.Generate(h.provider, security.Claims{Subject: id, Email: id + "@Example.com", Name: id})
	require.NoError(h.t, err)

	code, env := h.do(http.MethodPost, "/api/v1/session", "", gin.H{"token": provider})
	require.Equal(h.t, http.StatusOK, code, env.Msg)
	var resp loginResp
	require.NoError(h.t, json.Unmarshal(env.Data, &resp))
	require.NotEmpty(h.t, resp.AccessToken)
	return resp.AccessToken, resp.Profile
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestLoginAndAuth(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(http.MethodGet, "/api/v1/profiles/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, errs.TokenInvalidError, env.Code)

	// a provider token is not an access token
	provider, _, err := security.Generate(h.provider, security.Claims{Subject: "u1", Email: "u1@x.com"})
	require.NoError(t, err)
	code, _ = h.do(http.MethodGet, "/api/v1/profiles/me", provider, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	token, p := h.login("u1")
	assert.Equal(t, "u1@example.com", p.Email)

	code, env = h.do(http.MethodGet, "/api/v1/profiles/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "u1", decode[model.Profile](t, env).ID)

	code, env = h.do(http.MethodPatch, "/api/v1/profiles/me", token, gin.H{"name": "Una"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Una", decode[model.Profile](t, env).Name)

	code, _ = h.do(http.MethodDelete, "/api/v1/session", token, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = h.do(http.MethodGet, "/api/v1/profiles/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, code, "logged out session is gone")
}

func TestFriendFlow(t *testing.T) {
	h := newHarness(t)
	t1, _ := h.login("u1")
	t2, _ := h.login("u2")

	code, env := h.do(http.MethodGet, "/api/v1/profiles/search?q=U2@", t1, nil)
	require.Equal(t, http.StatusOK, code)
	found := decode[[]model.Profile](t, env)
	require.Len(t, found, 1)
	assert.Equal(t, "u2", found[0].ID)

	code, env = h.do(http.MethodPost, "/api/v1/friends/requests", t1, gin.H{"email": "u2@example.com"}, IdempotencyHeader, "k1")
	require.Equal(t, http.StatusOK, code, env.Msg)
	link := decode[model.FriendLink](t, env)
	assert.Equal(t, model.FriendPending, link.Status)

	// retry with the same key returns the same link
	code, env = h.do(http.MethodPost, "/api/v1/friends/requests", t1, gin.H{"email": "u2@example.com"}, IdempotencyHeader, "k1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, link.ID, decode[model.FriendLink](t, env).ID)

	// without a key the pair is already taken
	code, env = h.do(http.MethodPost, "/api/v1/friends/requests", t2, gin.H{"email": "u1@example.com"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, errs.ConflictError, env.Code)

	code, _ = h.do(http.MethodPost, "/api/v1/friends/requests", t1, gin.H{"email": "u1@example.com"})
	assert.Equal(t, http.StatusBadRequest, code, "self request")

	code, env = h.do(http.MethodGet, "/api/v1/friends/requests/incoming", t2, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]model.FriendLink](t, env), 1)

	code, _ = h.do(http.MethodPost, "/api/v1/friends/requests/"+link.ID+"/accept", t1, nil)
	assert.Equal(t, http.StatusForbidden, code, "requester cannot accept")

	code, env = h.do(http.MethodPost, "/api/v1/friends/requests/"+link.ID+"/accept", t2, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.FriendAccepted, decode[model.FriendLink](t, env).Status)

	code, _ = h.do(http.MethodPost, "/api/v1/friends/requests/"+link.ID+"/cancel", t1, nil)
	assert.Equal(t, http.StatusConflict, code, "no longer pending")

	code, env = h.do(http.MethodGet, "/api/v1/friends", t1, nil)
	require.Equal(t, http.StatusOK, code)
	friends := decode[[]model.Profile](t, env)
	require.Len(t, friends, 1)
	assert.Equal(t, "u2", friends[0].ID)

	code, _ = h.do(http.MethodDelete, "/api/v1/friends/u2", t1, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = h.do(http.MethodDelete, "/api/v1/friends/u2", t1, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRoomAndMessages(t *testing.T) {
	h := newHarness(t)
	t1, _ := h.login("u1")
	t2, _ := h.login("u2")
	t3, _ := h.login("u3")

	code, env := h.do(http.MethodPost, "/api/v1/rooms/direct", t1, gin.H{"user_id": "u2"})
	require.Equal(t, http.StatusOK, code, env.Msg)
	r := decode[model.Room](t, env)
	assert.True(t, r.IsDirect)

	code, env = h.do(http.MethodPost, "/api/v1/rooms/direct", t2, gin.H{"user_id": "u1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, r.ID, decode[model.Room](t, env).ID, "both directions converge")

	base := "/api/v1/rooms/" + r.ID
	code, env = h.do(http.MethodPost, base+"/messages", t1, gin.H{"message": "hello", "client_msg_id": "c1"})
	require.Equal(t, http.StatusOK, code, env.Msg)
	m := decode[model.Message](t, env)
	assert.EqualValues(t, 1, m.Seq)
	assert.Equal(t, model.MessageText, m.Type)

	code, _ = h.do(http.MethodPost, base+"/messages", t1, gin.H{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(http.MethodPost, base+"/messages", t3, gin.H{"message": "intruder"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = h.do(http.MethodGet, base, t3, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = h.do(http.MethodGet, base+"/unread", t2, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, decode[map[string]int64](t, env)["unread"])

	code, _ = h.do(http.MethodPost, base+"/read", t2, nil)
	require.Equal(t, http.StatusOK, code)
	code, env = h.do(http.MethodGet, base+"/unread", t2, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, decode[map[string]int64](t, env)["unread"])

	code, env = h.do(http.MethodGet, base+"/messages?after_seq=0&limit=10", t2, nil)
	require.Equal(t, http.StatusOK, code)
	msgs := decode[[]model.Message](t, env)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)

	code, _ = h.do(http.MethodGet, base+"/messages?after_seq=-1", t2, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = h.do(http.MethodGet, "/api/v1/rooms", t1, nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[[]model.RoomSummary](t, env)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "hello", list[0].LastMessage.Body)

	code, env = h.do(http.MethodGet, "/api/v1/rooms/missing", t1, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errs.RecordNotFoundError, env.Code)

	code, env = h.do(http.MethodGet, "/api/v1/profiles/u2", t1, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[profileView](t, env).Online)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	code, env := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, env.Code)
}
