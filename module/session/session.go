// Package session holds the per-login context: who the caller is and which
// feed subscriptions were opened on their behalf. Logout releases all of them.
//
// With a shared Store a session id issued by one node resolves on every node;
// a node that finds the record gone releases its local copy.
package session

import (
	"context"
	"sync"
	"time"

	"moodchat/logger"
	"moodchat/module/chat/model"
	"moodchat/module/feed"
	"moodchat/service/storage"
	"moodchat/tools/errs"
	"moodchat/tools/ids"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "moodchat",
	Name:      "sessions_active",
	Help:      "Logged-in sessions held by this node.",
})

// Profiles is the slice of the identity directory a session needs.
type Profiles interface {
	EnsureProfile(ctx context.Context, acct model.Account) (*model.Profile, error)
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
}

// Membership answers whether a profile may watch a room topic.
type Membership interface {
	IsMember(ctx context.Context, roomID, profileID string) (bool, error)
}

// Subscriber is implemented by *feed.Hub.
type Subscriber interface {
	Subscribe(topic string, filter feed.Filter, fn feed.Handler) (*feed.Subscription, error)
}

type Options struct {
	NodeID      string
	PresenceTTL time.Duration
	Store       storage.SessionStore // nil: sessions only live on this node
	SessionTTL  time.Duration        // 与 access token 有效期一致
	Clock       func() time.Time
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session

	profiles Profiles
	rooms    Membership
	hub      Subscriber
	presence storage.Presence
	opts     Options
	log      *zap.Logger
}

func NewManager(profiles Profiles, rooms Membership, hub Subscriber, presence storage.Presence, opts Options) *Manager {
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = 2 * time.Hour
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 2 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Manager{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
		profiles: profiles,
		rooms:    rooms,
		hub:      hub,
		presence: presence,
		opts:     opts,
		log:      logger.Named("session"),
	}
}

// Login ensures the account's profile, marks it online and registers a new session.
func (m *Manager) Login(ctx context.Context, acct model.Account) (*Session, error) {
	p, err := m.profiles.EnsureProfile(ctx, acct)
	if err != nil {
		return nil, err
	}
	id := ids.NewToken()
	if m.opts.Store != nil {
		if err := m.opts.Store.Save(ctx, id, p.ID, m.opts.SessionTTL); err != nil {
			return nil, errs.Persistence(err, "save session", "profile", p.ID)
		}
	}
	s := m.attach(id, p)
	m.markOnline(ctx, p.ID)
	m.log.Info("login", zap.String("profile", p.ID), zap.String("session", s.ID))
	return s, nil
}

// attach registers a local Session for id, reusing one that is already there.
func (m *Manager) attach(id string, p *model.Profile) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := &Session{
		ID:        id,
		Profile:   p,
		CreatedAt: m.opts.Clock(),
		mgr:       m,
		subs:      make(map[*feed.Subscription]struct{}),
		done:      make(chan struct{}),
	}
	m.sessions[id] = s
	if m.byUser[p.ID] == nil {
		m.byUser[p.ID] = make(map[string]*Session)
	}
	m.byUser[p.ID][id] = s
	activeSessions.Inc()
	return s
}

// Get resolves a live session. With a Store the record is authoritative: a
// session created on another node is attached here, and a local session whose
// record is gone (logout elsewhere, expiry) is released.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if m.opts.Store == nil {
		if !ok {
			return nil, errs.ErrTokenInvalid.WrapMsg("session not found", "session", id)
		}
		return s, nil
	}

	profileID, found, err := m.opts.Store.Lookup(ctx, id)
	if err != nil {
		return nil, errs.Persistence(err, "session lookup", "session", id)
	}
	if !found {
		if ok {
			m.release(ctx, id)
		}
		return nil, errs.ErrTokenInvalid.WrapMsg("session not found", "session", id)
	}
	if ok {
		return s, nil
	}
	p, err := m.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	s = m.attach(id, p)
	m.markOnline(ctx, p.ID)
	m.log.Info("session attached", zap.String("profile", p.ID), zap.String("session", id))
	return s, nil
}

// Logout tears the session down on every node. Unknown or already closed ids are a no-op.
func (m *Manager) Logout(ctx context.Context, id string) error {
	if m.opts.Store != nil {
		if err := m.opts.Store.Delete(ctx, id); err != nil {
			return errs.Persistence(err, "delete session", "session", id)
		}
	}
	m.release(ctx, id)
	return nil
}

// release drops the local copy of id and closes its subscriptions.
func (m *Manager) release(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	last := false
	if mm := m.byUser[s.Profile.ID]; mm != nil {
		delete(mm, id)
		if len(mm) == 0 {
			delete(m.byUser, s.Profile.ID)
			last = true
		}
	}
	m.mu.Unlock()
	activeSessions.Dec()

	n := s.close()
	if last && m.presence != nil {
		if err := m.presence.Offline(ctx, s.Profile.ID); err != nil {
			m.log.Warn("presence offline", zap.String("profile", s.Profile.ID), zap.Error(err))
		}
	}
	m.log.Info("session released", zap.String("profile", s.Profile.ID), zap.String("session", id), zap.Int("released", n))
}

// Touch refreshes the presence entry of a live session (websocket heartbeat).
func (m *Manager) Touch(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	m.markOnline(ctx, s.Profile.ID)
	return nil
}

// IsOnline reports whether any node currently holds a session for profileID.
func (m *Manager) IsOnline(ctx context.Context, profileID string) (bool, error) {
	if m.presence == nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return len(m.byUser[profileID]) > 0, nil
	}
	_, ok, err := m.presence.Lookup(ctx, profileID)
	if err != nil {
		return false, errs.Persistence(err, "presence lookup", "profile", profileID)
	}
	return ok, nil
}

// Count returns the number of live sessions on this node.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close releases every local session on shutdown. Stored records are kept so
// clients can reconnect to another node or after a restart.
func (m *Manager) Close(ctx context.Context) {
	m.mu.RLock()
	idList := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		idList = append(idList, id)
	}
	m.mu.RUnlock()
	for _, id := range idList {
		m.release(ctx, id)
	}
}

func (m *Manager) markOnline(ctx context.Context, profileID string) {
	if m.presence == nil {
		return
	}
	if err := m.presence.Online(ctx, profileID, m.opts.NodeID, m.opts.PresenceTTL); err != nil {
		m.log.Warn("presence online", zap.String("profile", profileID), zap.Error(err))
	}
}

// Session is one logged-in caller.
type Session struct {
	ID        string
	Profile   *model.Profile
	CreatedAt time.Time

	mgr    *Manager
	mu     sync.Mutex
	subs   map[*feed.Subscription]struct{}
	closed bool
	done   chan struct{}
}

// Subscribe authorizes topic for this session and subscribes fn to it. Room
// topics need membership; profile topics are only visible to their owner.
func (s *Session) Subscribe(ctx context.Context, topic string, filter feed.Filter, fn feed.Handler) (*feed.Subscription, error) {
	if err := s.authorize(ctx, topic); err != nil {
		return nil, err
	}
	sub, err := s.mgr.hub.Subscribe(topic, filter, fn)
	if err != nil {
		return nil, errs.ErrInvalidState.WrapMsg(err.Error(), "topic", topic)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return nil, errs.ErrInvalidState.WrapMsg("session closed", "session", s.ID)
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub, nil
}

// Unsubscribe releases sub; repeated calls are harmless.
func (s *Session) Unsubscribe(sub *feed.Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.Close()
}

// Subscriptions returns how many subscriptions the session still holds.
func (s *Session) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Done is closed at logout.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) authorize(ctx context.Context, topic string) error {
	kind, id, err := feed.ParseTopic(topic)
	if err != nil {
		return errs.ErrInvalidArgument.WrapMsg(err.Error())
	}
	switch kind {
	case feed.KindProfileFriendLinks, feed.KindProfileRooms:
		if id != s.Profile.ID {
			return errs.ErrForbidden.WrapMsg("profile topic of another user", "topic", topic)
		}
		return nil
	default:
		ok, err := s.mgr.rooms.IsMember(ctx, id, s.Profile.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrForbidden.WrapMsg("not a member of room", "room", id)
		}
		return nil
	}
}

func (s *Session) close() int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	close(s.done)
	s.mu.Unlock()

	for sub := range subs {
		sub.Close()
	}
	return len(subs)
}
