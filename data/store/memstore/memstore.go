// Package memstore is the in-process backend used by single-node
// deployments and by every service test. One mutex serialises all writes and
// events are published while it is held, so per-topic feed order is commit order.
package memstore

import (
	"context"
	"sync"
	"time"

	"moodchat/data/database"
	"moodchat/data/store"
	"moodchat/logger"
	"moodchat/module/chat/model"
	"moodchat/module/feed"

	"go.uber.org/zap"
)

type Store struct {
	mu  sync.RWMutex
	pub feed.Publisher

	profiles map[string]*model.Profile
	emails   map[string]string // email -> profile id

	links map[string]*model.FriendLink
	pairs map[string]string // pair_key -> link id

	rooms     map[string]*model.Room
	direct    map[string]string                       // direct_key -> room id
	members   map[string]map[string]*model.Membership // room -> user -> membership
	userRooms map[string]map[string]struct{}          // user -> room ids

	messages  map[string][]*model.Message // room -> ascending seq
	clientIDs map[string]*model.Message   // sender|client_msg_id
}

// New builds an empty store; pub may be nil when no feed is attached. pub runs
// under the write lock and must not block, which is why config rejects a
// broker relay on this backend.
func New(pub feed.Publisher) *Store {
	return &Store{
		pub:       pub,
		profiles:  make(map[string]*model.Profile),
		emails:    make(map[string]string),
		links:     make(map[string]*model.FriendLink),
		pairs:     make(map[string]string),
		rooms:     make(map[string]*model.Room),
		direct:    make(map[string]string),
		members:   make(map[string]map[string]*model.Membership),
		userRooms: make(map[string]map[string]struct{}),
		messages:  make(map[string][]*model.Message),
		clientIDs: make(map[string]*model.Message),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close(context.Context) error { return nil }

// emit must be called with s.mu held.
func (s *Store) emit(op feed.Op, rec database.Table, at time.Time) {
	if s.pub == nil {
		return
	}
	events, err := store.EventsFor(op, rec, at)
	if err != nil {
		logger.Warn("memstore: build feed events", zap.String("table", rec.GetTableName()), zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}
	if err := s.pub.Publish(context.Background(), events...); err != nil {
		logger.Warn("memstore: publish feed events", zap.String("table", rec.GetTableName()), zap.Error(err))
	}
}

func cloneProfile(p *model.Profile) *model.Profile {
	c := *p
	return &c
}

func cloneLink(l *model.FriendLink) *model.FriendLink {
	c := *l
	return &c
}

func cloneRoom(r *model.Room) *model.Room {
	c := *r
	c.MemberIDs = append([]string(nil), r.MemberIDs...)
	return &c
}

func cloneMembership(m *model.Membership) *model.Membership {
	c := *m
	return &c
}

func cloneMessage(m *model.Message) *model.Message {
	c := *m
	if m.Metadata != nil {
		md := *m.Metadata
		c.Metadata = &md
	}
	return &c
}
