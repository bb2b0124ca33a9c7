package memstore

import (
	"context"
	"sort"
	"time"

	"moodchat/data/store"
	"moodchat/module/chat/model"
	"moodchat/module/feed"
)

// CreateRoom inserts the room and its memberships atomically. A taken
// direct_key fails with store.ErrDuplicate and writes nothing.
func (s *Store) CreateRoom(ctx context.Context, r *model.Room, members []*model.Membership) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[r.ID]; ok {
		return store.ErrDuplicate
	}
	if r.DirectKey != "" {
		if _, ok := s.direct[r.DirectKey]; ok {
			return store.ErrDuplicate
		}
	}

	c := cloneRoom(r)
	s.rooms[c.ID] = c
	if c.DirectKey != "" {
		s.direct[c.DirectKey] = c.ID
	}
	mm := make(map[string]*model.Membership, len(members))
	for _, m := range members {
		mm[m.UserID] = cloneMembership(m)
		ur, ok := s.userRooms[m.UserID]
		if !ok {
			ur = make(map[string]struct{})
			s.userRooms[m.UserID] = ur
		}
		ur[c.ID] = struct{}{}
	}
	s.members[c.ID] = mm

	s.emit(feed.OpInsert, c, c.CreatedAt)
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNoRows
	}
	return cloneRoom(r), nil
}

func (s *Store) GetRoomByDirectKey(ctx context.Context, key string) (*model.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.direct[key]
	if !ok {
		return nil, store.ErrNoRows
	}
	return cloneRoom(s.rooms[id]), nil
}

// ListRoomsForUser returns the rooms userID belongs to, most recently updated first.
func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]*model.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]*model.Room, 0, len(s.userRooms[userID]))
	for id := range s.userRooms[userID] {
		out = append(out, cloneRoom(s.rooms[id]))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) ListMemberships(ctx context.Context, roomID string) ([]*model.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]*model.Membership, 0, len(s.members[roomID]))
	for _, m := range s.members[roomID] {
		out = append(out, cloneMembership(m))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) GetMembership(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[roomID][userID]
	if !ok {
		return nil, store.ErrNoRows
	}
	return cloneMembership(m), nil
}

// MarkRead moves the cursor to the room's current sequence; it never moves backwards.
func (s *Store) MarkRead(ctx context.Context, roomID, userID string, at time.Time) (*model.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[roomID][userID]
	if !ok {
		return nil, store.ErrNoRows
	}
	if r := s.rooms[roomID]; r != nil && r.LastSeq > m.LastReadSeq {
		m.LastReadSeq = r.LastSeq
	}
	if at.After(m.LastReadAt) {
		m.LastReadAt = at
	}

	s.emit(feed.OpUpdate, m, at)
	return cloneMembership(m), nil
}
