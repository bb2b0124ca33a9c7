package memstore

import (
	"context"
	"sort"
	"time"

	"moodchat/data/store"
	"moodchat/module/chat/model"
	"moodchat/module/feed"
)

// InsertFriendLink fails with store.ErrDuplicate while the pair already has a link.
func (s *Store) InsertFriendLink(ctx context.Context, l *model.FriendLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.PairKey(l.RequesterID, l.RecipientID)
	if _, ok := s.pairs[key]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.links[l.ID]; ok {
		return store.ErrDuplicate
	}
	c := cloneLink(l)
	c.PairKey = key
	s.links[c.ID] = c
	s.pairs[key] = c.ID
	l.PairKey = key

	s.emit(feed.OpInsert, c, c.CreatedAt)
	return nil
}

func (s *Store) GetFriendLink(ctx context.Context, id string) (*model.FriendLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[id]
	if !ok {
		return nil, store.ErrNoRows
	}
	return cloneLink(l), nil
}

func (s *Store) GetFriendLinkByPair(ctx context.Context, pairKey string) (*model.FriendLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairs[pairKey]
	if !ok {
		return nil, store.ErrNoRows
	}
	return cloneLink(s.links[id]), nil
}

// UpdateFriendLinkStatus is a compare-and-set: it only applies while the link is in from.
func (s *Store) UpdateFriendLinkStatus(ctx context.Context, id string, from, to model.FriendStatus, at time.Time) (*model.FriendLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[id]
	if !ok || l.Status != from {
		return nil, store.ErrNoRows
	}
	l.Status = to
	l.UpdatedAt = at

	s.emit(feed.OpUpdate, l, at)
	return cloneLink(l), nil
}

// DeleteFriendLink removes the link only while it is in status.
func (s *Store) DeleteFriendLink(ctx context.Context, id string, status model.FriendStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[id]
	if !ok || l.Status != status {
		return store.ErrNoRows
	}
	delete(s.links, id)
	delete(s.pairs, l.PairKey)

	s.emit(feed.OpDelete, l, time.Now())
	return nil
}

// ListFriendLinks returns newest first.
func (s *Store) ListFriendLinks(ctx context.Context, userID string, f model.LinkFilter) ([]*model.FriendLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]*model.FriendLink, 0)
	for _, l := range s.links {
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		switch f.Role {
		case model.RoleRequester:
			if l.RequesterID != userID {
				continue
			}
		case model.RoleRecipient:
			if l.RecipientID != userID {
				continue
			}
		default:
			if !l.Involves(userID) {
				continue
			}
		}
		out = append(out, cloneLink(l))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
