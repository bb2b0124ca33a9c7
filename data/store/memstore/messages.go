package memstore

import (
	"context"
	"sort"
	"time"

	"moodchat/data/store"
	"moodchat/module/chat/model"
	"moodchat/module/feed"
)

func clientKey(senderID, clientMsgID string) string {
	return senderID + "|" + clientMsgID
}

// InsertMessage assigns the next room sequence, moves CreatedAt strictly past
// the previous message and bumps the room. m is updated in place.
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[m.RoomID]
	if !ok {
		return store.ErrNoRows
	}
	if m.ClientMsgID != "" {
		if _, dup := s.clientIDs[clientKey(m.SenderID, m.ClientMsgID)]; dup {
			return store.ErrDuplicate
		}
	}

	r.LastSeq++
	m.Seq = r.LastSeq
	// created_at 在房间内严格递增：seq 顺序即 (created_at, id) 顺序
	if !m.CreatedAt.After(r.LastMessageAt) {
		m.CreatedAt = r.LastMessageAt.Add(time.Microsecond)
	}
	r.LastMessageAt = m.CreatedAt
	if m.CreatedAt.After(r.UpdatedAt) {
		r.UpdatedAt = m.CreatedAt
	}

	c := cloneMessage(m)
	s.messages[m.RoomID] = append(s.messages[m.RoomID], c)
	if c.ClientMsgID != "" {
		s.clientIDs[clientKey(c.SenderID, c.ClientMsgID)] = c
	}

	s.emit(feed.OpInsert, c, c.CreatedAt)
	s.emit(feed.OpUpdate, r, c.CreatedAt)
	return nil
}

func (s *Store) GetMessageByClientID(ctx context.Context, senderID, clientMsgID string) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.clientIDs[clientKey(senderID, clientMsgID)]
	if !ok {
		return nil, store.ErrNoRows
	}
	return cloneMessage(m), nil
}

// ListMessages returns messages with seq > afterSeq in ascending order; limit <= 0 means all.
func (s *Store) ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[roomID]
	// seq 从 1 开始连续递增，直接二分定位起点
	start := sort.Search(len(all), func(i int) bool { return all[i].Seq > afterSeq })
	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]*model.Message, 0, end-start)
	for _, m := range all[start:end] {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (s *Store) LastMessage(ctx context.Context, roomID string) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[roomID]
	if len(all) == 0 {
		return nil, store.ErrNoRows
	}
	return cloneMessage(all[len(all)-1]), nil
}

// CountUnread counts every message after afterSeq, whoever sent it.
func (s *Store) CountUnread(ctx context.Context, roomID string, afterSeq int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[roomID]
	start := sort.Search(len(all), func(i int) bool { return all[i].Seq > afterSeq })
	return int64(len(all) - start), nil
}
