// Package room owns chat room existence and membership.
package room

import (
	"context"
	"errors"
	"strings"
	"time"

	"moodchat/data/store"
	"moodchat/logger"
	"moodchat/module/chat/model"
	"moodchat/tools"
	"moodchat/tools/errs"
	"moodchat/tools/ids"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 5 * time.Second
	maxGroupSize   = 256
	maxNameLen     = 100
)

type DB interface {
	GetProfiles(ctx context.Context, ids []string) ([]*model.Profile, error)

	CreateRoom(ctx context.Context, r *model.Room, members []*model.Membership) error
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	GetRoomByDirectKey(ctx context.Context, key string) (*model.Room, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]*model.Room, error)
	ListMemberships(ctx context.Context, roomID string) ([]*model.Membership, error)
	GetMembership(ctx context.Context, roomID, userID string) (*model.Membership, error)

	LastMessage(ctx context.Context, roomID string) (*model.Message, error)
	CountUnread(ctx context.Context, roomID string, afterSeq int64) (int64, error)
}

type Options struct {
	Timeout time.Duration
	Clock   func() time.Time
}

type Service struct {
	db      DB
	timeout time.Duration
	now     func() time.Time
}

func NewService(db DB, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{db: db, timeout: opts.Timeout, now: opts.Clock}
}

// FindOrCreateDirectRoom returns the single direct room of {a,b}, creating it
// on first use. Concurrent callers converge through the unique direct_key.
func (s *Service) FindOrCreateDirectRoom(ctx context.Context, a, b string) (*model.Room, error) {
	if a == "" || b == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("both participants are required")
	}
	if a == b {
		return nil, errs.ErrInvalidOperation.WrapMsg("a direct room needs two different profiles")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := model.PairKey(a, b)
	r, err := s.db.GetRoomByDirectKey(ctx, key)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, store.ErrNoRows) {
		return nil, errs.Persistence(err, "get direct room", "key", key)
	}

	if err := s.requireProfiles(ctx, []string{a, b}); err != nil {
		return nil, err
	}

	members := []string{a, b}
	if a > b {
		members = []string{b, a}
	}
	r = s.newRoom(a, "", members)
	r.IsDirect = true
	r.DirectKey = key

	err = s.db.CreateRoom(ctx, r, s.memberships(r))
	switch {
	case err == nil:
		logger.Debug("direct room created", zap.String("room", r.ID), zap.String("pair", key))
		return r, nil
	case errors.Is(err, store.ErrDuplicate):
		// 并发创建，读取胜出的那一条
		existing, rerr := s.db.GetRoomByDirectKey(ctx, key)
		if rerr != nil {
			return nil, errs.Persistence(rerr, "re-read direct room", "key", key)
		}
		return existing, nil
	default:
		return nil, errs.Persistence(err, "create direct room", "key", key)
	}
}

// CreateGroupRoom creates a room with the creator plus memberIDs (de-duplicated).
func (s *Service) CreateGroupRoom(ctx context.Context, creatorID, name string, memberIDs []string) (*model.Room, error) {
	if creatorID == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("creator is required")
	}
	name = strings.TrimSpace(name)
	if len([]rune(name)) > maxNameLen {
		return nil, errs.ErrInvalidArgument.WrapMsg("room name too long", "max", maxNameLen)
	}
	members := tools.Dedup(append([]string{creatorID}, memberIDs...))
	if len(members) > maxGroupSize {
		return nil, errs.ErrInvalidArgument.WrapMsg("too many members", "max", maxGroupSize)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.requireProfiles(ctx, members); err != nil {
		return nil, err
	}

	r := s.newRoom(creatorID, name, members)
	if err := s.db.CreateRoom(ctx, r, s.memberships(r)); err != nil {
		return nil, errs.Persistence(err, "create group room")
	}
	return r, nil
}

// ListRoomsForProfile returns every room of id with members, last message
// and unread count, most recently updated first.
func (s *Service) ListRoomsForProfile(ctx context.Context, id string) ([]*model.RoomSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rooms, err := s.db.ListRoomsForUser(ctx, id)
	if err != nil {
		return nil, errs.Persistence(err, "list rooms", "profile", id)
	}
	out := make([]*model.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		sum, err := s.summarize(ctx, r, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// GetRoom returns one room summary; the requester must be a member.
func (s *Service) GetRoom(ctx context.Context, roomID, requesterID string) (*model.RoomSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.db.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("room", "id", roomID)
	}
	if err != nil {
		return nil, errs.Persistence(err, "get room", "id", roomID)
	}
	if !r.HasMember(requesterID) {
		return nil, errs.ErrForbidden.WrapMsg("not a member of room", "room", roomID)
	}
	return s.summarize(ctx, r, requesterID)
}

// IsMember is the authorization check used before reading or sending in a room.
func (s *Service) IsMember(ctx context.Context, roomID, profileID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.GetMembership(ctx, roomID, profileID)
	if errors.Is(err, store.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errs.Persistence(err, "get membership", "room", roomID)
	}
	return true, nil
}

func (s *Service) summarize(ctx context.Context, r *model.Room, viewer string) (*model.RoomSummary, error) {
	members, err := s.db.ListMemberships(ctx, r.ID)
	if err != nil {
		return nil, errs.Persistence(err, "list memberships", "room", r.ID)
	}
	sum := &model.RoomSummary{Room: r, Members: members}

	last, err := s.db.LastMessage(ctx, r.ID)
	switch {
	case err == nil:
		sum.LastMessage = last
	case !errors.Is(err, store.ErrNoRows):
		return nil, errs.Persistence(err, "last message", "room", r.ID)
	}

	for _, m := range members {
		if m.UserID != viewer {
			continue
		}
		n, err := s.db.CountUnread(ctx, r.ID, m.LastReadSeq)
		if err != nil {
			return nil, errs.Persistence(err, "count unread", "room", r.ID)
		}
		sum.Unread = n
	}
	return sum, nil
}

func (s *Service) requireProfiles(ctx context.Context, idsWanted []string) error {
	found, err := s.db.GetProfiles(ctx, idsWanted)
	if err != nil {
		return errs.Persistence(err, "get profiles")
	}
	if len(found) == len(idsWanted) {
		return nil
	}
	have := make(map[string]struct{}, len(found))
	for _, p := range found {
		have[p.ID] = struct{}{}
	}
	for _, id := range idsWanted {
		if _, ok := have[id]; !ok {
			return errs.ErrNotFound.WrapMsg("profile", "id", id)
		}
	}
	return nil
}

func (s *Service) newRoom(creatorID, name string, members []string) *model.Room {
	now := s.now()
	return &model.Room{
		ID:        ids.GenerateString(),
		Name:      name,
		CreatedBy: creatorID,
		MemberIDs: members,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) memberships(r *model.Room) []*model.Membership {
	out := make([]*model.Membership, 0, len(r.MemberIDs))
	for _, id := range r.MemberIDs {
		out = append(out, &model.Membership{RoomID: r.ID, UserID: id, JoinedAt: r.CreatedAt})
	}
	return out
}
