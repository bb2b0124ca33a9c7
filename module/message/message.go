// Package message is the append-only per-room message log with read cursors.
package message

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"moodchat/data/store"
	"moodchat/module/chat/model"
	"moodchat/tools/errs"
	"moodchat/tools/ids"
)

const (
	defaultTimeout = 5 * time.Second

	MaxBodyLen        = 4000
	MaxClientMsgIDLen = 64
)

type DB interface {
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	GetMembership(ctx context.Context, roomID, userID string) (*model.Membership, error)

	InsertMessage(ctx context.Context, m *model.Message) error
	GetMessageByClientID(ctx context.Context, senderID, clientMsgID string) (*model.Message, error)
	ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]*model.Message, error)

	MarkRead(ctx context.Context, roomID, userID string, at time.Time) (*model.Membership, error)
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

type AppendRequest struct {
	RoomID      string              `json:"-"`
	SenderID    string              `json:"-"`
	Body        string              `json:"message"`
	Type        model.MessageType   `json:"message_type"`
	Metadata    *model.SharePayload `json:"metadata,omitempty"`
	ClientMsgID string              `json:"client_msg_id,omitempty"`
}

func (r *AppendRequest) validate() error {
	if r.Type == "" {
		r.Type = model.MessageText
	}
	if !r.Type.Valid() {
		return errs.ErrInvalidArgument.WrapMsg("unknown message type", "type", r.Type)
	}
	if utf8.RuneCountInString(r.Body) > MaxBodyLen {
		return errs.ErrInvalidArgument.WrapMsg("message too long", "max", MaxBodyLen)
	}
	if len(r.ClientMsgID) > MaxClientMsgIDLen {
		return errs.ErrInvalidArgument.WrapMsg("client_msg_id too long", "max", MaxClientMsgIDLen)
	}
	switch r.Type {
	case model.MessageText:
		if strings.TrimSpace(r.Body) == "" {
			return errs.ErrInvalidArgument.WrapMsg("text message body is empty")
		}
		if r.Metadata != nil {
			return errs.ErrInvalidArgument.WrapMsg("text message cannot carry a share payload")
		}
	case model.MessageShare:
		if r.Metadata == nil {
			return errs.ErrInvalidArgument.WrapMsg("share message requires a payload")
		}
		if r.Metadata.ID == "" || r.Metadata.Name == "" {
			return errs.ErrInvalidArgument.WrapMsg("share payload needs id and name")
		}
	}
	return nil
}

// Append persists a message from a room member. A repeated ClientMsgID from
// the same sender returns the stored message instead of writing a second one.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*model.Message, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.requireMember(ctx, req.RoomID, req.SenderID); err != nil {
		return nil, err
	}

	m := &model.Message{
		ID:          ids.GenerateString(),
		RoomID:      req.RoomID,
		SenderID:    req.SenderID,
		Body:        req.Body,
		Type:        req.Type,
		Metadata:    req.Metadata,
		ClientMsgID: req.ClientMsgID,
		CreatedAt:   s.now(),
	}
	if m.ClientMsgID != "" {
		prev, err := s.db.GetMessageByClientID(ctx, m.SenderID, m.ClientMsgID)
		if err == nil {
			return replay(prev, m)
		}
		if !errors.Is(err, store.ErrNoRows) {
			return nil, errs.Persistence(err, "get message by client id")
		}
	}

	err := s.db.InsertMessage(ctx, m)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, store.ErrDuplicate) && m.ClientMsgID != "":
		prev, rerr := s.db.GetMessageByClientID(ctx, m.SenderID, m.ClientMsgID)
		if rerr != nil {
			return nil, errs.Persistence(rerr, "re-read message by client id")
		}
		return replay(prev, m)
	case errors.Is(err, store.ErrNoRows):
		return nil, errs.ErrNotFound.WrapMsg("room", "id", m.RoomID)
	default:
		return nil, errs.Persistence(err, "insert message", "room", m.RoomID)
	}
}

func replay(prev, attempt *model.Message) (*model.Message, error) {
	if !prev.SameContent(attempt) {
		return nil, errs.ErrConflict.WrapMsg("client_msg_id reused with different content", "client_msg_id", attempt.ClientMsgID)
	}
	return prev, nil
}

type ListOptions struct {
	AfterSeq int64 // 只返回 seq > AfterSeq，用于断线重连补拉
	Limit    int   // <=0 不限
}

// ListMessages returns the room log in ascending order.
func (s *Service) ListMessages(ctx context.Context, roomID, requesterID string, opts ListOptions) ([]*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.requireMember(ctx, roomID, requesterID); err != nil {
		return nil, err
	}
	if opts.AfterSeq < 0 {
		opts.AfterSeq = 0
	}
	msgs, err := s.db.ListMessages(ctx, roomID, opts.AfterSeq, opts.Limit)
	if err != nil {
		return nil, errs.Persistence(err, "list messages", "room", roomID)
	}
	return msgs, nil
}

// MarkRead moves profileID's cursor to now and the room's latest message. Safe to retry.
func (s *Service) MarkRead(ctx context.Context, roomID, profileID string) (*model.Membership, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	m, err := s.db.MarkRead(ctx, roomID, profileID, s.now())
	if errors.Is(err, store.ErrNoRows) {
		return nil, s.notMember(ctx, roomID)
	}
	if err != nil {
		return nil, errs.Persistence(err, "mark read", "room", roomID)
	}
	return m, nil
}

// UnreadCount counts every message in the room after profileID's read cursor.
func (s *Service) UnreadCount(ctx context.Context, roomID, profileID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	m, err := s.db.GetMembership(ctx, roomID, profileID)
	if errors.Is(err, store.ErrNoRows) {
		return 0, s.notMember(ctx, roomID)
	}
	if err != nil {
		return 0, errs.Persistence(err, "get membership", "room", roomID)
	}
	n, err := s.db.CountUnread(ctx, roomID, m.LastReadSeq)
	if err != nil {
		return 0, errs.Persistence(err, "count unread", "room", roomID)
	}
	return n, nil
}

func (s *Service) requireMember(ctx context.Context, roomID, profileID string) error {
	_, err := s.db.GetMembership(ctx, roomID, profileID)
	if errors.Is(err, store.ErrNoRows) {
		return s.notMember(ctx, roomID)
	}
	if err != nil {
		return errs.Persistence(err, "get membership", "room", roomID)
	}
	return nil
}

// notMember distinguishes a missing room from a room the caller cannot see.
func (s *Service) notMember(ctx context.Context, roomID string) error {
	_, err := s.db.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNoRows) {
		return errs.ErrNotFound.WrapMsg("room", "id", roomID)
	}
	if err != nil {
		return errs.Persistence(err, "get room", "id", roomID)
	}
	return errs.ErrForbidden.WrapMsg("not a member of room", "room", roomID)
}
