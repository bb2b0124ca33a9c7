package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"moodchat/data/database"
	"moodchat/data/store"
	"moodchat/logger"
	"moodchat/module/chat/model"
	"moodchat/module/feed"

	"go.uber.org/zap"
)

// notification is the payload built by moodchat_notify().
type notification struct {
	Table  string          `json:"table"`
	Op     string          `json:"op"`
	ID     string          `json:"id,omitempty"`
	RoomID string          `json:"room_id,omitempty"`
	UserID string          `json:"user_id,omitempty"`
	Row    json.RawMessage `json:"row,omitempty"`
}

// friendRow is to_jsonb(friends) with column names as keys.
type friendRow struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	FriendID  string             `json:"friend_id"`
	Status    model.FriendStatus `json:"status"`
	PairKey   string             `json:"pair_key"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func parseNotification(payload string) (notification, feed.Op, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return n, "", err
	}
	switch n.Op {
	case "insert":
		return n, feed.OpInsert, nil
	case "update":
		return n, feed.OpUpdate, nil
	case "delete":
		return n, feed.OpDelete, nil
	default:
		return n, "", fmt.Errorf("unknown op %q", n.Op)
	}
}

// Listener holds one connection on LISTEN and republishes notifications as
// feed events. Postgres delivers notifications in commit order and one
// goroutine publishes them, so per-topic order is preserved.
type Listener struct {
	s   *Store
	pub feed.Publisher
	log *zap.Logger
}

func (s *Store) NewListener(pub feed.Publisher) *Listener {
	return &Listener{s: s, pub: pub, log: logger.Named("pgstore.listen")}
}

// Run blocks until ctx is done, re-acquiring the connection on failure.
func (l *Listener) Run(ctx context.Context) error {
	backoff := 200 * time.Millisecond
	for {
		err := l.once(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("listen interrupted", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (l *Listener) once(ctx context.Context) error {
	conn, err := l.s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if err := l.handle(ctx, n.Payload); err != nil {
			l.log.Warn("drop notification", zap.String("payload", n.Payload), zap.Error(err))
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload string) error {
	n, op, err := parseNotification(payload)
	if err != nil {
		return err
	}
	rec, err := l.load(ctx, n)
	if errors.Is(err, store.ErrNoRows) {
		return nil // 行已被后续事务删除
	}
	if err != nil {
		return err
	}
	events, err := store.EventsFor(op, rec, time.Now())
	if err != nil || len(events) == 0 {
		return err
	}
	return l.pub.Publish(ctx, events...)
}

func (l *Listener) load(ctx context.Context, n notification) (database.Table, error) {
	switch n.Table {
	case database.TableFriends:
		return n.friendLink()
	case database.TableRooms:
		return l.s.GetRoom(ctx, n.ID)
	case database.TableParticipants:
		return l.s.GetMembership(ctx, n.RoomID, n.UserID)
	case database.TableMessages:
		return l.s.GetMessage(ctx, n.ID)
	default:
		return nil, fmt.Errorf("unexpected table %q", n.Table)
	}
}

func (n notification) friendLink() (*model.FriendLink, error) {
	if len(n.Row) == 0 {
		return nil, errors.New("friends notification without row")
	}
	var r friendRow
	if err := json.Unmarshal(n.Row, &r); err != nil {
		return nil, err
	}
	return &model.FriendLink{
		ID:          r.ID,
		RequesterID: r.UserID,
		RecipientID: r.FriendID,
		Status:      r.Status,
		PairKey:     r.PairKey,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}
