package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"moodchat/data/store"
	"moodchat/module/chat/model"
)

const linkCols = `id, user_id, friend_id, status, pair_key, created_at, updated_at`

func scanLink(row rowScanner) (*model.FriendLink, error) {
	var l model.FriendLink
	if err := row.Scan(&l.ID, &l.RequesterID, &l.RecipientID, &l.Status, &l.PairKey, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

// InsertFriendLink fails with store.ErrDuplicate while the pair already has a link.
func (s *Store) InsertFriendLink(ctx context.Context, l *model.FriendLink) error {
	l.PairKey = model.PairKey(l.RequesterID, l.RecipientID)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO friends (`+linkCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.RequesterID, l.RecipientID, l.Status, l.PairKey, l.CreatedAt, l.UpdatedAt)
	return translate(err)
}

func (s *Store) GetFriendLink(ctx context.Context, id string) (*model.FriendLink, error) {
	return scanLink(s.pool.QueryRow(ctx, `SELECT `+linkCols+` FROM friends WHERE id = $1`, id))
}

func (s *Store) GetFriendLinkByPair(ctx context.Context, pairKey string) (*model.FriendLink, error) {
	return scanLink(s.pool.QueryRow(ctx, `SELECT `+linkCols+` FROM friends WHERE pair_key = $1`, pairKey))
}

// UpdateFriendLinkStatus only applies while the link is in from.
func (s *Store) UpdateFriendLinkStatus(ctx context.Context, id string, from, to model.FriendStatus, at time.Time) (*model.FriendLink, error) {
	return scanLink(s.pool.QueryRow(ctx,
		`UPDATE friends SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2 RETURNING `+linkCols,
		id, from, to, at))
}

// DeleteFriendLink removes the link only while it is in status.
func (s *Store) DeleteFriendLink(ctx context.Context, id string, status model.FriendStatus) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM friends WHERE id = $1 AND status = $2`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNoRows
	}
	return nil
}

// ListFriendLinks returns newest first.
func (s *Store) ListFriendLinks(ctx context.Context, userID string, f model.LinkFilter) ([]*model.FriendLink, error) {
	where, args := linkFilter(userID, f)
	rows, err := s.pool.Query(ctx,
		`SELECT `+linkCols+` FROM friends WHERE `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.FriendLink, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func linkFilter(userID string, f model.LinkFilter) (string, []any) {
	args := []any{userID}
	var conds []string
	switch f.Role {
	case model.RoleRequester:
		conds = append(conds, "user_id = $1")
	case model.RoleRecipient:
		conds = append(conds, "friend_id = $1")
	default:
		conds = append(conds, "(user_id = $1 OR friend_id = $1)")
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}
