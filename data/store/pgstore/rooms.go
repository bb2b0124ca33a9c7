package pgstore

import (
	"context"
	"time"

	"moodchat/module/chat/model"

	"github.com/jackc/pgx/v5"
)

const roomCols = `id, name, is_direct_message, created_by, direct_key, member_ids, last_seq, last_message_at, created_at, updated_at`

func scanRoom(row rowScanner) (*model.Room, error) {
	var (
		r         model.Room
		directKey *string
	)
	err := row.Scan(&r.ID, &r.Name, &r.IsDirect, &r.CreatedBy, &directKey, &r.MemberIDs,
		&r.LastSeq, &r.LastMessageAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	if directKey != nil {
		r.DirectKey = *directKey
	}
	return &r, nil
}

const memberCols = `chat_room_id, user_id, last_read_at, last_read_seq, joined_at`

func scanMembership(row rowScanner) (*model.Membership, error) {
	var m model.Membership
	if err := row.Scan(&m.RoomID, &m.UserID, &m.LastReadAt, &m.LastReadSeq, &m.JoinedAt); err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// CreateRoom inserts the room and its memberships in one transaction. A taken
// direct_key fails with store.ErrDuplicate and writes nothing.
func (s *Store) CreateRoom(ctx context.Context, r *model.Room, members []*model.Membership) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO chat_rooms (`+roomCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, r.Name, r.IsDirect, r.CreatedBy, nullString(r.DirectKey), r.MemberIDs,
			r.LastSeq, r.LastMessageAt, r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, m := range members {
			batch.Queue(`INSERT INTO chat_participants (`+memberCols+`) VALUES ($1, $2, $3, $4, $5)`,
				m.RoomID, m.UserID, m.LastReadAt, m.LastReadSeq, m.JoinedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return translate(err)
}

func (s *Store) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomCols+` FROM chat_rooms WHERE id = $1`, id))
}

func (s *Store) GetRoomByDirectKey(ctx context.Context, key string) (*model.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomCols+` FROM chat_rooms WHERE direct_key = $1`, key))
}

// ListRoomsForUser returns rooms most recently updated first.
func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]*model.Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roomCols+` FROM chat_rooms WHERE member_ids @> ARRAY[$1]::text[] ORDER BY updated_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Room, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListMemberships(ctx context.Context, roomID string) ([]*model.Membership, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memberCols+` FROM chat_participants WHERE chat_room_id = $1 ORDER BY user_id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetMembership(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	return scanMembership(s.pool.QueryRow(ctx,
		`SELECT `+memberCols+` FROM chat_participants WHERE chat_room_id = $1 AND user_id = $2`, roomID, userID))
}

// MarkRead moves the cursor to the room's current sequence; GREATEST keeps it from moving backwards.
func (s *Store) MarkRead(ctx context.Context, roomID, userID string, at time.Time) (*model.Membership, error) {
	return scanMembership(s.pool.QueryRow(ctx,
		`UPDATE chat_participants p
		 SET last_read_seq = GREATEST(p.last_read_seq, r.last_seq),
		     last_read_at  = GREATEST(p.last_read_at, $3)
		 FROM chat_rooms r
		 WHERE r.id = p.chat_room_id AND p.chat_room_id = $1 AND p.user_id = $2
		 RETURNING p.chat_room_id, p.user_id, p.last_read_at, p.last_read_seq, p.joined_at`,
		roomID, userID, at))
}
