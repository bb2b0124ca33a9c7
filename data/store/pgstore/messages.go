package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"moodchat/module/chat/model"

	"github.com/jackc/pgx/v5"
)

const messageCols = `id, chat_room_id, sender_id, message, message_type, metadata, client_msg_id, seq, created_at`

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m        model.Message
		metadata []byte
		clientID *string
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Body, &m.Type, &metadata, &clientID, &m.Seq, &m.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	if len(metadata) > 0 {
		var p model.SharePayload
		if err := json.Unmarshal(metadata, &p); err != nil {
			return nil, err
		}
		m.Metadata = &p
	}
	if clientID != nil {
		m.ClientMsgID = *clientID
	}
	return &m, nil
}

// InsertMessage takes the room row lock to advance the seq, so appends to
// one room commit in seq order. m is updated in place.
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	var metadata []byte
	if m.Metadata != nil {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return err
		}
		metadata = b
	}
	// timestamptz 精度为微秒
	createdAt := m.CreatedAt.Truncate(time.Microsecond)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var lastAt time.Time
		err := tx.QueryRow(ctx,
			`UPDATE chat_rooms SET last_seq = last_seq + 1 WHERE id = $1 RETURNING last_seq, last_message_at`,
			m.RoomID).Scan(&m.Seq, &lastAt)
		if err != nil {
			return err
		}
		m.CreatedAt = createdAt
		// 严格晚于上一条，seq 顺序即 (created_at, id) 顺序
		if !m.CreatedAt.After(lastAt) {
			m.CreatedAt = lastAt.Add(time.Microsecond)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE chat_rooms SET last_message_at = $2, updated_at = GREATEST(updated_at, $2) WHERE id = $1`,
			m.RoomID, m.CreatedAt); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO chat_messages (`+messageCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.ID, m.RoomID, m.SenderID, m.Body, m.Type, metadata, nullString(m.ClientMsgID), m.Seq, m.CreatedAt)
		return err
	})
	return translate(err)
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	return scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM chat_messages WHERE id = $1`, id))
}

func (s *Store) GetMessageByClientID(ctx context.Context, senderID, clientMsgID string) (*model.Message, error) {
	return scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM chat_messages WHERE sender_id = $1 AND client_msg_id = $2`,
		senderID, clientMsgID))
}

// ListMessages returns messages with seq > afterSeq in ascending order; limit <= 0 means all.
func (s *Store) ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]*model.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM chat_messages WHERE chat_room_id = $1 AND seq > $2 ORDER BY seq LIMIT $3`,
		roomID, afterSeq, pgLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) LastMessage(ctx context.Context, roomID string) (*model.Message, error) {
	return scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM chat_messages WHERE chat_room_id = $1 ORDER BY seq DESC LIMIT 1`, roomID))
}

// CountUnread counts every message after afterSeq, whoever sent it.
func (s *Store) CountUnread(ctx context.Context, roomID string, afterSeq int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chat_messages WHERE chat_room_id = $1 AND seq > $2`,
		roomID, afterSeq).Scan(&n)
	return n, err
}
