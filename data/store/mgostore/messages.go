package mgostore

import (
	"context"
	"time"

	"moodchat/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertMessage advances the room seq and stores the message in one
// transaction; concurrent appends to a room conflict on the room document
// and are retried by the driver. m is updated in place.
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	// mongo 只保存到毫秒
	createdAt := m.CreatedAt.UTC().Truncate(time.Millisecond)

	err := s.cli.Tx(ctx, func(sc mongo.SessionContext) error {
		// 1) seq ++
		var r model.Room
		err := s.rooms.FindOneAndUpdate(sc,
			bson.M{"_id": m.RoomID},
			bson.M{"$inc": bson.M{"last_seq": 1}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&r)
		if err != nil {
			return err
		}
		m.Seq = r.LastSeq
		m.CreatedAt = createdAt
		// 严格晚于上一条，seq 顺序即 (created_at, id) 顺序
		if !m.CreatedAt.After(r.LastMessageAt) {
			m.CreatedAt = r.LastMessageAt.Add(time.Millisecond)
		}

		// 2) 房间活跃时间
		if _, err := s.rooms.UpdateByID(sc, m.RoomID, bson.M{"$max": bson.M{
			"last_message_at": m.CreatedAt,
			"updated_at":      m.CreatedAt,
		}}); err != nil {
			return err
		}

		// 3) 消息本体；client_msg_id 重复时整个事务回滚
		_, err = s.messages.InsertOne(sc, m)
		return err
	})
	return translate(err)
}

func (s *Store) GetMessageByClientID(ctx context.Context, senderID, clientMsgID string) (*model.Message, error) {
	return findOne[model.Message](ctx, s.messages, bson.M{"sender_id": senderID, "client_msg_id": clientMsgID})
}

// ListMessages returns messages with seq > afterSeq in ascending order; limit <= 0 means all.
func (s *Store) ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findAll[model.Message](ctx, s.messages,
		bson.M{"chat_room_id": roomID, "seq": bson.M{"$gt": afterSeq}}, opts)
}

func (s *Store) LastMessage(ctx context.Context, roomID string) (*model.Message, error) {
	return findOne[model.Message](ctx, s.messages, bson.M{"chat_room_id": roomID},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}))
}

// CountUnread counts every message after afterSeq, whoever sent it.
func (s *Store) CountUnread(ctx context.Context, roomID string, afterSeq int64) (int64, error) {
	return s.messages.CountDocuments(ctx, bson.M{
		"chat_room_id": roomID,
		"seq":          bson.M{"$gt": afterSeq},
	})
}
