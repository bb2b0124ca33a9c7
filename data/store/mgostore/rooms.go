package mgostore

import (
	"context"
	"time"

	"moodchat/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateRoom inserts the room and its memberships in one transaction. A taken
// direct_key fails with store.ErrDuplicate and writes nothing.
func (s *Store) CreateRoom(ctx context.Context, r *model.Room, members []*model.Membership) error {
	err := s.cli.Tx(ctx, func(sc mongo.SessionContext) error {
		if _, err := s.rooms.InsertOne(sc, r); err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		docs := make([]any, 0, len(members))
		for _, m := range members {
			docs = append(docs, m)
		}
		_, err := s.participants.InsertMany(sc, docs)
		return err
	})
	return translate(err)
}

func (s *Store) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	return findOne[model.Room](ctx, s.rooms, bson.M{"_id": id})
}

func (s *Store) GetRoomByDirectKey(ctx context.Context, key string) (*model.Room, error) {
	return findOne[model.Room](ctx, s.rooms, bson.M{"direct_key": key})
}

// ListRoomsForUser returns rooms most recently updated first.
func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]*model.Room, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}})
	return findAll[model.Room](ctx, s.rooms, bson.M{"member_ids": userID}, opts)
}

func (s *Store) ListMemberships(ctx context.Context, roomID string) ([]*model.Membership, error) {
	opts := options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}})
	return findAll[model.Membership](ctx, s.participants, bson.M{"chat_room_id": roomID}, opts)
}

func (s *Store) GetMembership(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	return findOne[model.Membership](ctx, s.participants, bson.M{"chat_room_id": roomID, "user_id": userID})
}

// MarkRead moves the cursor to the room's current sequence; $max keeps it from moving backwards.
func (s *Store) MarkRead(ctx context.Context, roomID, userID string, at time.Time) (*model.Membership, error) {
	r, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var out model.Membership
	err = s.participants.FindOneAndUpdate(ctx,
		bson.M{"chat_room_id": roomID, "user_id": userID},
		bson.M{"$max": bson.M{"last_read_seq": r.LastSeq, "last_read_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}
