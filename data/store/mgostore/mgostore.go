// Package mgostore is the MongoDB backend. Uniqueness rules live in indexes
// (pair_key, direct_key, email, client_msg_id) and the per-room seq counter
// is advanced inside a transaction; feed events come from Watcher.
package mgostore

import (
	"context"
	"errors"

	"moodchat/data/database"
	"moodchat/data/database/mgo/mongoutil"
	"moodchat/data/store"
	"moodchat/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type Store struct {
	cli *mongoutil.Client
	db  *mongo.Database

	profiles     *mongo.Collection
	friends      *mongo.Collection
	rooms        *mongo.Collection
	participants *mongo.Collection
	messages     *mongo.Collection
}

func New(cli *mongoutil.Client) *Store {
	db := cli.GetDB()
	return &Store{
		cli:          cli,
		db:           db,
		profiles:     db.Collection(database.TableProfiles),
		friends:      db.Collection(database.TableFriends),
		rooms:        db.Collection(database.TableRooms),
		participants: db.Collection(database.TableParticipants),
		messages:     db.Collection(database.TableMessages),
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.cli.Ping(ctx) }

func (s *Store) Close(ctx context.Context) error { return s.cli.Close(ctx) }

// EnsureSchema creates the indexes the services rely on and enables
// pre-images on friends so deletes can still be routed to both profiles.
func (s *Store) EnsureSchema(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.profiles: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		s.friends: {
			{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "friend_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		s.rooms: {
			{Keys: bson.D{{Key: "direct_key", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "member_ids", Value: 1}, {Key: "updated_at", Value: -1}}},
		},
		s.participants: {
			{Keys: bson.D{{Key: "chat_room_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		s.messages: {
			{Keys: bson.D{{Key: "chat_room_id", Value: 1}, {Key: "seq", Value: 1}}, Options: options.Index().SetUnique(true)},
			{
				Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "client_msg_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"client_msg_id": bson.M{"$exists": true}}),
			},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return mongoutil.WrapIndexErr(err, coll.Name())
		}
	}

	// 需要 MongoDB 6.0+，旧版本只记录告警，删除事件将无法路由
	for _, name := range []string{database.TableFriends} {
		cmd := bson.D{{Key: "collMod", Value: name}, {Key: "changeStreamPreAndPostImages", Value: bson.M{"enabled": true}}}
		if err := s.db.RunCommand(ctx, cmd).Err(); err != nil {
			logger.Warn("mgostore: enable pre-images", zap.String("collection", name), zap.Error(err))
		}
	}
	return nil
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNoRows
	case mongo.IsDuplicateKeyError(err):
		return store.ErrDuplicate
	default:
		return err
	}
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOneOptions) (*T, error) {
	var out T
	if err := coll.FindOne(ctx, filter, opts...).Decode(&out); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]*T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]*T, 0)
	for cur.Next(ctx) {
		var v T
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, cur.Err()
}
