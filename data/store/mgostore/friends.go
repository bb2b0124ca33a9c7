package mgostore

import (
	"context"
	"time"

	"moodchat/data/store"
	"moodchat/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertFriendLink fails with store.ErrDuplicate while the pair already has a link.
func (s *Store) InsertFriendLink(ctx context.Context, l *model.FriendLink) error {
	l.PairKey = model.PairKey(l.RequesterID, l.RecipientID)
	_, err := s.friends.InsertOne(ctx, l)
	return translate(err)
}

func (s *Store) GetFriendLink(ctx context.Context, id string) (*model.FriendLink, error) {
	return findOne[model.FriendLink](ctx, s.friends, bson.M{"_id": id})
}

func (s *Store) GetFriendLinkByPair(ctx context.Context, pairKey string) (*model.FriendLink, error) {
	return findOne[model.FriendLink](ctx, s.friends, bson.M{"pair_key": pairKey})
}

// UpdateFriendLinkStatus only applies while the link is in from.
func (s *Store) UpdateFriendLinkStatus(ctx context.Context, id string, from, to model.FriendStatus, at time.Time) (*model.FriendLink, error) {
	var out model.FriendLink
	err := s.friends.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

// DeleteFriendLink removes the link only while it is in status.
func (s *Store) DeleteFriendLink(ctx context.Context, id string, status model.FriendStatus) error {
	res, err := s.friends.DeleteOne(ctx, bson.M{"_id": id, "status": status})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNoRows
	}
	return nil
}

// ListFriendLinks returns newest first.
func (s *Store) ListFriendLinks(ctx context.Context, userID string, f model.LinkFilter) ([]*model.FriendLink, error) {
	filter := bson.M{}
	switch f.Role {
	case model.RoleRequester:
		filter["user_id"] = userID
	case model.RoleRecipient:
		filter["friend_id"] = userID
	default:
		filter["$or"] = bson.A{bson.M{"user_id": userID}, bson.M{"friend_id": userID}}
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	return findAll[model.FriendLink](ctx, s.friends, filter, opts)
}
