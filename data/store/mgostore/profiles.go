package mgostore

import (
	"context"
	"regexp"
	"strings"

	"moodchat/data/store"
	"moodchat/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) InsertProfile(ctx context.Context, p *model.Profile) error {
	c := *p
	c.Email = model.NormalizeEmail(p.Email)
	_, err := s.profiles.InsertOne(ctx, &c)
	return translate(err)
}

func (s *Store) UpdateProfile(ctx context.Context, p *model.Profile) error {
	res, err := s.profiles.UpdateByID(ctx, p.ID, bson.M{"$set": bson.M{
		"name":       p.Name,
		"avatar_url": p.AvatarURL,
		"updated_at": p.UpdatedAt,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNoRows
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return findOne[model.Profile](ctx, s.profiles, bson.M{"_id": id})
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return findOne[model.Profile](ctx, s.profiles, bson.M{"email": model.NormalizeEmail(email)})
}

// GetProfiles returns the profiles that exist, in the order of ids.
func (s *Store) GetProfiles(ctx context.Context, ids []string) ([]*model.Profile, error) {
	if len(ids) == 0 {
		return []*model.Profile{}, nil
	}
	found, err := findAll[model.Profile](ctx, s.profiles, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Profile, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	out := make([]*model.Profile, 0, len(found))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// SearchProfiles matches query anywhere in the (lower-cased) email.
func (s *Store) SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]*model.Profile, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	filter := bson.M{
		"email": primitive.Regex{Pattern: regexp.QuoteMeta(q)},
		"_id":   bson.M{"$ne": excludeID},
	}
	opts := options.Find().SetSort(bson.D{{Key: "email", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findAll[model.Profile](ctx, s.profiles, filter, opts)
}
