package memstore

import (
	"context"
	"sort"
	"strings"

	"moodchat/data/store"
	"moodchat/module/chat/model"
)

func (s *Store) InsertProfile(ctx context.Context, p *model.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	email := model.NormalizeEmail(p.Email)
	if _, ok := s.profiles[p.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.emails[email]; ok && email != "" {
		return store.ErrDuplicate
	}
	c := cloneProfile(p)
	c.Email = email
	s.profiles[c.ID] = c
	if email != "" {
		s.emails[email] = c.ID
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, p *model.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.profiles[p.ID]
	if !ok {
		return store.ErrNoRows
	}
	cur.Name = p.Name
	cur.AvatarURL = p.AvatarURL
	cur.UpdatedAt = p.UpdatedAt
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNoRows
	}
	return cloneProfile(p), nil
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[model.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNoRows
	}
	return cloneProfile(s.profiles[id]), nil
}

// GetProfiles returns the profiles that exist, in the order of ids.
func (s *Store) GetProfiles(ctx context.Context, ids []string) ([]*model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, cloneProfile(p))
		}
	}
	return out, nil
}

func (s *Store) SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]*model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	matches := make([]*model.Profile, 0)
	for _, p := range s.profiles {
		if p.ID == excludeID {
			continue
		}
		if strings.Contains(p.Email, q) {
			matches = append(matches, cloneProfile(p))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Email < matches[j].Email })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
