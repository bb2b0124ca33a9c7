package pgstore

import (
	"context"
	"strings"

	"moodchat/data/store"
	"moodchat/module/chat/model"
)

const profileCols = `id, name, email, avatar_url, created_at, updated_at`

func scanProfile(row rowScanner) (*model.Profile, error) {
	var p model.Profile
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Store) InsertProfile(ctx context.Context, p *model.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (`+profileCols+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, model.NormalizeEmail(p.Email), p.AvatarURL, p.CreatedAt, p.UpdatedAt)
	return translate(err)
}

func (s *Store) UpdateProfile(ctx context.Context, p *model.Profile) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles SET name = $2, avatar_url = $3, updated_at = $4 WHERE id = $1`,
		p.ID, p.Name, p.AvatarURL, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNoRows
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = $1`, id))
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE email = $1`, model.NormalizeEmail(email)))
}

// GetProfiles returns the profiles that exist, in the order of ids.
func (s *Store) GetProfiles(ctx context.Context, ids []string) ([]*model.Profile, error) {
	if len(ids) == 0 {
		return []*model.Profile{}, nil
	}
	found, err := s.queryProfiles(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = ANY($1)`, ids)
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
	return s.queryProfiles(ctx,
		`SELECT `+profileCols+` FROM profiles
		 WHERE email LIKE '%' || $1 || '%' ESCAPE '\' AND id <> $2
		 ORDER BY email LIMIT $3`,
		escapeLike(q), excludeID, pgLimit(limit))
}

func (s *Store) queryProfiles(ctx context.Context, sql string, args ...any) ([]*model.Profile, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
