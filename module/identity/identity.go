// Package identity maps authenticated accounts onto profiles.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"moodchat/data/store"
	"moodchat/logger"
	"moodchat/module/chat/model"
	"moodchat/tools/errs"

	"go.uber.org/zap"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultSearchLimit = 10
)

type DB interface {
	InsertProfile(ctx context.Context, p *model.Profile) error
	UpdateProfile(ctx context.Context, p *model.Profile) error
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error)
	GetProfiles(ctx context.Context, ids []string) ([]*model.Profile, error)
	SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]*model.Profile, error)
}

type Options struct {
	Timeout     time.Duration
	SearchLimit int
	Clock       func() time.Time
}

type Service struct {
	db          DB
	timeout     time.Duration
	searchLimit int
	now         func() time.Time
}

func NewService(db DB, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = defaultSearchLimit
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{db: db, timeout: opts.Timeout, searchLimit: opts.SearchLimit, now: opts.Clock}
}

// EnsureProfile returns the profile of acct, creating it on first sign-in.
// A concurrent creator wins the insert; the loser re-reads and returns that row.
func (s *Service) EnsureProfile(ctx context.Context, acct model.Account) (*model.Profile, error) {
	if strings.TrimSpace(acct.ID) == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("account id is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := s.db.GetProfile(ctx, acct.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNoRows) {
		return nil, errs.Persistence(err, "get profile", "id", acct.ID)
	}

	now := s.now()
	p = &model.Profile{
		ID:        acct.ID,
		Name:      strings.TrimSpace(acct.Name),
		Email:     model.NormalizeEmail(acct.Email),
		AvatarURL: acct.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.Name == "" {
		p.Name = p.DisplayName()
	}
	err = s.db.InsertProfile(ctx, p)
	switch {
	case err == nil:
		logger.Info("profile created", zap.String("id", p.ID), zap.String("email", p.Email))
		return p, nil
	case errors.Is(err, store.ErrDuplicate):
		existing, rerr := s.db.GetProfile(ctx, acct.ID)
		if rerr == nil {
			return existing, nil
		}
		if errors.Is(rerr, store.ErrNoRows) {
			// 同 email 已被其他账号占用
			return nil, errs.ErrConflict.WrapMsg("email already registered", "email", p.Email)
		}
		return nil, errs.Persistence(rerr, "re-read profile", "id", acct.ID)
	default:
		return nil, errs.Persistence(err, "insert profile", "id", acct.ID)
	}
}

func (s *Service) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := s.db.GetProfile(ctx, id)
	if errors.Is(err, store.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("profile", "id", id)
	}
	if err != nil {
		return nil, errs.Persistence(err, "get profile", "id", id)
	}
	return p, nil
}

func (s *Service) GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := s.db.GetProfileByEmail(ctx, email)
	if errors.Is(err, store.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("profile", "email", model.NormalizeEmail(email))
	}
	if err != nil {
		return nil, errs.Persistence(err, "get profile by email")
	}
	return p, nil
}

// GetProfiles hydrates ids, silently skipping unknown ones.
func (s *Service) GetProfiles(ctx context.Context, ids []string) ([]*model.Profile, error) {
	if len(ids) == 0 {
		return []*model.Profile{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ps, err := s.db.GetProfiles(ctx, ids)
	if err != nil {
		return nil, errs.Persistence(err, "get profiles", "count", len(ids))
	}
	return ps, nil
}

// FindProfilesByEmailPrefix does a case-insensitive partial match on email,
// never returning the caller. limit is clamped to the configured maximum.
func (s *Service) FindProfilesByEmailPrefix(ctx context.Context, callerID, query string, limit int) ([]*model.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*model.Profile{}, nil
	}
	if limit <= 0 || limit > s.searchLimit {
		limit = s.searchLimit
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ps, err := s.db.SearchProfiles(ctx, query, callerID, limit)
	if err != nil {
		return nil, errs.Persistence(err, "search profiles")
	}
	return ps, nil
}

// ProfilePatch holds the editable fields; nil leaves a field unchanged.
type ProfilePatch struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

func (s *Service) UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (*model.Profile, error) {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, errs.ErrInvalidArgument.WrapMsg("name is blank")
		}
		p.Name = name
	}
	if patch.AvatarURL != nil {
		p.AvatarURL = strings.TrimSpace(*patch.AvatarURL)
	}
	p.UpdatedAt = s.now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.UpdateProfile(ctx, p); err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, errs.ErrNotFound.WrapMsg("profile", "id", id)
		}
		return nil, errs.Persistence(err, "update profile", "id", id)
	}
	return p, nil
}
