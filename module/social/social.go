// Package social owns the friend-request lifecycle.
//
//	(no link) --A requests--> pending(A→B) --B accepts--> accepted
//	pending(A→B) --B rejects--> (no link)    accepted --either removes--> (no link)
//	pending(A→B) --A cancels--> (no link)
//
// The store keeps at most one row per unordered pair (unique pair_key), so
// two users requesting each other at the same time cannot both succeed.
package social

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"moodchat/data/store"
	"moodchat/logger"
	"moodchat/module/chat/model"
	"moodchat/service/storage"
	"moodchat/tools/errs"
	"moodchat/tools/ids"

	"go.uber.org/zap"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultTokenTTL = 24 * time.Hour

	tokenPending = "pending"
)

type DB interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error)
	GetProfiles(ctx context.Context, ids []string) ([]*model.Profile, error)

	InsertFriendLink(ctx context.Context, l *model.FriendLink) error
	GetFriendLink(ctx context.Context, id string) (*model.FriendLink, error)
	GetFriendLinkByPair(ctx context.Context, pairKey string) (*model.FriendLink, error)
	UpdateFriendLinkStatus(ctx context.Context, id string, from, to model.FriendStatus, at time.Time) (*model.FriendLink, error)
	DeleteFriendLink(ctx context.Context, id string, status model.FriendStatus) error
	ListFriendLinks(ctx context.Context, userID string, f model.LinkFilter) ([]*model.FriendLink, error)
}

type Options struct {
	Timeout  time.Duration
	TokenTTL time.Duration // 幂等 token 保留时长
	Clock    func() time.Time
}

type Service struct {
	db       DB
	tokens   storage.TokenStore
	timeout  time.Duration
	tokenTTL time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewService wires the manager; tokens may be nil, which disables idempotent retries.
func NewService(db DB, tokens storage.TokenStore, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		db:       db,
		tokens:   tokens,
		timeout:  opts.Timeout,
		tokenTTL: opts.TokenTTL,
		now:      opts.Clock,
		log:      logger.Named("social"),
	}
}

// SendRequest creates a pending link requester → owner of recipientEmail.
// With a non-empty token, a retry of the same call returns the link the first call created.
func (s *Service) SendRequest(ctx context.Context, requesterID, recipientEmail, token string) (*model.FriendLink, error) {
	email := model.NormalizeEmail(recipientEmail)
	if email == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("recipient email is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.GetProfile(ctx, requesterID); err != nil {
		return nil, notFoundOr(err, "requester profile", "id", requesterID)
	}
	recipient, err := s.db.GetProfileByEmail(ctx, email)
	if err != nil {
		return nil, notFoundOr(err, "recipient profile", "email", email)
	}
	if recipient.ID == requesterID {
		return nil, errs.ErrInvalidOperation.WrapMsg("cannot send a friend request to yourself")
	}

	var key string
	if token = strings.TrimSpace(token); token != "" && s.tokens != nil {
		key = "friend-request:" + requesterID + ":" + token
		prev, err := s.claimToken(ctx, key)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			return prev, nil
		}
	}

	now := s.now()
	link := &model.FriendLink{
		ID:          ids.GenerateString(),
		RequesterID: requesterID,
		RecipientID: recipient.ID,
		Status:      model.FriendPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.InsertFriendLink(ctx, link); err != nil {
		s.releaseToken(key)
		if errors.Is(err, store.ErrDuplicate) {
			return nil, errs.ErrConflict.WrapMsg("an active friend link already exists", "pair", model.PairKey(requesterID, recipient.ID))
		}
		return nil, errs.Persistence(err, "insert friend link")
	}
	if key != "" {
		if err := s.tokens.Set(ctx, key, link.ID, s.tokenTTL); err != nil {
			s.log.Warn("store idempotency result", zap.String("key", key), zap.Error(err))
		}
	}
	s.log.Debug("friend request sent", zap.String("link", link.ID), zap.String("from", requesterID), zap.String("to", recipient.ID))
	return link, nil
}

// claimToken returns the link of an earlier attempt, or nil when this call owns the token.
func (s *Service) claimToken(ctx context.Context, key string) (*model.FriendLink, error) {
	stored, claimed, err := s.tokens.Claim(ctx, key, tokenPending, s.tokenTTL)
	if err != nil {
		return nil, errs.Persistence(err, "claim idempotency token")
	}
	if claimed {
		return nil, nil
	}
	if stored == tokenPending {
		return nil, errs.ErrConflict.WrapMsg("request with this idempotency key is in flight")
	}
	link, err := s.db.GetFriendLink(ctx, stored)
	if errors.Is(err, store.ErrNoRows) {
		return nil, errs.ErrConflict.WrapMsg("idempotency key already consumed", "link", stored)
	}
	if err != nil {
		return nil, errs.Persistence(err, "get friend link", "id", stored)
	}
	return link, nil
}

func (s *Service) releaseToken(key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.tokens.Release(ctx, key); err != nil {
		s.log.Warn("release idempotency token", zap.String("key", key), zap.Error(err))
	}
}

// Accept moves a pending link to accepted; only the recipient may do it.
func (s *Service) Accept(ctx context.Context, linkID, actorID string) (*model.FriendLink, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.guard(ctx, linkID, actorID, model.RoleRecipient); err != nil {
		return nil, err
	}
	link, err := s.db.UpdateFriendLinkStatus(ctx, linkID, model.FriendPending, model.FriendAccepted, s.now())
	if err != nil {
		return nil, s.lostRace(ctx, err, linkID)
	}
	return link, nil
}

// Reject deletes a pending link; only the recipient may do it.
func (s *Service) Reject(ctx context.Context, linkID, actorID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.guard(ctx, linkID, actorID, model.RoleRecipient); err != nil {
		return err
	}
	if err := s.db.DeleteFriendLink(ctx, linkID, model.FriendPending); err != nil {
		return s.lostRace(ctx, err, linkID)
	}
	return nil
}

// Cancel deletes a pending link; only the requester may do it.
func (s *Service) Cancel(ctx context.Context, linkID, actorID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.guard(ctx, linkID, actorID, model.RoleRequester); err != nil {
		return err
	}
	if err := s.db.DeleteFriendLink(ctx, linkID, model.FriendPending); err != nil {
		return s.lostRace(ctx, err, linkID)
	}
	return nil
}

// Remove ends the friendship between actorID and otherID, whichever side asked first.
func (s *Service) Remove(ctx context.Context, actorID, otherID string) error {
	if actorID == otherID {
		return errs.ErrInvalidOperation.WrapMsg("cannot unfriend yourself")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	link, err := s.db.GetFriendLinkByPair(ctx, model.PairKey(actorID, otherID))
	if err != nil {
		return notFoundOr(err, "friendship", "pair", model.PairKey(actorID, otherID))
	}
	if link.Status != model.FriendAccepted {
		return errs.ErrNotFound.WrapMsg("friendship", "pair", link.PairKey, "status", link.Status)
	}
	if err := s.db.DeleteFriendLink(ctx, link.ID, model.FriendAccepted); err != nil {
		return notFoundOr(err, "friendship", "id", link.ID)
	}
	return nil
}

// guard checks NotFound, then Forbidden, then InvalidState.
func (s *Service) guard(ctx context.Context, linkID, actorID string, role model.LinkRole) (*model.FriendLink, error) {
	link, err := s.db.GetFriendLink(ctx, linkID)
	if err != nil {
		return nil, notFoundOr(err, "friend link", "id", linkID)
	}
	switch role {
	case model.RoleRecipient:
		if link.RecipientID != actorID {
			return nil, errs.ErrForbidden.WrapMsg("only the recipient may answer a request", "link", linkID)
		}
	case model.RoleRequester:
		if link.RequesterID != actorID {
			return nil, errs.ErrForbidden.WrapMsg("only the requester may cancel a request", "link", linkID)
		}
	}
	if link.Status != model.FriendPending {
		return nil, errs.ErrInvalidState.WrapMsg("friend link is not pending", "link", linkID, "status", link.Status)
	}
	return link, nil
}

// lostRace explains a failed compare-and-set by re-reading the link.
func (s *Service) lostRace(ctx context.Context, err error, linkID string) error {
	if !errors.Is(err, store.ErrNoRows) {
		return errs.Persistence(err, "update friend link", "id", linkID)
	}
	cur, rerr := s.db.GetFriendLink(ctx, linkID)
	if errors.Is(rerr, store.ErrNoRows) {
		return errs.ErrNotFound.WrapMsg("friend link", "id", linkID)
	}
	if rerr != nil {
		return errs.Persistence(rerr, "re-read friend link", "id", linkID)
	}
	return errs.ErrInvalidState.WrapMsg("friend link changed concurrently", "link", linkID, "status", cur.Status)
}

// ListFriends returns every profile with an accepted link to id, sorted by name then id.
func (s *Service) ListFriends(ctx context.Context, id string) ([]*model.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	links, err := s.db.ListFriendLinks(ctx, id, model.LinkFilter{Role: model.RoleEither, Status: model.FriendAccepted})
	if err != nil {
		return nil, errs.Persistence(err, "list friend links", "id", id)
	}
	others := make([]string, 0, len(links))
	for _, l := range links {
		others = append(others, l.Other(id))
	}
	if len(others) == 0 {
		return []*model.Profile{}, nil
	}
	profiles, err := s.db.GetProfiles(ctx, others)
	if err != nil {
		return nil, errs.Persistence(err, "get friend profiles")
	}
	sort.SliceStable(profiles, func(i, j int) bool {
		ni, nj := strings.ToLower(profiles[i].DisplayName()), strings.ToLower(profiles[j].DisplayName())
		if ni != nj {
			return ni < nj
		}
		return profiles[i].ID < profiles[j].ID
	})
	return profiles, nil
}

// ListPending returns incoming pending requests, newest first.
func (s *Service) ListPending(ctx context.Context, id string) ([]*model.FriendLink, error) {
	return s.list(ctx, id, model.RoleRecipient)
}

// ListSent returns outgoing pending requests, newest first.
func (s *Service) ListSent(ctx context.Context, id string) ([]*model.FriendLink, error) {
	return s.list(ctx, id, model.RoleRequester)
}

func (s *Service) list(ctx context.Context, id string, role model.LinkRole) ([]*model.FriendLink, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	links, err := s.db.ListFriendLinks(ctx, id, model.LinkFilter{Role: role, Status: model.FriendPending})
	if err != nil {
		return nil, errs.Persistence(err, "list friend requests", "id", id)
	}
	return links, nil
}

func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	link, err := s.db.GetFriendLinkByPair(ctx, model.PairKey(a, b))
	if errors.Is(err, store.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errs.Persistence(err, "get friend link by pair")
	}
	return link.Status == model.FriendAccepted, nil
}

func notFoundOr(err error, what string, kv ...any) error {
	if errors.Is(err, store.ErrNoRows) {
		return errs.ErrNotFound.WrapMsg(what, kv...)
	}
	return errs.Persistence(err, "get "+what, kv...)
}
