package user

import (
	"context"
	"errors"
	"time"

	rcache "github.com/open-builders/campaign-bot/internal/cache/redis"
	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	domain "github.com/open-builders/campaign-bot/internal/domain/user"
	"github.com/open-builders/campaign-bot/internal/utils/random"
)

const referralCodeAttempts = 5

// Service orchestrates user access with repository and cache.
type Service struct {
	repo   domain.Repository
	cache  *rcache.UserCache
	nowFn  func() time.Time
	codeFn func() (string, error)
}

func NewService(repo domain.Repository, cache *rcache.UserCache) *Service {
	return &Service{repo: repo, cache: cache, nowFn: time.Now, codeFn: newReferralCode}
}

func newReferralCode() (string, error) { return random.Hex(4) }

// GetByID returns the user or a USER_NOT_FOUND error.
func (s *Service) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	if s.cache != nil {
		if u, err := s.cache.GetByID(ctx, id); err == nil && u != nil {
			return u, nil
		}
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get user", err)
	}
	if u == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user %d not found", id)
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, u)
	}
	return u, nil
}

// Touch creates the user on first contact or refreshes the Telegram profile.
// A referral code collision on first contact is retried with a fresh code.
// Returns the stored user including balance and linked accounts.
func (s *Service) Touch(ctx context.Context, id int64, username, firstName string) (*domain.User, error) {
	now := s.nowFn().UTC()
	for attempt := 1; ; attempt++ {
		code, err := s.codeFn()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "generate referral code")
		}
		u := &domain.User{ID: id, Username: username, FirstName: firstName, ReferralCode: code, CreatedAt: now, UpdatedAt: now}
		err = s.repo.Upsert(ctx, u)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrReferralCodeTaken) {
			return nil, apperrors.NewDatabaseError("upsert user", err)
		}
		if attempt == referralCodeAttempts {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "allocate referral code")
		}
	}
	s.Invalidate(ctx, id)
	return s.GetByID(ctx, id)
}

// AttachReferrer links userID to the owner of code. Self-referral and re-attachment are rejected.
func (s *Service) AttachReferrer(ctx context.Context, userID int64, code string) (*domain.User, error) {
	ref, err := s.repo.GetByReferralCode(ctx, code)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get referrer", err)
	}
	if ref == nil {
		return nil, apperrors.NewValidationError("referral_code", "unknown referral code")
	}
	if ref.ID == userID {
		return nil, apperrors.NewValidationError("referral_code", "cannot refer yourself")
	}
	if err := s.repo.SetReferrer(ctx, userID, ref.ID); err != nil {
		if errors.Is(err, domain.ErrReferrerAlreadySet) {
			return nil, apperrors.New(apperrors.ErrCodeConflict, "referrer already set")
		}
		return nil, apperrors.NewDatabaseError("set referrer", err)
	}
	s.Invalidate(ctx, userID)
	return ref, nil
}

// ActivatePremium extends premium to now+period. A later existing expiry is kept.
func (s *Service) ActivatePremium(ctx context.Context, userID int64, period time.Duration) error {
	until := s.nowFn().UTC().Add(period)
	if err := s.repo.ActivatePremium(ctx, userID, until); err != nil {
		return apperrors.NewDatabaseError("activate premium", err)
	}
	s.Invalidate(ctx, userID)
	return nil
}

// Invalidate drops the cached profile after any write.
func (s *Service) Invalidate(ctx context.Context, id int64) {
	if s != nil && s.cache != nil {
		_ = s.cache.Invalidate(ctx, id)
	}
}
