package verification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	"github.com/open-builders/campaign-bot/internal/common/validation"
	"github.com/open-builders/campaign-bot/internal/domain/user"
	rplatform "github.com/open-builders/campaign-bot/internal/platform/redis"
	"github.com/open-builders/campaign-bot/internal/utils/random"
)

// ChallengeMessage is what a platform reports about a posted/sent challenge code.
type ChallengeMessage struct {
	Found     bool
	SenderID  string
	Timestamp time.Time
}

// ChallengeChecker looks for a message containing code sent by handle at or after since.
// Errors mean the platform could not be queried.
type ChallengeChecker interface {
	CheckChallengeMessage(ctx context.Context, handle, code string, since time.Time) (ChallengeMessage, error)
}

// Notifier is the subset of notifications used here.
type Notifier interface {
	AccountVerified(ctx context.Context, userID int64, acc user.SocialAccount)
}

// Invalidator drops cached user views after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, id int64)
}

// Service implements the challenge-code protocol for linking social accounts.
type Service struct {
	users    user.Repository
	checkers map[user.Platform]ChallengeChecker
	rdb      *rplatform.Client
	notifier Notifier
	cache    Invalidator
	nowFn    func() time.Time
}

func NewService(users user.Repository, checkers map[user.Platform]ChallengeChecker, rdb *rplatform.Client, notifier Notifier, cache Invalidator) *Service {
	return &Service{users: users, checkers: checkers, rdb: rdb, notifier: notifier, cache: cache, nowFn: time.Now}
}

func indexKey(p user.Platform, code string) string { return fmt.Sprintf("verify:challenge:%s:%s", p, code) }

// RequestChallenge issues a fresh code for (userID, platform, handle) valid for user.ChallengeTTL.
func (s *Service) RequestChallenge(ctx context.Context, userID int64, platform user.Platform, handle string) (string, time.Time, error) {
	if !platform.Valid() {
		return "", time.Time{}, apperrors.NewValidationError("platform", "unsupported platform")
	}
	handle = validation.NormalizeHandle(handle)
	if err := validation.ValidateHandle(string(platform), handle); err != nil {
		return "", time.Time{}, apperrors.NewValidationError("handle", err.Error())
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", time.Time{}, apperrors.NewDatabaseError("get user", err)
	}
	if u == nil {
		return "", time.Time{}, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user %d not found", userID)
	}
	if acc, ok := u.Account(platform); ok && acc.IsVerified() && strings.EqualFold(acc.Handle, handle) {
		return "", time.Time{}, apperrors.Newf(apperrors.ErrCodeConflict, "%s account @%s is already verified", platform, acc.Handle)
	}

	code, err := random.Hex(3)
	if err != nil {
		return "", time.Time{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "generate challenge code")
	}
	now := s.nowFn().UTC()
	expires := now.Add(user.ChallengeTTL)
	acc := user.SocialAccount{
		Platform:           platform,
		Handle:             handle,
		Status:             user.StatusPending,
		ChallengeCode:      code,
		ChallengeExpiresAt: &expires,
		UpdatedAt:          now,
	}
	if err := s.users.SaveChallenge(ctx, userID, acc); err != nil {
		if errors.Is(err, user.ErrHandleTaken) {
			return "", time.Time{}, apperrors.Newf(apperrors.ErrCodeDuplicateHandle, "%s handle @%s is already verified by another user", platform, handle)
		}
		return "", time.Time{}, apperrors.NewDatabaseError("save challenge", err)
	}
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, indexKey(platform, code), strconv.FormatInt(userID, 10), user.ChallengeTTL).Err(); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("challenge index write failed")
		}
	}
	s.invalidate(ctx, userID)
	return code, expires, nil
}

// ConfirmChallenge asks the platform whether the code was sent by the handle within the
// challenge window and marks the account verified on match.
func (s *Service) ConfirmChallenge(ctx context.Context, userID int64, platform user.Platform) (*user.SocialAccount, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get user", err)
	}
	if u == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user %d not found", userID)
	}
	acc, ok := u.Account(platform)
	if !ok || acc.Status != user.StatusPending || acc.ChallengeExpiresAt == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeChallengeNotFound, "no pending %s challenge", platform)
	}
	now := s.nowFn().UTC()
	if now.After(*acc.ChallengeExpiresAt) {
		return nil, apperrors.New(apperrors.ErrCodeChallengeExpired, "challenge expired, request a new code")
	}
	checker, ok := s.checkers[platform]
	if !ok || checker == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeVerificationOffline, "%s verification is not available", platform)
	}

	msg, err := checker.CheckChallengeMessage(ctx, acc.Handle, acc.ChallengeCode, acc.ChallengeIssuedAt())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeVerificationOffline, "verification service unavailable, try again later")
	}
	if !msg.Found {
		return nil, apperrors.Newf(apperrors.ErrCodeChallengeNoMatch, "code %s not found from @%s", acc.ChallengeCode, acc.Handle)
	}

	verified, err := s.users.MarkVerified(ctx, userID, platform, acc.ChallengeCode, now)
	if err != nil {
		if errors.Is(err, user.ErrHandleTaken) {
			return nil, apperrors.Newf(apperrors.ErrCodeDuplicateHandle, "%s handle @%s is already verified by another user", platform, acc.Handle)
		}
		return nil, apperrors.NewDatabaseError("mark verified", err)
	}
	if !verified {
		// lost a race with the sweep or a re-request
		return nil, apperrors.Newf(apperrors.ErrCodeChallengeNotFound, "no pending %s challenge", platform)
	}
	if s.rdb != nil {
		_ = s.rdb.Del(ctx, indexKey(platform, acc.ChallengeCode)).Err()
	}
	s.invalidate(ctx, userID)

	acc.Status = user.StatusVerified
	acc.ChallengeCode = ""
	acc.ChallengeExpiresAt = nil
	acc.VerifiedAt = &now
	acc.UpdatedAt = now
	if s.notifier != nil {
		s.notifier.AccountVerified(ctx, userID, acc)
	}
	log.Info().Int64("user_id", userID).Str("platform", string(platform)).Str("handle", acc.Handle).Msg("social account verified")
	return &acc, nil
}

// Unlink removes the user's account on platform.
func (s *Service) Unlink(ctx context.Context, userID int64, platform user.Platform) error {
	ok, err := s.users.DeleteAccount(ctx, userID, platform)
	if err != nil {
		return apperrors.NewDatabaseError("delete social account", err)
	}
	if !ok {
		return apperrors.NewNotFoundError("social account", string(platform))
	}
	s.invalidate(ctx, userID)
	return nil
}

// SweepExpired resets pending challenges whose expiry has passed.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.users.ResetExpiredChallenges(ctx, s.nowFn().UTC())
	if err != nil {
		return 0, apperrors.NewDatabaseError("reset expired challenges", err)
	}
	return n, nil
}

// ResolveCode returns the user who was issued code on platform, if still indexed.
func (s *Service) ResolveCode(ctx context.Context, platform user.Platform, code string) (int64, bool, error) {
	if s.rdb == nil {
		return 0, false, nil
	}
	v, err := s.rdb.Get(ctx, indexKey(platform, strings.ToLower(code))).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
}
