package user

import (
	"context"
	"time"
)

// Repository defines persistence operations for the User aggregate.
// Getters return (nil, nil) when the user does not exist.
type Repository interface {
	// Upsert creates the user or refreshes profile fields; balances and links are untouched.
	// A colliding referral code on insert yields ErrReferralCodeTaken.
	Upsert(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByReferralCode(ctx context.Context, code string) (*User, error)
	// SetReferrer sets referred_by only when unset; returns ErrReferrerAlreadySet otherwise.
	SetReferrer(ctx context.Context, userID, referrerID int64) error
	ActivatePremium(ctx context.Context, userID int64, until time.Time) error

	// SaveChallenge upserts the (user, platform) account as pending with the given code.
	// Returns ErrHandleTaken if another user holds a verified account for the handle.
	SaveChallenge(ctx context.Context, userID int64, acc SocialAccount) error
	// MarkVerified flips a pending account to verified only if code matches and the
	// challenge has not expired at now. Returns false when the guard did not hold.
	MarkVerified(ctx context.Context, userID int64, platform Platform, code string, now time.Time) (bool, error)
	DeleteAccount(ctx context.Context, userID int64, platform Platform) (bool, error)
	// ResetExpiredChallenges moves pending accounts whose challenge expired before now back to unverified.
	ResetExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}
