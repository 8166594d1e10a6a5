package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/open-builders/campaign-bot/internal/domain/user"
)

const (
	verifiedHandleIndex = "social_accounts_verified_handle"
	referralCodeKey     = "users_referral_code_key"
)

// UserRepository persists users and their social accounts in Postgres.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository { return &UserRepository{db: db} }

// Upsert inserts a user or refreshes the Telegram profile fields.
// Credits, premium, referral data and social accounts are never overwritten here.
func (r *UserRepository) Upsert(ctx context.Context, u *domain.User) error {
	const q = `
	INSERT INTO users (id, username, first_name, referral_code, created_at, updated_at)
	VALUES ($1, lower(NULLIF($2, '')), $3, NULLIF($4, ''), COALESCE($5, now()), now())
	ON CONFLICT (id) DO UPDATE SET
		username = EXCLUDED.username,
		first_name = EXCLUDED.first_name,
		referral_code = COALESCE(users.referral_code, EXCLUDED.referral_code),
		updated_at = now()`
	var createdAt interface{}
	if !u.CreatedAt.IsZero() {
		createdAt = u.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, q, u.ID, u.Username, u.FirstName, u.ReferralCode, createdAt)
	if isUniqueViolation(err, referralCodeKey) {
		return domain.ErrReferralCodeTaken
	}
	return err
}

const selectUser = `
SELECT id, COALESCE(username, ''), first_name, credits, is_premium, premium_until,
       COALESCE(referral_code, ''), referred_by, created_at, updated_at
FROM users`

func (r *UserRepository) scanUser(ctx context.Context, row *sql.Row) (*domain.User, error) {
	var (
		u            domain.User
		premiumUntil sql.NullTime
		referredBy   sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.Credits, &u.IsPremium, &premiumUntil,
		&u.ReferralCode, &referredBy, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if premiumUntil.Valid {
		t := premiumUntil.Time
		u.PremiumUntil = &t
	}
	if referredBy.Valid {
		id := referredBy.Int64
		u.ReferredBy = &id
	}
	accounts, err := r.accounts(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.SocialAccounts = accounts
	return &u, nil
}

// GetByID returns a user with social accounts by Telegram ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanUser(ctx, r.db.QueryRowContext(ctx, selectUser+` WHERE id=$1`, id))
}

// GetByReferralCode returns the owner of a referral code.
func (r *UserRepository) GetByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	return r.scanUser(ctx, r.db.QueryRowContext(ctx, selectUser+` WHERE referral_code=$1`, code))
}

func (r *UserRepository) accounts(ctx context.Context, userID int64) ([]domain.SocialAccount, error) {
	const q = `
SELECT platform, handle, status, COALESCE(challenge_code, ''), challenge_expires_at, verified_at, updated_at
FROM social_accounts WHERE user_id=$1 ORDER BY platform`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SocialAccount
	for rows.Next() {
		var (
			a                   domain.SocialAccount
			expires, verifiedAt sql.NullTime
		)
		if err := rows.Scan(&a.Platform, &a.Handle, &a.Status, &a.ChallengeCode, &expires, &verifiedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			a.ChallengeExpiresAt = &t
		}
		if verifiedAt.Valid {
			t := verifiedAt.Time
			a.VerifiedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetReferrer attaches a referrer once; self-referral is rejected by the caller.
func (r *UserRepository) SetReferrer(ctx context.Context, userID, referrerID int64) error {
	const q = `UPDATE users SET referred_by=$2, updated_at=now() WHERE id=$1 AND referred_by IS NULL`
	res, err := r.db.ExecContext(ctx, q, userID, referrerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrReferrerAlreadySet
	}
	return nil
}

func (r *UserRepository) ActivatePremium(ctx context.Context, userID int64, until time.Time) error {
	const q = `UPDATE users SET is_premium=TRUE, premium_until=GREATEST(COALESCE(premium_until, $2), $2), updated_at=now() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, userID, until)
	return err
}

// SaveChallenge upserts the pending account. A verified duplicate owned by another
// user is checked first; the partial unique index only guards verified rows, so
// unverified duplicates coexist.
func (r *UserRepository) SaveChallenge(ctx context.Context, userID int64, acc domain.SocialAccount) error {
	const qTaken = `
SELECT EXISTS (
	SELECT 1 FROM social_accounts
	WHERE platform=$1 AND lower(handle)=lower($2) AND status='verified' AND user_id<>$3
)`
	var taken bool
	if err := r.db.QueryRowContext(ctx, qTaken, acc.Platform, acc.Handle, userID).Scan(&taken); err != nil {
		return err
	}
	if taken {
		return domain.ErrHandleTaken
	}
	const q = `
INSERT INTO social_accounts (user_id, platform, handle, status, challenge_code, challenge_expires_at, verified_at, updated_at)
VALUES ($1, $2, $3, 'pending', $4, $5, NULL, now())
ON CONFLICT (user_id, platform) DO UPDATE SET
	handle = EXCLUDED.handle,
	status = 'pending',
	challenge_code = EXCLUDED.challenge_code,
	challenge_expires_at = EXCLUDED.challenge_expires_at,
	verified_at = NULL,
	updated_at = now()`
	_, err := r.db.ExecContext(ctx, q, userID, acc.Platform, acc.Handle, acc.ChallengeCode, acc.ChallengeExpiresAt)
	if isUniqueViolation(err, verifiedHandleIndex) {
		return domain.ErrHandleTaken
	}
	return err
}

// MarkVerified is a conditional update guarded by code and expiry.
func (r *UserRepository) MarkVerified(ctx context.Context, userID int64, platform domain.Platform, code string, now time.Time) (bool, error) {
	const q = `
UPDATE social_accounts
SET status='verified', challenge_code=NULL, challenge_expires_at=NULL, verified_at=$4, updated_at=$4
WHERE user_id=$1 AND platform=$2 AND status='pending' AND challenge_code=$3 AND challenge_expires_at >= $4`
	res, err := r.db.ExecContext(ctx, q, userID, platform, code, now)
	if err != nil {
		if isUniqueViolation(err, verifiedHandleIndex) {
			return false, domain.ErrHandleTaken
		}
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *UserRepository) DeleteAccount(ctx context.Context, userID int64, platform domain.Platform) (bool, error) {
	const q = `DELETE FROM social_accounts WHERE user_id=$1 AND platform=$2`
	res, err := r.db.ExecContext(ctx, q, userID, platform)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ResetExpiredChallenges is safe to run alongside MarkVerified: both guard on status and expiry.
func (r *UserRepository) ResetExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE social_accounts
SET status='unverified', challenge_code=NULL, challenge_expires_at=NULL, updated_at=$1
WHERE status='pending' AND challenge_expires_at < $1`
	res, err := r.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
