package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/open-builders/campaign-bot/internal/domain/user"
)

func TestMarkVerifiedGuardsCodeAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	guard := sqlFragment("WHERE user_id=$1 AND platform=$2 AND status='pending' AND challenge_code=$3 AND challenge_expires_at >= $4")

	t.Run("expired or stale code", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(guard).WithArgs(int64(7), domain.PlatformX, "a1b2c3", now).WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := NewUserRepository(db).MarkVerified(ctx, 7, domain.PlatformX, "a1b2c3", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("handle verified elsewhere", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(guard).WithArgs(int64(7), domain.PlatformX, "a1b2c3", now).
			WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: verifiedHandleIndex})

		_, err := NewUserRepository(db).MarkVerified(ctx, 7, domain.PlatformX, "a1b2c3", now)
		assert.ErrorIs(t, err, domain.ErrHandleTaken)
	})

	t.Run("verified", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(guard).WithArgs(int64(7), domain.PlatformX, "a1b2c3", now).WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := NewUserRepository(db).MarkVerified(ctx, 7, domain.PlatformX, "a1b2c3", now)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestUpsertReferralCodeCollision(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(sqlFragment("INSERT INTO users (id, username, first_name, referral_code, created_at, updated_at)")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: referralCodeKey})

	err := NewUserRepository(db).Upsert(context.Background(), &domain.User{ID: 7, Username: "bob", ReferralCode: "deadbeef"})
	assert.ErrorIs(t, err, domain.ErrReferralCodeTaken)
}

func TestSetReferrerOnce(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(sqlFragment("WHERE id=$1 AND referred_by IS NULL")).WithArgs(int64(7), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewUserRepository(db).SetReferrer(context.Background(), 7, 1)
	assert.ErrorIs(t, err, domain.ErrReferrerAlreadySet)
}

func TestActivatePremiumKeepsLaterExpiry(t *testing.T) {
	db, mock := newMock(t)
	until := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(sqlFragment("premium_until=GREATEST(COALESCE(premium_until, $2), $2)")).WithArgs(int64(7), until).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewUserRepository(db).ActivatePremium(context.Background(), 7, until))
}
