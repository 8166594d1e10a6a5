package user

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcache "github.com/open-builders/campaign-bot/internal/cache/redis"
	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	domain "github.com/open-builders/campaign-bot/internal/domain/user"
	"github.com/open-builders/campaign-bot/internal/platform/redis"
	"github.com/open-builders/campaign-bot/internal/repository/memory"
)

func newService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	return NewService(memory.NewStore().Users(), rcache.NewUserCache(rdb, time.Minute)), mr
}

func TestTouchCreatesAndRefreshes(t *testing.T) {
	ctx := context.Background()
	svc, mr := newService(t)

	u, err := svc.Touch(ctx, 1, "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Regexp(t, `^[0-9a-f]{8}$`, u.ReferralCode)
	assert.True(t, mr.Exists("user:id:1"), "profile cached after read")

	again, err := svc.Touch(ctx, 1, "alice_new", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice_new", again.Username, "touch invalidates the cached profile")
	assert.Equal(t, u.ReferralCode, again.ReferralCode, "referral code is stable")

	_, err = svc.GetByID(ctx, 2)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))
}

func TestAttachReferrer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice, err := svc.Touch(ctx, 1, "alice", "Alice")
	require.NoError(t, err)
	_, err = svc.Touch(ctx, 2, "bob", "Bob")
	require.NoError(t, err)

	_, err = svc.AttachReferrer(ctx, 2, "ffffffff")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	_, err = svc.AttachReferrer(ctx, 1, alice.ReferralCode)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation), "self referral")

	ref, err := svc.AttachReferrer(ctx, 2, alice.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ref.ID)
	bob, err := svc.GetByID(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, bob.ReferredBy)
	assert.Equal(t, int64(1), *bob.ReferredBy)

	_, err = svc.AttachReferrer(ctx, 2, alice.ReferralCode)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func codes(list ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		c := list[i%len(list)]
		i++
		return c, nil
	}
}

func TestTouchRetriesReferralCodeCollision(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	svc.codeFn = codes("deadbeef")
	alice, err := svc.Touch(ctx, 1, "alice", "Alice")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", alice.ReferralCode)

	svc.codeFn = codes("deadbeef", "deadbeef", "cafebabe")
	bob, err := svc.Touch(ctx, 2, "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "cafebabe", bob.ReferralCode)

	svc.codeFn = codes("deadbeef")
	_, err = svc.Touch(ctx, 3, "carol", "Carol")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrReferralCodeTaken)
	_, err = svc.GetByID(ctx, 3)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))

	again, err := svc.Touch(ctx, 1, "alice", "Alice")
	require.NoError(t, err, "existing users keep their code and never collide")
	assert.Equal(t, "deadbeef", again.ReferralCode)
}

func TestActivatePremium(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return now }

	_, err := svc.Touch(ctx, 1, "alice", "Alice")
	require.NoError(t, err)
	require.NoError(t, svc.ActivatePremium(ctx, 1, 30*24*time.Hour))

	u, err := svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.PremiumActive(now))
	assert.False(t, u.PremiumActive(now.Add(31*24*time.Hour)))

	require.NoError(t, svc.ActivatePremium(ctx, 1, 24*time.Hour))
	u, err = svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.PremiumActive(now.Add(29*24*time.Hour)), "a shorter period never cuts an existing expiry")
	require.NotNil(t, u.PremiumUntil)
	assert.Equal(t, now.Add(30*24*time.Hour), u.PremiumUntil.UTC())
}
