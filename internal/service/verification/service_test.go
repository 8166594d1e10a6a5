package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	"github.com/open-builders/campaign-bot/internal/domain/user"
	rplatform "github.com/open-builders/campaign-bot/internal/platform/redis"
	"github.com/open-builders/campaign-bot/internal/repository/memory"
)

type fakeChecker struct {
	mu    sync.Mutex
	found bool
	err   error
	calls int
	since time.Time
}

func (f *fakeChecker) CheckChallengeMessage(_ context.Context, _, _ string, since time.Time) (ChallengeMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.since = since
	if f.err != nil {
		return ChallengeMessage{}, f.err
	}
	return ChallengeMessage{Found: f.found, Timestamp: since.Add(time.Minute)}, nil
}

type fixture struct {
	svc     *Service
	users   *memory.UserRepository
	checker *fakeChecker
	mr      *miniredis.Miniredis
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rplatform.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	store := memory.NewStore()
	users := store.Users()
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		require.NoError(t, users.Upsert(ctx, &user.User{ID: id, Username: "u"}))
	}
	f := &fixture{users: users, checker: &fakeChecker{found: true}, mr: mr, now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.svc = NewService(users, map[user.Platform]ChallengeChecker{user.PlatformX: f.checker}, rdb, nil, nil)
	f.svc.nowFn = func() time.Time { return f.now }
	return f
}

func TestRequestChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, expires, err := f.svc.RequestChallenge(ctx, 1, user.PlatformX, "@acme")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{6}$`, code)
	assert.Equal(t, f.now.Add(24*time.Hour), expires)

	u, err := f.users.GetByID(ctx, 1)
	require.NoError(t, err)
	acc, ok := u.Account(user.PlatformX)
	require.True(t, ok)
	assert.Equal(t, user.StatusPending, acc.Status)
	assert.Equal(t, "acme", acc.Handle)
	assert.Equal(t, code, acc.ChallengeCode)

	id, ok, err := f.svc.ResolveCode(ctx, user.PlatformX, code)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	_, _, err = f.svc.RequestChallenge(ctx, 1, user.PlatformX, "not a handle!")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}

func TestUnverifiedDuplicatesCoexist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.RequestChallenge(ctx, 1, user.PlatformX, "acme")
	require.NoError(t, err)
	_, _, err = f.svc.RequestChallenge(ctx, 2, user.PlatformX, "ACME")
	require.NoError(t, err)

	// first verifier wins the handle
	_, err = f.svc.ConfirmChallenge(ctx, 2, user.PlatformX)
	require.NoError(t, err)

	_, err = f.svc.ConfirmChallenge(ctx, 1, user.PlatformX)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDuplicateHandle), "%v", err)

	_, _, err = f.svc.RequestChallenge(ctx, 1, user.PlatformX, "acme")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDuplicateHandle))
}

func TestConfirmChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmChallenge(ctx, 1, user.PlatformX)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChallengeNotFound))

	code, _, err := f.svc.RequestChallenge(ctx, 1, user.PlatformX, "acme")
	require.NoError(t, err)

	f.checker.found = false
	_, err = f.svc.ConfirmChallenge(ctx, 1, user.PlatformX)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChallengeNoMatch))

	f.checker.found = true
	issued := f.now
	f.now = f.now.Add(time.Hour)
	acc, err := f.svc.ConfirmChallenge(ctx, 1, user.PlatformX)
	require.NoError(t, err)
	assert.Equal(t, user.StatusVerified, acc.Status)
	assert.Equal(t, issued, f.checker.since, "window starts at issue time")

	u, _ := f.users.GetByID(ctx, 1)
	stored, _ := u.Account(user.PlatformX)
	assert.True(t, stored.IsVerified())
	assert.Empty(t, stored.ChallengeCode)
	require.NotNil(t, stored.VerifiedAt)
	assert.True(t, u.IsVerified())

	_, ok, err := f.svc.ResolveCode(ctx, user.PlatformX, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmUnavailableLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.RequestChallenge(ctx, 1, user.PlatformX, "acme")
	require.NoError(t, err)

	f.checker.err = errors.New("429 too many requests")
	_, err = f.svc.ConfirmChallenge(ctx, 1, user.PlatformX)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeVerificationOffline))
	assert.Equal(t, apperrors.KindExternalUnavailable, apperrors.KindOf(err))

	u, _ := f.users.GetByID(ctx, 1)
	acc, _ := u.Account(user.PlatformX)
	assert.Equal(t, user.StatusPending, acc.Status)
}

func TestExpiredChallengeThenSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.RequestChallenge(ctx, 1, user.PlatformX, "acme")
	require.NoError(t, err)

	f.now = f.now.Add(24*time.Hour + time.Second)
	_, err = f.svc.ConfirmChallenge(ctx, 1, user.PlatformX)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChallengeExpired))
	assert.Zero(t, f.checker.calls, "expired challenges never reach the platform")

	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	u, _ := f.users.GetByID(ctx, 1)
	acc, _ := u.Account(user.PlatformX)
	assert.Equal(t, user.StatusUnverified, acc.Status)
	assert.Empty(t, acc.ChallengeCode)

	// idempotent
	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.ConfirmChallenge(ctx, 1, user.PlatformX)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChallengeNotFound))
}

func TestUnlink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.RequestChallenge(ctx, 1, user.PlatformX, "acme")
	require.NoError(t, err)

	require.NoError(t, f.svc.Unlink(ctx, 1, user.PlatformX))
	err = f.svc.Unlink(ctx, 1, user.PlatformX)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestInbox(t *testing.T) {
	mr := miniredis.RunT(t)
	inbox := NewInbox(rplatform.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()})))
	ctx := context.Background()
	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	msg, err := inbox.CheckChallengeMessage(ctx, "acme_bot", "a1b2c3", issued)
	require.NoError(t, err)
	assert.False(t, msg.Found)

	require.NoError(t, inbox.Record(ctx, "A1B2C3", 42, "Acme_Bot", issued.Add(time.Minute)))

	msg, err = inbox.CheckChallengeMessage(ctx, "acme_bot", "a1b2c3", issued)
	require.NoError(t, err)
	assert.True(t, msg.Found)
	assert.Equal(t, "42", msg.SenderID)

	msg, err = inbox.CheckChallengeMessage(ctx, "someone_else", "a1b2c3", issued)
	require.NoError(t, err)
	assert.False(t, msg.Found, "sender must match handle")

	msg, err = inbox.CheckChallengeMessage(ctx, "acme_bot", "a1b2c3", issued.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, msg.Found, "messages before the window do not count")

	mr.FastForward(25 * time.Hour)
	msg, err = inbox.CheckChallengeMessage(ctx, "acme_bot", "a1b2c3", issued)
	require.NoError(t, err)
	assert.False(t, msg.Found)
}
