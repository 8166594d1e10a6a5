package campaign

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	dc "github.com/open-builders/campaign-bot/internal/domain/campaign"
	dp "github.com/open-builders/campaign-bot/internal/domain/project"
	"github.com/open-builders/campaign-bot/internal/domain/user"
	"github.com/open-builders/campaign-bot/internal/repository/memory"
)

const (
	ownerID    int64 = 10
	outsiderID int64 = 99
)

func setup(t *testing.T, quota int) (*Service, *memory.Store, *time.Time) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Projects().Create(context.Background(), &dp.Project{
		ID:           "p1",
		Name:         "Acme",
		OwnerID:      ownerID,
		Subscription: dp.Subscription{PlanID: "starter", Active: true, CampaignsRemaining: quota},
		Settings:     dp.Settings{Platforms: []user.Platform{user.PlatformDiscord}},
	}))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store.Campaigns(), store.Projects(), nil)
	svc.nowFn = func() time.Time { return now }
	return svc, store, &now
}

func validInput() CreateInput {
	return CreateInput{
		ProjectID:          "p1",
		Name:               "Launch week",
		Description:        "Like and retweet our launch post",
		TargetPostURL:      "https://x.com/acme/status/1790000000000000000",
		DurationDays:       7,
		TargetParticipants: 100,
		Rewards:            []dc.Reward{{Type: dc.RewardTypeCredits, Description: "Base reward", Credits: 300}},
	}
}

func remaining(t *testing.T, store *memory.Store) int {
	t.Helper()
	p, err := store.Projects().GetByID(context.Background(), "p1")
	require.NoError(t, err)
	return p.Subscription.CampaignsRemaining
}

func TestCreate(t *testing.T) {
	svc, store, now := setup(t, 2)
	c, err := svc.Create(context.Background(), ownerID, validInput())
	require.NoError(t, err)

	assert.Equal(t, dc.StatusActive, c.Status)
	assert.Equal(t, *now, c.StartAt)
	assert.Equal(t, now.AddDate(0, 0, 7), c.EndAt)
	assert.Equal(t, dc.VisibilityPublic, c.Visibility)
	assert.Empty(t, c.Participants)
	assert.Equal(t, []user.Platform{user.PlatformX, user.PlatformDiscord}, c.RequiredPlatforms)
	assert.Equal(t, int64(300), c.BaseReward())
	assert.Equal(t, 1, remaining(t, store))
}

func TestCreateFailuresKeepQuota(t *testing.T) {
	svc, store, _ := setup(t, 1)
	ctx := context.Background()

	in := validInput()
	in.Rewards = nil
	_, err := svc.Create(ctx, ownerID, in)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	in = validInput()
	in.TargetPostURL = "https://example.com/post/1"
	_, err = svc.Create(ctx, ownerID, in)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	in = validInput()
	in.DurationDays = 31
	_, err = svc.Create(ctx, ownerID, in)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = svc.Create(ctx, outsiderID, validInput())
	assert.Equal(t, apperrors.KindPermission, apperrors.KindOf(err))

	assert.Equal(t, 1, remaining(t, store))
}

func TestCreateInactiveSubscription(t *testing.T) {
	svc, store, _ := setup(t, 5)
	require.NoError(t, store.Projects().DeactivatePlan(context.Background(), "p1"))

	_, err := svc.Create(context.Background(), ownerID, validInput())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeQuotaExhausted))
	assert.Equal(t, 5, remaining(t, store))
}

func TestConcurrentCreateWithSingleQuota(t *testing.T) {
	svc, store, _ := setup(t, 1)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), ownerID, validInput())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperrors.HasCode(err, apperrors.ErrCodeQuotaExhausted):
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, exhausted)
	assert.Equal(t, 0, remaining(t, store))
}

func TestTransitions(t *testing.T) {
	svc, _, _ := setup(t, 3)
	ctx := context.Background()
	c, err := svc.Create(ctx, ownerID, validInput())
	require.NoError(t, err)

	_, err = svc.Transition(ctx, c.ID, dc.StatusDraft)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))

	_, err = svc.ChangeStatus(ctx, outsiderID, c.ID, dc.StatusCancelled)
	assert.Equal(t, apperrors.KindPermission, apperrors.KindOf(err))

	got, err := svc.ChangeStatus(ctx, ownerID, c.ID, dc.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, dc.StatusCancelled, got.Status)

	for _, to := range []dc.Status{dc.StatusActive, dc.StatusCompleted, dc.StatusDraft} {
		_, err = svc.Transition(ctx, c.ID, to)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition), to)
	}

	_, err = svc.Transition(ctx, "missing", dc.StatusCompleted)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCampaignNotFound))
}

func TestFindEligibleAndInvite(t *testing.T) {
	svc, _, _ := setup(t, 3)
	ctx := context.Background()

	public, err := svc.Create(ctx, ownerID, validInput())
	require.NoError(t, err)
	in := validInput()
	in.Visibility = dc.VisibilityPrivate
	private, err := svc.Create(ctx, ownerID, in)
	require.NoError(t, err)

	list, err := svc.FindEligible(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, public.ID, list[0].ID)

	require.NoError(t, svc.Invite(ctx, ownerID, private.ID, 7))
	err = svc.Invite(ctx, ownerID, private.ID, 7)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	err = svc.Invite(ctx, outsiderID, private.ID, 8)
	assert.Equal(t, apperrors.KindPermission, apperrors.KindOf(err))

	list, err = svc.FindEligible(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = svc.Transition(ctx, public.ID, dc.StatusCompleted)
	require.NoError(t, err)
	list, err = svc.FindEligible(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, private.ID, list[0].ID)
}

func TestCompleteExpired(t *testing.T) {
	svc, _, now := setup(t, 3)
	ctx := context.Background()

	in := validInput()
	in.DurationDays = 1
	short, err := svc.Create(ctx, ownerID, in)
	require.NoError(t, err)
	long, err := svc.Create(ctx, ownerID, validInput())
	require.NoError(t, err)

	*now = now.Add(48 * time.Hour)
	n, err := svc.CompleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Get(ctx, short.ID)
	require.NoError(t, err)
	assert.Equal(t, dc.StatusCompleted, got.Status)
	got, err = svc.Get(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, dc.StatusActive, got.Status)

	n, err = svc.CompleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
