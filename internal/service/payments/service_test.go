package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	dp "github.com/open-builders/campaign-bot/internal/domain/project"
	"github.com/open-builders/campaign-bot/internal/domain/user"
	rplatform "github.com/open-builders/campaign-bot/internal/platform/redis"
	stripeplatform "github.com/open-builders/campaign-bot/internal/platform/stripe"
	"github.com/open-builders/campaign-bot/internal/repository/memory"
	projectsvc "github.com/open-builders/campaign-bot/internal/service/project"
	usersvc "github.com/open-builders/campaign-bot/internal/service/user"
)

const stream = "payments:test"

type fakeProvider struct {
	event    *stripeplatform.Event
	parseErr error
	requests []stripeplatform.CheckoutRequest
}

func (f *fakeProvider) CreateCheckout(_ context.Context, req stripeplatform.CheckoutRequest) (*stripeplatform.Checkout, error) {
	f.requests = append(f.requests, req)
	return &stripeplatform.Checkout{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil
}

func (f *fakeProvider) ParseWebhook([]byte, string) (*stripeplatform.Event, error) {
	return f.event, f.parseErr
}

type fixture struct {
	svc      *Service
	provider *fakeProvider
	store    *memory.Store
	rdb      *rplatform.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rplatform.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Users().Upsert(ctx, &user.User{ID: 42}))
	require.NoError(t, store.Projects().Create(ctx, &dp.Project{ID: "p1", Name: "Acme", OwnerID: 42}))

	provider := &fakeProvider{}
	svc := NewService(provider, rdb, stream, usersvc.NewService(store.Users(), nil), projectsvc.NewService(store.Projects()), nil, Catalog{
		PremiumPrice:  "price_premium",
		PremiumPeriod: 30 * 24 * time.Hour,
		PlanPrices:    map[string]string{"starter": "price_starter"},
		PlanQuotas:    map[string]int{"starter": 5},
		SuccessURL:    "https://app/success",
		CancelURL:     "https://app/cancel",
	})
	return &fixture{svc: svc, provider: provider, store: store, rdb: rdb}
}

// drain applies every queued entry the way the payments worker does.
func (f *fixture) drain(t *testing.T) int {
	t.Helper()
	msgs, err := f.rdb.XRange(context.Background(), stream, "-", "+").Result()
	require.NoError(t, err)
	for _, m := range msgs {
		require.NoError(t, f.svc.HandleEvent(context.Background(), m.Values))
	}
	return len(msgs)
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	url, err := f.svc.CheckoutPremium(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", url)
	require.Len(t, f.provider.requests, 1)
	req := f.provider.requests[0]
	assert.Equal(t, "price_premium", req.PriceID)
	assert.False(t, req.Subscription)
	assert.Equal(t, "https://app/success", req.SuccessURL)
	assert.Equal(t, map[string]string{"kind": KindPremium, "user_id": "42"}, req.Metadata)

	_, err = f.svc.CheckoutPlan(ctx, 42, "p1", "enterprise")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	_, err = f.svc.CheckoutPlan(ctx, 7, "p1", "starter")
	assert.Equal(t, apperrors.KindPermission, apperrors.KindOf(err))

	_, err = f.svc.CheckoutPlan(ctx, 42, "p1", "starter")
	require.NoError(t, err)
	req = f.provider.requests[1]
	assert.True(t, req.Subscription)
	assert.Equal(t, "p1", req.Metadata["project_id"])
	assert.Equal(t, "starter", req.Metadata["plan_id"])
}

func TestPremiumWebhookAppliedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.event = &stripeplatform.Event{
		ID:       "evt_1",
		Type:     EventCheckoutCompleted,
		Metadata: map[string]string{"kind": KindPremium, "user_id": "42"},
	}

	require.NoError(t, f.svc.AcceptWebhook(ctx, nil, "sig"))
	require.NoError(t, f.svc.AcceptWebhook(ctx, nil, "sig"))
	assert.Equal(t, 1, f.drain(t))

	u, err := f.store.Users().GetByID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, u.PremiumActive(time.Now()))
}

func TestPlanLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meta := map[string]string{"kind": KindProjectPlan, "user_id": "42", "project_id": "p1", "plan_id": "starter"}

	f.provider.event = &stripeplatform.Event{ID: "evt_1", Type: EventCheckoutCompleted, Metadata: meta}
	require.NoError(t, f.svc.AcceptWebhook(ctx, nil, "sig"))
	f.drain(t)
	p, _ := f.store.Projects().GetByID(ctx, "p1")
	assert.True(t, p.Subscription.Active)
	assert.Equal(t, "starter", p.Subscription.PlanID)
	assert.Equal(t, 5, p.Subscription.CampaignsRemaining)

	require.NoError(t, f.rdb.Del(ctx, stream).Err())
	f.provider.event = &stripeplatform.Event{ID: "evt_2", Type: EventSubscriptionDeleted, Metadata: meta}
	require.NoError(t, f.svc.AcceptWebhook(ctx, nil, "sig"))
	f.drain(t)
	p, _ = f.store.Projects().GetByID(ctx, "p1")
	assert.False(t, p.Subscription.Active)
	assert.False(t, p.CanCreateCampaign())
}

type flakyProjects struct {
	Projects
	failures int
}

func (p *flakyProjects) ActivatePlan(ctx context.Context, projectID, planID string, quota int) error {
	if p.failures > 0 {
		p.failures--
		return apperrors.NewDatabaseError("activate plan", errors.New("connection reset"))
	}
	return p.Projects.ActivatePlan(ctx, projectID, planID, quota)
}

func TestRedeliveredPlanEventAppliedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.event = &stripeplatform.Event{
		ID:       "evt_1",
		Type:     EventCheckoutCompleted,
		Metadata: map[string]string{"kind": KindProjectPlan, "user_id": "42", "project_id": "p1", "plan_id": "starter"},
	}
	require.NoError(t, f.svc.AcceptWebhook(ctx, nil, "sig"))

	flaky := &flakyProjects{Projects: f.svc.projects, failures: 1}
	f.svc.projects = flaky
	msgs, err := f.rdb.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Error(t, f.svc.HandleEvent(ctx, msgs[0].Values), "failed apply stays pending")

	// retried after the failure, then delivered again as if the ack was lost
	require.NoError(t, f.svc.HandleEvent(ctx, msgs[0].Values))
	require.NoError(t, f.svc.HandleEvent(ctx, msgs[0].Values))

	p, _ := f.store.Projects().GetByID(ctx, "p1")
	assert.True(t, p.Subscription.Active)
	assert.Equal(t, 5, p.Subscription.CampaignsRemaining)
}

func TestWebhookRejectsAndIgnores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.provider.parseErr = stripeplatform.ErrInvalidSignature
	err := f.svc.AcceptWebhook(ctx, nil, "bad")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSignature))

	f.provider.parseErr = errors.New("unexpected end of JSON input")
	err = f.svc.AcceptWebhook(ctx, nil, "sig")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	f.provider.parseErr = nil
	f.provider.event = &stripeplatform.Event{ID: "evt_3", Type: "invoice.paid"}
	require.NoError(t, f.svc.AcceptWebhook(ctx, nil, "sig"))
	assert.Zero(t, f.drain(t))
}

func TestHandleEventSkipsUnusable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.NoError(t, f.svc.HandleEvent(ctx, map[string]interface{}{"type": EventCheckoutCompleted, "kind": KindPremium, "user_id": "abc"}))
	assert.NoError(t, f.svc.HandleEvent(ctx, map[string]interface{}{"type": EventCheckoutCompleted, "kind": KindProjectPlan, "project_id": "missing", "plan_id": "starter"}))
	assert.NoError(t, f.svc.HandleEvent(ctx, map[string]interface{}{"type": EventCheckoutCompleted, "kind": KindProjectPlan, "project_id": "p1", "plan_id": "unknown"}))

	p, _ := f.store.Projects().GetByID(ctx, "p1")
	assert.False(t, p.Subscription.Active)
}
