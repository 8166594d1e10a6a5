package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-builders/campaign-bot/internal/config"
	dc "github.com/open-builders/campaign-bot/internal/domain/campaign"
	dp "github.com/open-builders/campaign-bot/internal/domain/project"
	"github.com/open-builders/campaign-bot/internal/domain/user"
	rplatform "github.com/open-builders/campaign-bot/internal/platform/redis"
	stripeplatform "github.com/open-builders/campaign-bot/internal/platform/stripe"
	"github.com/open-builders/campaign-bot/internal/repository/memory"
	campaignsvc "github.com/open-builders/campaign-bot/internal/service/campaign"
	ledgersvc "github.com/open-builders/campaign-bot/internal/service/ledger"
	"github.com/open-builders/campaign-bot/internal/service/participation"
	"github.com/open-builders/campaign-bot/internal/service/payments"
	projectsvc "github.com/open-builders/campaign-bot/internal/service/project"
	usersvc "github.com/open-builders/campaign-bot/internal/service/user"
	"github.com/open-builders/campaign-bot/internal/service/verification"
)

const (
	botToken         = "123456:test-token"
	alice      int64 = 1
	bob        int64 = 2
	adminID    int64 = 99
	campaignID       = "c1"
)

type engagementStub struct{ result participation.Engagement }

func (s engagementStub) CheckEngagement(context.Context, string, string) (participation.Engagement, error) {
	return s.result, nil
}

func signInitData(userID int64, username string) string {
	params := map[string]string{
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
		"query_id":  "AAHdF6IQAAAAAN0XohDhrOrc",
		"user":      fmt.Sprintf(`{"id":%d,"first_name":"Test","username":%q}`, userID, username),
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+params[k])
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))

	vals := url.Values{}
	for k, v := range params {
		vals.Set(k, v)
	}
	vals.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return vals.Encode()
}

type testApp struct {
	engine *gin.Engine
	store  *memory.Store
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := rplatform.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	store := memory.NewStore()

	verifiedAt := time.Now()
	require.NoError(t, store.Users().Upsert(ctx, &user.User{
		ID: alice, Username: "alice", ReferralCode: "aaaa0001",
		SocialAccounts: []user.SocialAccount{{Platform: user.PlatformX, Handle: "alice", Status: user.StatusVerified, VerifiedAt: &verifiedAt}},
	}))
	require.NoError(t, store.Projects().Create(ctx, &dp.Project{ID: "p1", Name: "Acme", OwnerID: bob, Subscription: dp.Subscription{Active: true, CampaignsRemaining: 3}}))
	now := time.Now().UTC()
	require.NoError(t, store.Campaigns().CreateWithQuota(ctx, &dc.Campaign{
		ID: campaignID, ProjectID: "p1", CreatorID: bob, Name: "Launch", Status: dc.StatusActive,
		TargetPostURL: "https://x.com/acme/status/1234", StartAt: now, EndAt: now.Add(72 * time.Hour),
		Visibility: dc.VisibilityPublic, RequiredPlatforms: []user.Platform{user.PlatformX},
		Rewards: []dc.Reward{{Type: dc.RewardTypeCredits, Description: "Base", Credits: 100}},
	}))

	cfg := &config.Config{}
	cfg.Server.Origin = "http://localhost:3000"
	cfg.Telegram.BotToken = botToken
	cfg.Telegram.InitDataTTL = time.Hour
	cfg.Telegram.AdminIDs = []int64{adminID}

	users := usersvc.NewService(store.Users(), nil)
	projects := projectsvc.NewService(store.Projects())
	engagement := engagementStub{result: participation.Engagement{Liked: true, Retweeted: true, Metrics: dc.Stats{Likes: 1, Retweets: 1}}}
	svc := Services{
		Users:         users,
		Verification:  verification.NewService(store.Users(), nil, rdb, nil, users),
		Projects:      projects,
		Campaigns:     campaignsvc.NewService(store.Campaigns(), store.Projects(), nil),
		Participation: participation.NewService(store.Campaigns(), store.Users(), engagement),
		Ledger:        ledgersvc.NewService(store.Ledger(), store.Users(), store.Campaigns(), nil, users, ledgersvc.DefaultRates),
		Payments: payments.NewService(stripeplatform.New("sk_test_123", "whsec_test"), rdb, "payments:test",
			users, projects, nil, payments.Catalog{}),
	}
	return &testApp{engine: NewApp(cfg, rdb, svc), store: store}
}

func (a *testApp) do(t *testing.T, method, path string, as int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if as != 0 {
		req.Header.Set("X-Telegram-Init-Data", signInitData(as, fmt.Sprintf("user%d", as)))
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
	return resp.Error.Code
}

func TestHealthAndAuth(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/health", 0, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = app.do(t, http.MethodGet, "/api/v1/me", 0, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("X-Telegram-Init-Data", strings.Replace(signInitData(alice, "alice"), "Test", "Mallory", 1))
	w = httptest.NewRecorder()
	app.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "tampered init-data")
}

func TestGetMeCreatesUser(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodGet, "/api/v1/me", 7, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var u user.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "user7", u.Username)
	assert.Len(t, u.ReferralCode, 8)

	w = app.do(t, http.MethodPost, "/api/v1/me/referrer", 7, `{"code":"aaaa0001"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"referrer_id":1}`, w.Body.String())
}

func TestParticipationFlow(t *testing.T) {
	app := newTestApp(t)
	base := "/api/v1/campaigns/" + campaignID

	w := app.do(t, http.MethodPost, base+"/claim", alice, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NOT_PARTICIPATED", errorCode(t, w))

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/join", alice, "").Code)
	w = app.do(t, http.MethodPost, base+"/join", alice, "")
	assert.Equal(t, "ALREADY_JOINED", errorCode(t, w))

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/confirm", alice, "").Code)

	w = app.do(t, http.MethodPost, base+"/claim", alice, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var entry struct {
		Amount int64 `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, int64(100), entry.Amount)

	w = app.do(t, http.MethodPost, base+"/claim", alice, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "REWARD_ALREADY_GRANTED", errorCode(t, w))

	w = app.do(t, http.MethodGet, base, alice, "")
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		State        string            `json:"state"`
		JoinedCount  int               `json:"joined_count"`
		Participants []json.RawMessage `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, string(dc.StateRewarded), view.State)
	assert.Equal(t, 1, view.JoinedCount)
	assert.Empty(t, view.Participants)

	w = app.do(t, http.MethodGet, "/api/v1/ledger/balance", alice, "")
	assert.JSONEq(t, `{"credits":100}`, w.Body.String())
}

func TestJoinRequiresVerifiedAccount(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodPost, "/api/v1/campaigns/"+campaignID+"/join", 5, "")
	assert.Equal(t, http.StatusNotFound, w.Code, "unknown user")

	app.do(t, http.MethodGet, "/api/v1/me", 5, "")
	w = app.do(t, http.MethodPost, "/api/v1/campaigns/"+campaignID+"/join", 5, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ACCOUNT_NOT_VERIFIED", errorCode(t, w))
}

func TestCashoutValidation(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/api/v1/cashouts", alice, `{"credits":1500}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	w = app.do(t, http.MethodPost, "/api/v1/cashouts", alice, `{"credits":500,"method":"paypal","destination":"a@b.co"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "BELOW_MINIMUM", errorCode(t, w))

	w = app.do(t, http.MethodGet, "/api/v1/ledger/quote?credits=1234", alice, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"final_amount":"11.72"`)
}

func TestAdminSettleGuard(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodPost, "/api/v1/admin/payouts/missing/settle", alice, `{"paid":true}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/admin/payouts/missing/settle", adminID, `{"paid":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PAYOUT_NOT_FOUND", errorCode(t, w))
}

func TestCampaignManagement(t *testing.T) {
	app := newTestApp(t)

	body := `{"project_id":"p1","name":"Summer drop","description":"Like and repost the drop",
		"target_post_url":"https://x.com/acme/status/99","duration_days":7,"target_participants":50,
		"rewards":[{"type":"credits","description":"Base","credits":200}],"visibility":"private"}`
	w := app.do(t, http.MethodPost, "/api/v1/campaigns", alice, body)
	assert.Equal(t, http.StatusForbidden, w.Code, "not a project manager")

	w = app.do(t, http.MethodPost, "/api/v1/campaigns", bob, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created dc.Campaign
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, dc.VisibilityPrivate, created.Visibility)

	w = app.do(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/join", alice, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_INVITED", errorCode(t, w))

	w = app.do(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/invites", bob, fmt.Sprintf(`{"user_id":%d}`, alice))
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Equal(t, http.StatusOK, app.do(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/join", alice, "").Code)

	w = app.do(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/status", bob, `{"status":"draft"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(t, w))

	w = app.do(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/status", bob, `{"status":"cancelled"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/projects/p1/campaigns", bob, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []dc.Campaign
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestEligibleIsCached(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodGet, "/api/v1/campaigns/eligible", alice, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	w = app.do(t, http.MethodGet, "/api/v1/campaigns/eligible", alice, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Contains(t, w.Body.String(), campaignID)

	w = app.do(t, http.MethodGet, "/api/v1/campaigns/eligible", bob, "")
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"), "cache is per user")
}

func TestStripeWebhookRequiresSignature(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodPost, "/webhooks/stripe", 0, `{"id":"evt_1","type":"checkout.session.completed"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_SIGNATURE", errorCode(t, w))

	w = app.do(t, http.MethodPost, "/api/v1/payments/premium/checkout", alice, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no premium price configured")
	assert.Equal(t, "PAYMENT_UNAVAILABLE", errorCode(t, w))
}

func TestReadinessProbes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	down := false
	cfg := &config.Config{}
	engine := NewApp(cfg, nil, Services{Probes: map[string]func(context.Context) error{
		"redis": func(context.Context) error {
			if down {
				return fmt.Errorf("connection refused")
			}
			return nil
		},
	}})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	down = true
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis unavailable")
}
