package bot

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dc "github.com/open-builders/campaign-bot/internal/domain/campaign"
	dp "github.com/open-builders/campaign-bot/internal/domain/project"
	"github.com/open-builders/campaign-bot/internal/domain/user"
	rplatform "github.com/open-builders/campaign-bot/internal/platform/redis"
	"github.com/open-builders/campaign-bot/internal/repository/memory"
	campaignsvc "github.com/open-builders/campaign-bot/internal/service/campaign"
	ledgersvc "github.com/open-builders/campaign-bot/internal/service/ledger"
	"github.com/open-builders/campaign-bot/internal/service/participation"
	projectsvc "github.com/open-builders/campaign-bot/internal/service/project"
	usersvc "github.com/open-builders/campaign-bot/internal/service/user"
	"github.com/open-builders/campaign-bot/internal/service/verification"
	"github.com/open-builders/campaign-bot/internal/service/wizard"
)

const (
	owner  int64 = 10
	member int64 = 20
)

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	answered []string
}

func (f *fakeMessenger) Send(_ context.Context, msg tgbotapi.Chattable) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := msg.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeMessenger) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type engagementStub struct{}

func (engagementStub) CheckEngagement(context.Context, string, string) (participation.Engagement, error) {
	return participation.Engagement{Liked: true, Retweeted: true, Metrics: dc.Stats{Likes: 1, Retweets: 1}}, nil
}

type fixture struct {
	h     *Handler
	tg    *fakeMessenger
	store *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := rplatform.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	store := memory.NewStore()
	require.NoError(t, store.Projects().Create(ctx, &dp.Project{
		ID: "p1", Name: "Acme", OwnerID: owner,
		Subscription: dp.Subscription{Active: true, CampaignsRemaining: 2},
	}))

	users := usersvc.NewService(store.Users(), nil)
	projects := projectsvc.NewService(store.Projects())
	campaigns := campaignsvc.NewService(store.Campaigns(), store.Projects(), nil)
	inbox := verification.NewInbox(rdb)
	deps := Deps{
		Users:         users,
		Verification:  verification.NewService(store.Users(), map[user.Platform]verification.ChallengeChecker{user.PlatformTelegram: inbox}, rdb, nil, users),
		Inbox:         inbox,
		Wizard:        wizard.NewService(wizard.NewSessionStore(rdb, 30*time.Minute), projects, campaigns),
		Campaigns:     campaigns,
		Participation: participation.NewService(store.Campaigns(), store.Users(), engagementStub{}),
		Ledger:        ledgersvc.NewService(store.Ledger(), store.Users(), store.Campaigns(), nil, users, ledgersvc.DefaultRates),
	}
	tg := &fakeMessenger{}
	return &fixture{h: NewHandler(tg, deps, "campaigns_bot"), tg: tg, store: store}
}

func message(from int64, username, text string) tgbotapi.Update {
	m := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from, UserName: username, FirstName: "Test"},
		Chat:      &tgbotapi.Chat{ID: from, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: m}
}

func (f *fixture) say(t *testing.T, from int64, text string) string {
	t.Helper()
	f.h.HandleUpdate(context.Background(), message(from, "user_"+strings.Repeat("x", 3), text))
	return f.tg.last(t).Text
}

func TestStartAttachesReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply := f.say(t, owner, "/start")
	assert.Contains(t, reply, "https://t.me/campaigns_bot?start=")
	ref, err := f.store.Users().GetByID(ctx, owner)
	require.NoError(t, err)

	f.say(t, member, "/start "+ref.ReferralCode)
	u, err := f.store.Users().GetByID(ctx, member)
	require.NoError(t, err)
	require.NotNil(t, u.ReferredBy)
	assert.Equal(t, owner, *u.ReferredBy)

	reply = f.say(t, 30, "/start ffffffff")
	assert.Contains(t, reply, "Welcome", "unknown referral code does not block onboarding")
}

func TestTelegramVerificationThroughInbox(t *testing.T) {
	f := newFixture(t)
	from := func(text string) string {
		f.h.HandleUpdate(context.Background(), message(member, "member_tg", text))
		return f.tg.last(t).Text
	}

	reply := from("/link telegram @member_tg")
	code := regexp.MustCompile(`code is ([0-9a-f]{6})`).FindStringSubmatch(reply)
	require.Len(t, code, 2, reply)

	reply = from("/verify telegram")
	assert.Contains(t, reply, "⚠️", "code not sent yet")

	assert.Contains(t, from(code[1]), "Code received")
	assert.Contains(t, from("/verify telegram"), "is verified")

	u, err := f.store.Users().GetByID(context.Background(), member)
	require.NoError(t, err)
	assert.True(t, u.HasVerified(user.PlatformTelegram))

	assert.Contains(t, from("/unlink telegram"), "unlinked")
	assert.Contains(t, from("/link mastodon bob"), "Supported platforms")
}

func TestUnissuedCodeIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := func(text string) string {
		f.h.HandleUpdate(ctx, message(member, "member_tg", text))
		return f.tg.last(t).Text
	}

	assert.Contains(t, from("a1b2c3"), "not issued")
	msg, err := f.h.deps.Inbox.CheckChallengeMessage(ctx, "member_tg", "a1b2c3", time.Time{})
	require.NoError(t, err)
	assert.False(t, msg.Found)

	reply := from("/link telegram @member_tg")
	code := regexp.MustCompile(`code is ([0-9a-f]{6})`).FindStringSubmatch(reply)
	require.Len(t, code, 2, reply)
	other := "a1b2c3"
	if code[1] == other {
		other = "c3b2a1"
	}
	assert.Contains(t, from(other), "not issued")
	assert.Contains(t, from("/verify telegram"), "⚠️")
	assert.Contains(t, from(strings.ToUpper(code[1])), "Code received")
	assert.Contains(t, from("/verify telegram"), "is verified")
}

func TestWizardThroughBot(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.say(t, member, "/newcampaign"), "⛔")

	f.say(t, owner, "/newcampaign")
	opts := f.tg.last(t).ReplyMarkup
	kb, ok := opts.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok, "project choices shown as keyboard")
	assert.Equal(t, "Acme", kb.Keyboard[0][0].Text)

	inputs := []string{
		"Acme", "Launch week", "Like and retweet our launch post",
		"https://x.com/acme/status/1790000000000000000", "7",
		"credits", "300 Base reward", "skip", "done", "100", "public",
	}
	for _, in := range inputs {
		reply := f.say(t, owner, in)
		require.NotContains(t, reply, "⚠️", in)
	}
	assert.Contains(t, f.say(t, owner, "maybe"), "⚠️")
	assert.Contains(t, f.say(t, owner, "yes"), "is live until")

	list, err := f.store.Campaigns().ListByProject(context.Background(), "p1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(300), list[0].BaseReward())

	f.say(t, owner, "/newcampaign")
	assert.Contains(t, f.say(t, owner, "/cancel"), "cancelled")
	assert.Contains(t, f.say(t, owner, "Launch week"), "Commands:", "no session after cancel")
}

func TestJoinCheckAndCashout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	verifiedAt := time.Now()
	require.NoError(t, f.store.Users().Upsert(ctx, &user.User{
		ID: member, Username: "member",
		SocialAccounts: []user.SocialAccount{{Platform: user.PlatformX, Handle: "member", Status: user.StatusVerified, VerifiedAt: &verifiedAt}},
	}))
	now := time.Now().UTC()
	require.NoError(t, f.store.Campaigns().CreateWithQuota(ctx, &dc.Campaign{
		ID: "c1", ProjectID: "p1", Name: "Launch", Status: dc.StatusActive, Visibility: dc.VisibilityPublic,
		TargetPostURL: "https://x.com/acme/status/1", StartAt: now, EndAt: now.Add(time.Hour),
		RequiredPlatforms: []user.Platform{user.PlatformX},
		Rewards:           []dc.Reward{{Type: dc.RewardTypeCredits, Description: "Base", Credits: 1500}},
	}))

	f.say(t, member, "/campaigns")
	markup, ok := f.tg.last(t).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "join:c1", *markup.InlineKeyboard[0][0].CallbackData)

	f.h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb1", From: &tgbotapi.User{ID: member}, Data: "join:c1",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: member, Type: "private"}},
	}})
	assert.Equal(t, []string{"cb1"}, f.tg.answered)
	assert.Contains(t, f.tg.last(t).Text, "/check c1")

	assert.Contains(t, f.say(t, member, "/check c1"), "1500 credits were added")
	assert.Contains(t, f.say(t, member, "/check c1"), "already received 1500")
	assert.Contains(t, f.say(t, member, "/balance"), "Balance: 1500 credits")

	assert.Contains(t, f.say(t, member, "/cashout 1500 paypal"), "Usage")
	assert.Contains(t, f.say(t, member, "/cashout 500 paypal a@b.co"), "minimum cashout is 1000")
	assert.Contains(t, f.say(t, member, "/cashout 1000 PayPal a@b.co"), "$9.50 after $0.50 commission")
	assert.Contains(t, f.say(t, member, "/join nope"), "⚠️")
}

func TestIgnoresGroupMessages(t *testing.T) {
	f := newFixture(t)
	u := message(owner, "owner", "/start")
	u.Message.Chat.Type = "group"
	f.h.HandleUpdate(context.Background(), u)
	assert.Empty(t, f.tg.sent)
}
