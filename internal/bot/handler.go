package bot

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	dl "github.com/open-builders/campaign-bot/internal/domain/ledger"
	"github.com/open-builders/campaign-bot/internal/domain/user"
	campaignsvc "github.com/open-builders/campaign-bot/internal/service/campaign"
	ledgersvc "github.com/open-builders/campaign-bot/internal/service/ledger"
	"github.com/open-builders/campaign-bot/internal/service/participation"
	usersvc "github.com/open-builders/campaign-bot/internal/service/user"
	"github.com/open-builders/campaign-bot/internal/service/verification"
	"github.com/open-builders/campaign-bot/internal/service/wizard"
)

const (
	shards        = 8
	updateTimeout = 30 * time.Second
	joinCallback  = "join:"
)

var challengeCode = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// Messenger is the outbound side of the Telegram bot API.
type Messenger interface {
	Send(ctx context.Context, msg tgbotapi.Chattable) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Deps are the services the bot drives.
type Deps struct {
	Users         *usersvc.Service
	Verification  *verification.Service
	Inbox         *verification.Inbox
	Wizard        *wizard.Service
	Campaigns     *campaignsvc.Service
	Participation *participation.Service
	Ledger        *ledgersvc.Service
}

// Handler turns Telegram updates into service calls and replies.
type Handler struct {
	tg          Messenger
	deps        Deps
	botUsername string
	nowFn       func() time.Time
}

func NewHandler(tg Messenger, deps Deps, botUsername string) *Handler {
	return &Handler{tg: tg, deps: deps, botUsername: botUsername, nowFn: time.Now}
}

// Run dispatches updates until ctx is cancelled or the channel closes.
// Updates from one user are handled in order; different users run in parallel.
func (h *Handler) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	var wg sync.WaitGroup
	queues := make([]chan tgbotapi.Update, shards)
	for i := range queues {
		queues[i] = make(chan tgbotapi.Update, 64)
		wg.Add(1)
		go func(q <-chan tgbotapi.Update) {
			defer wg.Done()
			for u := range q {
				h.handleWithTimeout(ctx, u)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		log.Info().Msg("bot update loop stopped")
	}()

	log.Info().Str("bot", h.botUsername).Msg("bot update loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			queues[shardOf(u)] <- u
		}
	}
}

func shardOf(u tgbotapi.Update) int {
	from := u.SentFrom()
	if from == nil {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(from.ID, 10)))
	return int(h.Sum32() % shards)
}

func (h *Handler) handleWithTimeout(ctx context.Context, u tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("update_id", u.UpdateID).Msg("update handler panicked")
		}
	}()
	h.HandleUpdate(ctx, u)
}

// HandleUpdate processes one update synchronously.
func (h *Handler) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.Message != nil:
		h.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		h.handleCallback(ctx, u.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || m.From.IsBot || m.Chat == nil || !m.Chat.IsPrivate() {
		return
	}
	if _, err := h.deps.Users.Touch(ctx, m.From.ID, m.From.UserName, m.From.FirstName); err != nil {
		log.Error().Err(err).Int64("user_id", m.From.ID).Msg("register user")
		h.replyError(ctx, m.Chat.ID, err)
		return
	}

	if m.IsCommand() {
		args := strings.Fields(m.CommandArguments())
		switch m.Command() {
		case "start":
			h.handleStart(ctx, m, args)
		case "help":
			h.reply(ctx, m.Chat.ID, helpText)
		case "link":
			h.handleLink(ctx, m, args)
		case "verify":
			h.handleVerify(ctx, m, args)
		case "unlink":
			h.handleUnlink(ctx, m, args)
		case "newcampaign":
			h.handleNewCampaign(ctx, m)
		case "cancel":
			h.handleCancel(ctx, m)
		case "campaigns":
			h.handleCampaigns(ctx, m)
		case "join":
			h.handleJoin(ctx, m.Chat.ID, m.From.ID, args)
		case "check":
			h.handleCheck(ctx, m, args)
		case "balance":
			h.handleBalance(ctx, m)
		case "cashout":
			h.handleCashout(ctx, m, args)
		default:
			h.reply(ctx, m.Chat.ID, "Unknown command. Send /help to see what I can do.")
		}
		return
	}
	h.handleText(ctx, m)
}

// handleText feeds the wizard when a session is open, otherwise treats a
// six character hex message as a Telegram verification code. Only codes that
// were issued and are still live reach the inbox.
func (h *Handler) handleText(ctx context.Context, m *tgbotapi.Message) {
	text := strings.TrimSpace(m.Text)
	active, err := h.deps.Wizard.Active(ctx, m.From.ID)
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	if active {
		r, err := h.deps.Wizard.Handle(ctx, m.From.ID, text)
		if errors.Is(err, wizard.ErrNoSession) {
			h.reply(ctx, m.Chat.ID, "Your campaign draft expired. Send /newcampaign to start over.")
			return
		}
		if err != nil {
			h.replyError(ctx, m.Chat.ID, err)
			if !r.Cancelled {
				return
			}
		}
		h.sendWizard(ctx, m.Chat.ID, r)
		return
	}

	if challengeCode.MatchString(text) {
		_, issued, err := h.deps.Verification.ResolveCode(ctx, user.PlatformTelegram, text)
		if err != nil {
			h.replyError(ctx, m.Chat.ID, err)
			return
		}
		if !issued {
			h.reply(ctx, m.Chat.ID, "⚠️ That code was not issued or has expired. Send /link telegram <handle> to get a new one.")
			return
		}
		if err := h.deps.Inbox.Record(ctx, text, m.From.ID, m.From.UserName, h.nowFn()); err != nil {
			h.replyError(ctx, m.Chat.ID, err)
			return
		}
		h.reply(ctx, m.Chat.ID, "Code received. Now send /verify telegram to finish linking.")
		return
	}
	h.reply(ctx, m.Chat.ID, helpText)
}

func (h *Handler) handleStart(ctx context.Context, m *tgbotapi.Message, args []string) {
	if len(args) > 0 {
		if _, err := h.deps.Users.AttachReferrer(ctx, m.From.ID, args[0]); err != nil {
			log.Info().Err(err).Int64("user_id", m.From.ID).Str("code", args[0]).Msg("referral not attached")
		}
	}
	u, err := h.deps.Users.GetByID(ctx, m.From.ID)
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	text := fmt.Sprintf("Welcome, %s!\n\nJoin campaigns, engage with posts and earn credits.\n"+
		"Invite friends with your link and earn a bonus on their rewards:\nhttps://t.me/%s?start=%s\n\n%s",
		u.FirstName, h.botUsername, u.ReferralCode, helpText)
	h.reply(ctx, m.Chat.ID, text)
}

func (h *Handler) handleLink(ctx context.Context, m *tgbotapi.Message, args []string) {
	if len(args) != 2 {
		h.reply(ctx, m.Chat.ID, "Usage: /link <x|discord|telegram> <handle>")
		return
	}
	p, ok := user.ParsePlatform(args[0])
	if !ok {
		h.reply(ctx, m.Chat.ID, "Supported platforms: x, discord, telegram.")
		return
	}
	code, expires, err := h.deps.Verification.RequestChallenge(ctx, m.From.ID, p, args[1])
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	var how string
	switch p {
	case user.PlatformX:
		how = fmt.Sprintf("Post a tweet containing %s from that account.", code)
	case user.PlatformDiscord:
		how = fmt.Sprintf("Post %s in our verification channel from that account.", code)
	case user.PlatformTelegram:
		how = fmt.Sprintf("Send %s to this bot from that account.", code)
	}
	h.reply(ctx, m.Chat.ID, fmt.Sprintf("Your code is %s (valid until %s).\n%s\nThen send /verify %s.",
		code, expires.UTC().Format("2006-01-02 15:04 UTC"), how, p))
}

func (h *Handler) handleVerify(ctx context.Context, m *tgbotapi.Message, args []string) {
	p, ok := platformArg(args)
	if !ok {
		h.reply(ctx, m.Chat.ID, "Usage: /verify <x|discord|telegram>")
		return
	}
	acc, err := h.deps.Verification.ConfirmChallenge(ctx, m.From.ID, p)
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	h.reply(ctx, m.Chat.ID, fmt.Sprintf("✅ Your %s account @%s is verified.", acc.Platform, acc.Handle))
}

func (h *Handler) handleUnlink(ctx context.Context, m *tgbotapi.Message, args []string) {
	p, ok := platformArg(args)
	if !ok {
		h.reply(ctx, m.Chat.ID, "Usage: /unlink <x|discord|telegram>")
		return
	}
	if err := h.deps.Verification.Unlink(ctx, m.From.ID, p); err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	h.reply(ctx, m.Chat.ID, fmt.Sprintf("Your %s account was unlinked.", p))
}

func platformArg(args []string) (user.Platform, bool) {
	if len(args) != 1 {
		return "", false
	}
	return user.ParsePlatform(args[0])
}

func (h *Handler) handleNewCampaign(ctx context.Context, m *tgbotapi.Message) {
	r, err := h.deps.Wizard.Start(ctx, m.From.ID)
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	h.sendWizard(ctx, m.Chat.ID, r)
}

func (h *Handler) handleCancel(ctx context.Context, m *tgbotapi.Message) {
	r, err := h.deps.Wizard.Cancel(ctx, m.From.ID)
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	h.sendWizard(ctx, m.Chat.ID, r)
}

func (h *Handler) handleCampaigns(ctx context.Context, m *tgbotapi.Message) {
	list, err := h.deps.Campaigns.FindEligible(ctx, m.From.ID)
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	if len(list) == 0 {
		h.reply(ctx, m.Chat.ID, "No campaigns are open right now. Check back soon!")
		return
	}
	var b strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton
	b.WriteString("Open campaigns:\n")
	for i, c := range list {
		fmt.Fprintf(&b, "\n%d. %s (%d credits, ends %s)\n%s\nID: %s\n", i+1, c.Name, c.BaseReward(), c.EndAt.Format("Jan 2"), c.TargetPostURL, c.ID)
		if i < 10 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Join "+c.Name, joinCallback+c.ID)))
		}
	}
	msg := tgbotapi.NewMessage(m.Chat.ID, b.String())
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.send(ctx, msg)
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if err := h.tg.AnswerCallback(ctx, q.ID, ""); err != nil {
		log.Warn().Err(err).Msg("answer callback")
	}
	if q.Message == nil || q.From == nil || !strings.HasPrefix(q.Data, joinCallback) {
		return
	}
	h.handleJoin(ctx, q.Message.Chat.ID, q.From.ID, []string{strings.TrimPrefix(q.Data, joinCallback)})
}

func (h *Handler) handleJoin(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) != 1 {
		h.reply(ctx, chatID, "Usage: /join <campaign id>")
		return
	}
	if _, err := h.deps.Participation.Join(ctx, userID, args[0]); err != nil {
		h.replyError(ctx, chatID, err)
		return
	}
	c, err := h.deps.Campaigns.Get(ctx, args[0])
	if err != nil {
		h.replyError(ctx, chatID, err)
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf("You joined %q.\nLike and repost %s, then send /check %s.", c.Name, c.TargetPostURL, c.ID))
}

// handleCheck confirms engagement and claims the reward in one step.
func (h *Handler) handleCheck(ctx context.Context, m *tgbotapi.Message, args []string) {
	if len(args) != 1 {
		h.reply(ctx, m.Chat.ID, "Usage: /check <campaign id>")
		return
	}
	p, err := h.deps.Participation.ConfirmParticipation(ctx, m.From.ID, args[0])
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	if p.RewardGranted {
		h.reply(ctx, m.Chat.ID, fmt.Sprintf("You already received %d credits for this campaign.", p.RewardAmount))
		return
	}
	entry, err := h.deps.Ledger.GrantReward(ctx, m.From.ID, args[0])
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	h.reply(ctx, m.Chat.ID, fmt.Sprintf("✅ Participation confirmed. %d credits were added to your balance.", entry.Amount))
}

func (h *Handler) handleBalance(ctx context.Context, m *tgbotapi.Message) {
	credits, err := h.deps.Ledger.Balance(ctx, m.From.ID)
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	history, err := h.deps.Ledger.History(ctx, m.From.ID, 5)
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	usd, _, _ := h.deps.Ledger.Quote(credits)
	var b strings.Builder
	fmt.Fprintf(&b, "Balance: %d credits (≈ $%s)\n", credits, usd.StringFixed(2))
	if len(history) > 0 {
		b.WriteString("\nRecent activity:\n")
		for _, e := range history {
			fmt.Fprintf(&b, "%s %+d %s\n", e.CreatedAt.Format("Jan 2"), e.Amount, e.Description)
		}
	}
	h.reply(ctx, m.Chat.ID, b.String())
}

func (h *Handler) handleCashout(ctx context.Context, m *tgbotapi.Message, args []string) {
	if len(args) != 3 {
		h.reply(ctx, m.Chat.ID, "Usage: /cashout <credits> <paypal|ton> <email or address>")
		return
	}
	credits, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || credits <= 0 {
		h.reply(ctx, m.Chat.ID, "Credits must be a positive number.")
		return
	}
	p, err := h.deps.Ledger.Cashout(ctx, m.From.ID, credits, dl.PaymentMethod(strings.ToLower(args[1])), args[2])
	if err != nil {
		h.replyError(ctx, m.Chat.ID, err)
		return
	}
	h.reply(ctx, m.Chat.ID, fmt.Sprintf("Cashout requested: %d credits → $%s after $%s commission.\nPayout ID: %s",
		p.Credits, p.FinalAmount.StringFixed(2), p.Commission.StringFixed(2), p.ID))
}

func (h *Handler) sendWizard(ctx context.Context, chatID int64, r wizard.Reply) {
	text := r.Text
	if r.Error != "" {
		text = "⚠️ " + r.Error + "\n\n" + text
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if len(r.Options) > 0 {
		var rows [][]tgbotapi.KeyboardButton
		for _, o := range r.Options {
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(o)))
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.OneTimeKeyboard = true
		msg.ReplyMarkup = kb
	} else {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}
	h.send(ctx, msg)
}

// replyError renders err by kind: bad input and state conflicts become a retry
// prompt, outages ask to try later, permission errors end the command.
func (h *Handler) replyError(ctx context.Context, chatID int64, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("unexpected bot error")
		h.reply(ctx, chatID, "Something went wrong. Please try again.")
		return
	}
	switch appErr.Kind() {
	case apperrors.KindValidation, apperrors.KindStateConflict, apperrors.KindNotFound:
		h.reply(ctx, chatID, "⚠️ "+appErr.Message)
	case apperrors.KindExternalUnavailable:
		h.reply(ctx, chatID, "⏳ The service is temporarily unavailable. Please try again in a few minutes.")
	case apperrors.KindPermission:
		h.reply(ctx, chatID, "⛔ "+appErr.Message)
	default:
		log.Error().Err(err).Int64("chat_id", chatID).Msg("bot command failed")
		h.reply(ctx, chatID, "Something went wrong. Please try again.")
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	h.send(ctx, msg)
}

func (h *Handler) send(ctx context.Context, msg tgbotapi.Chattable) {
	if err := h.tg.Send(ctx, msg); err != nil {
		log.Warn().Err(err).Msg("bot reply failed")
	}
}

const helpText = `Commands:
/link <x|discord|telegram> <handle> - link a social account
/verify <platform> - confirm the posted code
/unlink <platform> - remove a linked account
/campaigns - open campaigns
/join <id> - join a campaign
/check <id> - confirm your engagement and get the reward
/balance - credits and recent activity
/cashout <credits> <paypal|ton> <destination> - withdraw
/newcampaign - create a campaign (project admins)
/cancel - abort campaign creation`
