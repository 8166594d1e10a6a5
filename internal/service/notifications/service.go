package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/open-builders/campaign-bot/internal/domain/campaign"
	"github.com/open-builders/campaign-bot/internal/domain/ledger"
	"github.com/open-builders/campaign-bot/internal/domain/user"
)

// Sender delivers a plain text message to a Telegram chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Service formats and sends user notifications. Delivery is fire-and-forget:
// a blocked bot or network failure is logged and never returned.
type Service struct {
	tg         Sender
	webAppBase string
}

func NewService(tg Sender, webAppBaseURL string) *Service {
	return &Service{tg: tg, webAppBase: strings.TrimRight(webAppBaseURL, "/")}
}

func (s *Service) send(ctx context.Context, userID int64, text string) {
	if s == nil || s.tg == nil || userID == 0 {
		return
	}
	if err := s.tg.SendMessage(ctx, userID, text); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("notification delivery failed")
	}
}

// RewardGranted tells a participant about credited reward.
func (s *Service) RewardGranted(ctx context.Context, userID int64, c *campaign.Campaign, amount int64) {
	s.send(ctx, userID, fmt.Sprintf("🎉 You earned %d credits for participating in \"%s\".", amount, c.Name))
}

// ReferralBonus tells a referrer about the bonus earned through a referred user.
func (s *Service) ReferralBonus(ctx context.Context, referrerID int64, amount int64) {
	s.send(ctx, referrerID, fmt.Sprintf("🤝 Referral bonus: +%d credits.", amount))
}

// AccountVerified confirms a linked social account.
func (s *Service) AccountVerified(ctx context.Context, userID int64, acc user.SocialAccount) {
	s.send(ctx, userID, fmt.Sprintf("✅ Your %s account @%s is verified.", acc.Platform, acc.Handle))
}

// CampaignCreated notifies the creator with a link to the campaign page.
func (s *Service) CampaignCreated(ctx context.Context, c *campaign.Campaign) {
	text := fmt.Sprintf("🚀 Campaign \"%s\" is live until %s.", c.Name, c.EndAt.UTC().Format("2006-01-02 15:04 UTC"))
	if u := s.campaignURL(c.ID); u != "" {
		text += "\n" + u
	}
	s.send(ctx, c.CreatorID, text)
}

// CashoutRequested confirms a pending payout.
func (s *Service) CashoutRequested(ctx context.Context, p *ledger.Payout) {
	s.send(ctx, p.UserID, fmt.Sprintf("💸 Cashout of %d credits requested: $%s will be sent via %s.",
		p.Credits, p.FinalAmount.StringFixed(2), p.Method))
}

// PayoutSettled reports the final payout outcome.
func (s *Service) PayoutSettled(ctx context.Context, p *ledger.Payout) {
	if p.Status == ledger.PayoutPaid {
		s.send(ctx, p.UserID, fmt.Sprintf("✅ Your payout of $%s was sent.", p.FinalAmount.StringFixed(2)))
		return
	}
	s.send(ctx, p.UserID, fmt.Sprintf("⚠️ Your payout failed; %d credits were returned to your balance.", p.Credits))
}

// PremiumActivated confirms a premium purchase.
func (s *Service) PremiumActivated(ctx context.Context, userID int64) {
	s.send(ctx, userID, "⭐ Premium is active: campaign rewards are boosted.")
}

func (s *Service) campaignURL(id string) string {
	if s.webAppBase == "" {
		return ""
	}
	return fmt.Sprintf("%s/c/%s", s.webAppBase, id)
}
