package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	dc "github.com/open-builders/campaign-bot/internal/domain/campaign"
	dl "github.com/open-builders/campaign-bot/internal/domain/ledger"
	"github.com/open-builders/campaign-bot/internal/domain/user"
)

// Rates are the reward and cashout parameters.
type Rates struct {
	PremiumMultiplierPercent int64
	ReferralBonusPercent     int64
	MinCashoutCredits        int64
	CommissionPercent        int64
	CreditsPerUSD            int64
}

// DefaultRates mirrors the configuration defaults.
var DefaultRates = Rates{
	PremiumMultiplierPercent: 150,
	ReferralBonusPercent:     10,
	MinCashoutCredits:        1000,
	CommissionPercent:        5,
	CreditsPerUSD:            100,
}

// Notifier is the subset of notifications used by the ledger.
type Notifier interface {
	RewardGranted(ctx context.Context, userID int64, c *dc.Campaign, amount int64)
	ReferralBonus(ctx context.Context, referrerID int64, amount int64)
	CashoutRequested(ctx context.Context, p *dl.Payout)
	PayoutSettled(ctx context.Context, p *dl.Payout)
}

// Invalidator drops cached user views after a balance change.
type Invalidator interface {
	Invalidate(ctx context.Context, id int64)
}

// Service computes and applies credit movements.
type Service struct {
	repo      dl.Repository
	users     user.Repository
	campaigns dc.Repository
	notifier  Notifier
	cache     Invalidator
	rates     Rates
	validate  *validator.Validate
	nowFn     func() time.Time
}

func NewService(repo dl.Repository, users user.Repository, campaigns dc.Repository, notifier Notifier, cache Invalidator, rates Rates) *Service {
	return &Service{
		repo:      repo,
		users:     users,
		campaigns: campaigns,
		notifier:  notifier,
		cache:     cache,
		rates:     rates,
		validate:  validator.New(),
		nowFn:     time.Now,
	}
}

// RewardAmount applies the premium multiplier to base, flooring to whole credits.
func (s *Service) RewardAmount(base int64, premium bool) int64 {
	if !premium {
		return base
	}
	return base * s.rates.PremiumMultiplierPercent / 100
}

// ReferralBonus is floor(amount * percent / 100).
func (s *Service) ReferralBonus(amount int64) int64 {
	return amount * s.rates.ReferralBonusPercent / 100
}

// GrantReward credits a participant exactly once. The storage layer guards the
// participated/reward_granted flags; the referral bonus runs afterwards on its own
// and its failure never undoes the primary grant.
func (s *Service) GrantReward(ctx context.Context, userID int64, campaignID string) (*dl.Entry, error) {
	c, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get campaign", err)
	}
	if c == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeCampaignNotFound, "campaign %s not found", campaignID)
	}
	p, ok := c.Participant(userID)
	if !ok || !p.Participated {
		return nil, apperrors.New(apperrors.ErrCodeNotParticipated, "participation not confirmed yet")
	}
	if p.RewardGranted {
		return nil, apperrors.New(apperrors.ErrCodeRewardAlreadyGiven, "reward already granted")
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get user", err)
	}
	if u == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user %d not found", userID)
	}

	now := s.nowFn().UTC()
	amount := s.RewardAmount(c.BaseReward(), u.PremiumActive(now))
	entry, err := s.repo.GrantReward(ctx, dl.Grant{CampaignID: campaignID, UserID: userID, Amount: amount, At: now})
	if err != nil {
		switch {
		case errors.Is(err, dl.ErrAlreadyGranted):
			return nil, apperrors.New(apperrors.ErrCodeRewardAlreadyGiven, "reward already granted")
		case errors.Is(err, dl.ErrNotParticipated):
			return nil, apperrors.New(apperrors.ErrCodeNotParticipated, "participation not confirmed yet")
		case errors.Is(err, dl.ErrUserNotFound):
			return nil, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user %d not found", userID)
		}
		return nil, apperrors.NewDatabaseError("grant reward", err)
	}
	s.invalidate(ctx, userID)
	log.Info().Int64("user_id", userID).Str("campaign_id", campaignID).Int64("amount", amount).Msg("reward granted")
	if s.notifier != nil {
		s.notifier.RewardGranted(ctx, userID, c, amount)
	}

	if u.ReferredBy != nil {
		s.creditReferrer(ctx, *u.ReferredBy, userID, amount, campaignID)
	}
	return entry, nil
}

func (s *Service) creditReferrer(ctx context.Context, referrerID, userID, amount int64, campaignID string) {
	bonus := s.ReferralBonus(amount)
	if bonus <= 0 {
		return
	}
	_, err := s.repo.Credit(ctx, referrerID, bonus, dl.KindReferral, fmt.Sprintf("Referral bonus from user %d", userID), campaignID)
	if err != nil {
		log.Error().Err(err).Int64("referrer_id", referrerID).Int64("user_id", userID).Int64("bonus", bonus).Msg("referral bonus failed")
		return
	}
	s.invalidate(ctx, referrerID)
	if s.notifier != nil {
		s.notifier.ReferralBonus(ctx, referrerID, bonus)
	}
}

// Quote computes the USD breakdown of a cashout.
func (s *Service) Quote(credits int64) (usd, commission, final decimal.Decimal) {
	usd = decimal.NewFromInt(credits).Div(decimal.NewFromInt(s.rates.CreditsPerUSD))
	commission = usd.Mul(decimal.NewFromInt(s.rates.CommissionPercent)).Div(decimal.NewFromInt(100)).Round(2)
	final = usd.Sub(commission)
	return usd, commission, final
}

// Cashout debits credits immediately and records a pending payout.
func (s *Service) Cashout(ctx context.Context, userID, credits int64, method dl.PaymentMethod, destination string) (*dl.Payout, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get user", err)
	}
	if u == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user %d not found", userID)
	}
	if !u.IsVerified() {
		return nil, apperrors.New(apperrors.ErrCodeNotVerified, "verify a social account before cashing out")
	}
	if credits < s.rates.MinCashoutCredits {
		return nil, apperrors.Newf(apperrors.ErrCodeBelowMinimum, "minimum cashout is %d credits", s.rates.MinCashoutCredits).
			WithDetail("minimum", s.rates.MinCashoutCredits)
	}
	if credits > u.Credits {
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientCredits, "balance is %d credits", u.Credits)
	}
	destination = strings.TrimSpace(destination)
	if err := s.validateDestination(method, destination); err != nil {
		return nil, err
	}

	usd, commission, final := s.Quote(credits)
	now := s.nowFn().UTC()
	p := &dl.Payout{
		ID:          uuid.NewString(),
		UserID:      userID,
		Credits:     credits,
		USDValue:    usd,
		Commission:  commission,
		FinalAmount: final,
		Method:      method,
		Destination: destination,
		Status:      dl.PayoutPending,
		CreatedAt:   now,
	}
	if err := s.repo.Cashout(ctx, p); err != nil {
		switch {
		case errors.Is(err, dl.ErrInsufficientCredits):
			return nil, apperrors.New(apperrors.ErrCodeInsufficientCredits, "insufficient credits")
		case errors.Is(err, dl.ErrUserNotFound):
			return nil, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user %d not found", userID)
		}
		return nil, apperrors.NewDatabaseError("cashout", err)
	}
	s.invalidate(ctx, userID)
	log.Info().Int64("user_id", userID).Str("payout_id", p.ID).Int64("credits", credits).Str("final_usd", final.StringFixed(2)).Msg("cashout requested")
	if s.notifier != nil {
		s.notifier.CashoutRequested(ctx, p)
	}
	return p, nil
}

func (s *Service) validateDestination(method dl.PaymentMethod, destination string) error {
	switch method {
	case dl.MethodPayPal:
		if err := s.validate.Var(destination, "required,email"); err != nil {
			return apperrors.NewValidationError("destination", "a valid PayPal email is required")
		}
	case dl.MethodTON:
		if _, err := address.ParseAddr(destination); err != nil {
			return apperrors.NewValidationError("destination", "a valid TON address is required")
		}
	default:
		return apperrors.NewValidationError("method", "must be paypal or ton")
	}
	return nil
}

// SettlePayout marks a pending payout paid or failed; failures refund the credits.
func (s *Service) SettlePayout(ctx context.Context, payoutID string, paid bool) (*dl.Payout, error) {
	p, err := s.repo.SettlePayout(ctx, payoutID, paid, s.nowFn().UTC())
	if err != nil {
		switch {
		case errors.Is(err, dl.ErrPayoutNotFound):
			return nil, apperrors.Newf(apperrors.ErrCodePayoutNotFound, "payout %s not found", payoutID)
		case errors.Is(err, dl.ErrPayoutSettled):
			return nil, apperrors.New(apperrors.ErrCodePayoutSettled, "payout already settled")
		}
		return nil, apperrors.NewDatabaseError("settle payout", err)
	}
	s.invalidate(ctx, p.UserID)
	log.Info().Str("payout_id", p.ID).Str("status", string(p.Status)).Msg("payout settled")
	if s.notifier != nil {
		s.notifier.PayoutSettled(ctx, p)
	}
	return p, nil
}

// Balance returns the user's current credits.
func (s *Service) Balance(ctx context.Context, userID int64) (int64, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return 0, apperrors.NewDatabaseError("get user", err)
	}
	if u == nil {
		return 0, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user %d not found", userID)
	}
	return u.Credits, nil
}

// History returns the latest ledger entries.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]dl.Entry, error) {
	out, err := s.repo.History(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("ledger history", err)
	}
	return out, nil
}

// Credit records a completed non-reward movement such as a purchase bonus.
func (s *Service) Credit(ctx context.Context, userID, amount int64, kind dl.EntryKind, description, reference string) (*dl.Entry, error) {
	e, err := s.repo.Credit(ctx, userID, amount, kind, description, reference)
	if err != nil {
		if errors.Is(err, dl.ErrUserNotFound) {
			return nil, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user %d not found", userID)
		}
		return nil, apperrors.NewDatabaseError("credit", err)
	}
	s.invalidate(ctx, userID)
	return e, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
}
