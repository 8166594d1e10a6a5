package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	dp "github.com/open-builders/campaign-bot/internal/domain/project"
	rplatform "github.com/open-builders/campaign-bot/internal/platform/redis"
	stripeplatform "github.com/open-builders/campaign-bot/internal/platform/stripe"
)

const (
	KindPremium     = "premium"
	KindProjectPlan = "project_plan"

	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"

	seenKey    = "payments:event:%s"
	appliedKey = "payments:applied:%s"
	seenTTL    = 7 * 24 * time.Hour
)

// Provider creates checkouts and verifies webhooks.
type Provider interface {
	CreateCheckout(ctx context.Context, req stripeplatform.CheckoutRequest) (*stripeplatform.Checkout, error)
	ParseWebhook(payload []byte, signature string) (*stripeplatform.Event, error)
}

// PremiumActivator extends a user's premium period.
type PremiumActivator interface {
	ActivatePremium(ctx context.Context, userID int64, period time.Duration) error
}

// Projects is the project subset needed for plan purchases.
type Projects interface {
	GetManaged(ctx context.Context, actorID int64, id string) (*dp.Project, error)
	ActivatePlan(ctx context.Context, projectID, planID string, quota int) error
	DeactivatePlan(ctx context.Context, projectID string) error
}

// Notifier tells the buyer about activation.
type Notifier interface {
	PremiumActivated(ctx context.Context, userID int64)
}

// Catalog maps products to Stripe prices.
type Catalog struct {
	PremiumPrice  string
	PremiumPeriod time.Duration
	PlanPrices    map[string]string
	PlanQuotas    map[string]int
	SuccessURL    string
	CancelURL     string
}

// Service sells premium and project plans. Verified webhook events are pushed to a
// Redis stream and applied by the payments worker through HandleEvent.
type Service struct {
	provider Provider
	rdb      *rplatform.Client
	stream   string
	users    PremiumActivator
	projects Projects
	notifier Notifier
	catalog  Catalog
}

func NewService(provider Provider, rdb *rplatform.Client, stream string, users PremiumActivator, projects Projects, notifier Notifier, catalog Catalog) *Service {
	return &Service{
		provider: provider,
		rdb:      rdb,
		stream:   stream,
		users:    users,
		projects: projects,
		notifier: notifier,
		catalog:  catalog,
	}
}

// CheckoutPremium returns a checkout URL for the premium membership.
func (s *Service) CheckoutPremium(ctx context.Context, userID int64) (string, error) {
	if s.catalog.PremiumPrice == "" {
		return "", apperrors.New(apperrors.ErrCodePaymentUnavailable, "premium is not on sale")
	}
	uid := strconv.FormatInt(userID, 10)
	return s.checkout(ctx, stripeplatform.CheckoutRequest{
		PriceID:   s.catalog.PremiumPrice,
		Reference: uid,
		Metadata:  map[string]string{"kind": KindPremium, "user_id": uid},
	})
}

// CheckoutPlan returns a checkout URL for a project subscription plan.
func (s *Service) CheckoutPlan(ctx context.Context, actorID int64, projectID, planID string) (string, error) {
	price, ok := s.catalog.PlanPrices[planID]
	if !ok {
		return "", apperrors.NewValidationError("plan_id", "unknown plan")
	}
	if _, err := s.projects.GetManaged(ctx, actorID, projectID); err != nil {
		return "", err
	}
	uid := strconv.FormatInt(actorID, 10)
	return s.checkout(ctx, stripeplatform.CheckoutRequest{
		PriceID:      price,
		Subscription: true,
		Reference:    projectID,
		Metadata:     map[string]string{"kind": KindProjectPlan, "user_id": uid, "project_id": projectID, "plan_id": planID},
	})
}

func (s *Service) checkout(ctx context.Context, req stripeplatform.CheckoutRequest) (string, error) {
	if s.provider == nil {
		return "", apperrors.New(apperrors.ErrCodePaymentUnavailable, "payments are not configured")
	}
	req.SuccessURL = s.catalog.SuccessURL
	req.CancelURL = s.catalog.CancelURL
	co, err := s.provider.CreateCheckout(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("kind", req.Metadata["kind"]).Msg("checkout creation failed")
		return "", apperrors.Wrap(err, apperrors.ErrCodePaymentUnavailable, "payment provider unavailable")
	}
	return co.URL, nil
}

// AcceptWebhook verifies the payload and enqueues the event once. Redeliveries of
// an already accepted event id are acknowledged without enqueueing again.
func (s *Service) AcceptWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.provider == nil {
		return apperrors.New(apperrors.ErrCodePaymentUnavailable, "payments are not configured")
	}
	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, stripeplatform.ErrInvalidSignature) {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidSignature, "invalid webhook signature")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "malformed webhook payload")
	}
	switch ev.Type {
	case EventCheckoutCompleted, EventSubscriptionDeleted:
	default:
		log.Debug().Str("event_id", ev.ID).Str("type", ev.Type).Msg("ignoring payment event")
		return nil
	}

	key := fmt.Sprintf(seenKey, ev.ID)
	fresh, err := s.rdb.SetNX(ctx, key, 1, seenTTL).Result()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "dedupe payment event")
	}
	if !fresh {
		log.Info().Str("event_id", ev.ID).Msg("duplicate payment event")
		return nil
	}

	values := map[string]interface{}{"event_id": ev.ID, "type": ev.Type}
	for k, v := range ev.Metadata {
		values[k] = v
	}
	if err := s.rdb.XAdd(ctx, &redis.XAddArgs{Stream: s.stream, Values: values}).Err(); err != nil {
		// let the provider redeliver
		_ = s.rdb.Del(ctx, key).Err()
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "enqueue payment event")
	}
	log.Info().Str("event_id", ev.ID).Str("type", ev.Type).Msg("payment event accepted")
	return nil
}

// HandleEvent applies one stream entry. Returned errors leave the entry unacknowledged.
// Each event id is applied at most once, so an entry redelivered after a failed
// ack or reclaimed by another consumer is acknowledged without side effects.
func (s *Service) HandleEvent(ctx context.Context, values map[string]interface{}) error {
	str := func(k string) string {
		v, _ := values[k].(string)
		return v
	}
	eventID, typ, kind := str("event_id"), str("type"), str("kind")
	logger := log.With().Str("event_id", eventID).Str("type", typ).Str("kind", kind).Logger()

	if eventID == "" || s.rdb == nil {
		return s.apply(ctx, str, logger)
	}
	key := fmt.Sprintf(appliedKey, eventID)
	fresh, err := s.rdb.SetNX(ctx, key, 1, seenTTL).Result()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "mark payment event applied")
	}
	if !fresh {
		logger.Info().Msg("payment event already applied")
		return nil
	}
	if err := s.apply(ctx, str, logger); err != nil {
		// release the mark so the redelivered entry is retried
		if derr := s.rdb.Del(ctx, key).Err(); derr != nil {
			logger.Error().Err(derr).Msg("failed to release payment event mark")
		}
		return err
	}
	return nil
}

func (s *Service) apply(ctx context.Context, str func(string) string, logger zerolog.Logger) error {
	typ, kind := str("type"), str("kind")
	switch {
	case typ == EventCheckoutCompleted && kind == KindPremium:
		userID, err := strconv.ParseInt(str("user_id"), 10, 64)
		if err != nil {
			logger.Warn().Err(err).Msg("premium event without user id")
			return nil
		}
		if err := s.users.ActivatePremium(ctx, userID, s.catalog.PremiumPeriod); err != nil {
			return err
		}
		logger.Info().Int64("user_id", userID).Msg("premium activated")
		if s.notifier != nil {
			s.notifier.PremiumActivated(ctx, userID)
		}

	case typ == EventCheckoutCompleted && kind == KindProjectPlan:
		projectID, planID := str("project_id"), str("plan_id")
		quota, ok := s.catalog.PlanQuotas[planID]
		if projectID == "" || !ok {
			logger.Warn().Str("project_id", projectID).Str("plan_id", planID).Msg("plan event with unknown project or plan")
			return nil
		}
		if err := s.projects.ActivatePlan(ctx, projectID, planID, quota); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeProjectNotFound) {
				logger.Warn().Str("project_id", projectID).Msg("plan purchased for missing project")
				return nil
			}
			return err
		}
		logger.Info().Str("project_id", projectID).Str("plan_id", planID).Int("quota", quota).Msg("project plan activated")

	case typ == EventSubscriptionDeleted && kind == KindProjectPlan:
		projectID := str("project_id")
		if err := s.projects.DeactivatePlan(ctx, projectID); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeProjectNotFound) {
			return err
		}
		logger.Info().Str("project_id", projectID).Msg("project plan deactivated")

	default:
		logger.Debug().Msg("payment event needs no action")
	}
	return nil
}
