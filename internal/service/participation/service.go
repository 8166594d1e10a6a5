package participation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	"github.com/open-builders/campaign-bot/internal/common/validation"
	dc "github.com/open-builders/campaign-bot/internal/domain/campaign"
	"github.com/open-builders/campaign-bot/internal/domain/user"
)

// Engagement is the collaborator's answer for one handle on one post.
// Metrics holds this participant's contribution to the campaign counters.
type Engagement struct {
	Liked     bool
	Retweeted bool
	Replied   bool
	Metrics   dc.Stats
}

// Verified reports whether the engagement qualifies as participation.
func (e Engagement) Verified() bool { return e.Liked && e.Retweeted }

// EngagementChecker cross-references a post's engagement with a handle.
// An error means the platform could not be queried.
type EngagementChecker interface {
	CheckEngagement(ctx context.Context, postID, handle string) (Engagement, error)
}

// Service admits users into campaigns and records verified participation.
type Service struct {
	campaigns dc.Repository
	users     user.Repository
	checker   EngagementChecker
	nowFn     func() time.Time
}

func NewService(campaigns dc.Repository, users user.Repository, checker EngagementChecker) *Service {
	return &Service{campaigns: campaigns, users: users, checker: checker, nowFn: time.Now}
}

func (s *Service) load(ctx context.Context, userID int64, campaignID string) (*dc.Campaign, *user.User, error) {
	c, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, nil, apperrors.NewDatabaseError("get campaign", err)
	}
	if c == nil {
		return nil, nil, apperrors.Newf(apperrors.ErrCodeCampaignNotFound, "campaign %s not found", campaignID)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, apperrors.NewDatabaseError("get user", err)
	}
	if u == nil {
		return nil, nil, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user %d not found", userID)
	}
	return c, u, nil
}

func notVerified(missing []user.Platform) error {
	names := make([]string, 0, len(missing))
	for _, p := range missing {
		names = append(names, string(p))
	}
	return apperrors.Newf(apperrors.ErrCodeAccountNotVerified, "verify your %s account first", strings.Join(names, ", ")).
		WithDetail("missing_platforms", names)
}

// Join admits the user. Every required platform must be verified.
func (s *Service) Join(ctx context.Context, userID int64, campaignID string) (*dc.Participant, error) {
	c, u, err := s.load(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != dc.StatusActive {
		return nil, apperrors.Newf(apperrors.ErrCodeCampaignNotActive, "campaign is %s", c.Status)
	}
	if p, ok := c.Participant(userID); ok && p.Joined {
		return nil, apperrors.New(apperrors.ErrCodeAlreadyJoined, "you already joined this campaign")
	}
	if missing := u.MissingPlatforms(c.RequiredPlatforms); len(missing) > 0 {
		return nil, notVerified(missing)
	}

	now := s.nowFn().UTC()
	if err := s.campaigns.Join(ctx, campaignID, userID, now); err != nil {
		switch {
		case errors.Is(err, dc.ErrNotFound):
			return nil, apperrors.Newf(apperrors.ErrCodeCampaignNotFound, "campaign %s not found", campaignID)
		case errors.Is(err, dc.ErrNotActive):
			return nil, apperrors.New(apperrors.ErrCodeCampaignNotActive, "campaign is no longer active")
		case errors.Is(err, dc.ErrAlreadyJoined):
			return nil, apperrors.New(apperrors.ErrCodeAlreadyJoined, "you already joined this campaign")
		case errors.Is(err, dc.ErrNotInvited):
			return nil, apperrors.New(apperrors.ErrCodeNotInvited, "this campaign is invite only")
		}
		return nil, apperrors.NewDatabaseError("join campaign", err)
	}
	log.Info().Int64("user_id", userID).Str("campaign_id", campaignID).Msg("participant joined")
	return &dc.Participant{UserID: userID, Joined: true, JoinedAt: &now}, nil
}

// ConfirmParticipation polls the engagement collaborator and records participation once.
// Repeated calls after success return the stored participant unchanged.
func (s *Service) ConfirmParticipation(ctx context.Context, userID int64, campaignID string) (*dc.Participant, error) {
	c, u, err := s.load(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	p, ok := c.Participant(userID)
	if !ok || !p.Joined {
		return nil, apperrors.New(apperrors.ErrCodeNotJoined, "join the campaign first")
	}
	if p.Participated {
		return p, nil
	}
	if c.Status != dc.StatusActive {
		return nil, apperrors.Newf(apperrors.ErrCodeCampaignNotActive, "campaign is %s", c.Status)
	}
	if missing := u.MissingPlatforms(c.RequiredPlatforms); len(missing) > 0 {
		return nil, notVerified(missing)
	}
	acc, _ := u.Account(user.PlatformX)
	_, postID, err := validation.ParsePostURL(c.TargetPostURL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "stored target post url is invalid")
	}
	if s.checker == nil {
		return nil, apperrors.New(apperrors.ErrCodeVerificationOffline, "engagement verification is not configured")
	}

	eng, err := s.checker.CheckEngagement(ctx, postID, acc.Handle)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Str("campaign_id", campaignID).Msg("engagement check failed")
		return nil, apperrors.Wrap(err, apperrors.ErrCodeVerificationOffline, "could not reach X, try again later")
	}
	if !eng.Verified() {
		return nil, apperrors.New(apperrors.ErrCodeEngagementNotFound, "like and retweet the post, then check again").
			WithDetail("liked", eng.Liked).
			WithDetail("retweeted", eng.Retweeted)
	}

	now := s.nowFn().UTC()
	marked, err := s.campaigns.MarkParticipated(ctx, campaignID, userID, now, eng.Metrics)
	if err != nil {
		if errors.Is(err, dc.ErrParticipantAbsent) {
			return nil, apperrors.New(apperrors.ErrCodeNotJoined, "join the campaign first")
		}
		return nil, apperrors.NewDatabaseError("mark participated", err)
	}
	if !marked {
		// a concurrent confirmation won; report what it stored
		c, err = s.campaigns.GetByID(ctx, campaignID)
		if err != nil {
			return nil, apperrors.NewDatabaseError("get campaign", err)
		}
		if c == nil {
			return nil, apperrors.Newf(apperrors.ErrCodeCampaignNotFound, "campaign %s not found", campaignID)
		}
		p, _ = c.Participant(userID)
		return p, nil
	}
	log.Info().Int64("user_id", userID).Str("campaign_id", campaignID).Msg("participation confirmed")
	p.Participated = true
	p.ParticipatedAt = &now
	return p, nil
}

// State returns the (user, campaign) lifecycle state.
func (s *Service) State(ctx context.Context, userID int64, campaignID string) (dc.ParticipantState, error) {
	c, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return "", apperrors.NewDatabaseError("get campaign", err)
	}
	if c == nil {
		return "", apperrors.Newf(apperrors.ErrCodeCampaignNotFound, "campaign %s not found", campaignID)
	}
	p, _ := c.Participant(userID)
	return p.State(), nil
}
