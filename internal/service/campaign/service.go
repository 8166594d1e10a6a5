package campaign

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	"github.com/open-builders/campaign-bot/internal/common/validation"
	dc "github.com/open-builders/campaign-bot/internal/domain/campaign"
	dp "github.com/open-builders/campaign-bot/internal/domain/project"
)

// Notifier is the subset of notifications used here.
type Notifier interface {
	CampaignCreated(ctx context.Context, c *dc.Campaign)
}

// Service owns campaign definitions, their lifecycle and reward schedule.
type Service struct {
	campaigns dc.Repository
	projects  dp.Repository
	notifier  Notifier
	nowFn     func() time.Time
}

func NewService(campaigns dc.Repository, projects dp.Repository, notifier Notifier) *Service {
	return &Service{campaigns: campaigns, projects: projects, notifier: notifier, nowFn: time.Now}
}

// CreateInput carries the parameters collected by the wizard or the API.
type CreateInput struct {
	ProjectID          string
	Name               string
	Description        string
	TargetPostURL      string
	DurationDays       int
	TargetParticipants int
	Rewards            []dc.Reward
	Visibility         dc.Visibility
}

// Validate checks every field without touching storage.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.ProjectID) == "" {
		return apperrors.NewValidationError("project_id", "is required")
	}
	if err := validation.ValidateCampaignName(in.Name); err != nil {
		return apperrors.NewValidationError("name", err.Error())
	}
	if err := validation.ValidateCampaignDescription(in.Description); err != nil {
		return apperrors.NewValidationError("description", err.Error())
	}
	if err := validation.ValidatePostURL(in.TargetPostURL); err != nil {
		return apperrors.NewValidationError("target_post_url", err.Error())
	}
	if err := validation.ValidateDurationDays(in.DurationDays); err != nil {
		return apperrors.NewValidationError("duration_days", err.Error())
	}
	if err := validation.ValidateTargetParticipants(in.TargetParticipants); err != nil {
		return apperrors.NewValidationError("target_participants", err.Error())
	}
	if len(in.Rewards) == 0 {
		return apperrors.NewValidationError("rewards", "at least one reward is required")
	}
	for _, r := range in.Rewards {
		if err := ValidateReward(r); err != nil {
			return err
		}
	}
	switch in.Visibility {
	case "", dc.VisibilityPublic, dc.VisibilityPrivate:
	default:
		return apperrors.NewValidationError("visibility", "must be public or private")
	}
	return nil
}

// ValidateReward checks a single reward schedule entry.
func ValidateReward(r dc.Reward) error {
	if _, ok := dc.ParseRewardType(string(r.Type)); !ok {
		return apperrors.NewValidationError("reward.type", "must be credits, whitelist, token or custom")
	}
	if err := validation.ValidateRewardDescription(r.Description); err != nil {
		return apperrors.NewValidationError("reward.description", err.Error())
	}
	if err := validation.ValidateRequirement(r.Requirement); err != nil {
		return apperrors.NewValidationError("reward.requirement", err.Error())
	}
	if r.Type == dc.RewardTypeCredits && r.Credits <= 0 {
		return apperrors.NewValidationError("reward.credits", "credit rewards need a positive amount")
	}
	if r.Type != dc.RewardTypeCredits && r.Credits != 0 {
		return apperrors.NewValidationError("reward.credits", "only credit rewards carry an amount")
	}
	return nil
}

// Create validates input, checks the actor's role and consumes one unit of project
// quota atomically with the insert.
func (s *Service) Create(ctx context.Context, actorID int64, in CreateInput) (*dc.Campaign, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p, err := s.projects.GetByID(ctx, in.ProjectID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get project", err)
	}
	if p == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeProjectNotFound, "project %s not found", in.ProjectID)
	}
	if !p.CanManage(actorID) {
		return nil, apperrors.NewForbiddenError("project owner or admin role required")
	}
	if in.Visibility == "" {
		in.Visibility = dc.VisibilityPublic
	}

	now := s.nowFn().UTC()
	c := &dc.Campaign{
		ID:                 uuid.NewString(),
		ProjectID:          p.ID,
		CreatorID:          actorID,
		Name:               strings.TrimSpace(in.Name),
		Description:        strings.TrimSpace(in.Description),
		Status:             dc.StatusActive,
		TargetPostURL:      strings.TrimSpace(in.TargetPostURL),
		StartAt:            now,
		EndAt:              now.AddDate(0, 0, in.DurationDays),
		TargetParticipants: in.TargetParticipants,
		Rewards:            append([]dc.Reward(nil), in.Rewards...),
		Visibility:         in.Visibility,
		RequiredPlatforms:  p.Settings.RequiredPlatforms(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.campaigns.CreateWithQuota(ctx, c); err != nil {
		if errors.Is(err, dc.ErrQuotaExhausted) {
			return nil, apperrors.New(apperrors.ErrCodeQuotaExhausted, "no campaigns left on the current plan")
		}
		return nil, apperrors.NewDatabaseError("create campaign", err)
	}
	log.Info().Str("campaign_id", c.ID).Str("project_id", c.ProjectID).Int64("creator_id", actorID).Msg("campaign created")
	if s.notifier != nil {
		s.notifier.CampaignCreated(ctx, c)
	}
	return c, nil
}

// Get returns a campaign or CAMPAIGN_NOT_FOUND.
func (s *Service) Get(ctx context.Context, id string) (*dc.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get campaign", err)
	}
	if c == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeCampaignNotFound, "campaign %s not found", id)
	}
	return c, nil
}

// Transition moves a campaign along the status lattice with a compare-and-set.
func (s *Service) Transition(ctx context.Context, id string, to dc.Status) (*dc.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !dc.CanTransition(c.Status, to) {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidTransition, "cannot move campaign from %s to %s", c.Status, to)
	}
	ok, err := s.campaigns.UpdateStatus(ctx, id, c.Status, to)
	if err != nil {
		return nil, apperrors.NewDatabaseError("update campaign status", err)
	}
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidTransition, "campaign status changed concurrently, was %s", c.Status)
	}
	c.Status = to
	c.UpdatedAt = s.nowFn().UTC()
	log.Info().Str("campaign_id", id).Str("status", string(to)).Msg("campaign status changed")
	return c, nil
}

// ChangeStatus is Transition gated on the actor managing the owning project.
func (s *Service) ChangeStatus(ctx context.Context, actorID int64, id string, to dc.Status) (*dc.Campaign, error) {
	if !to.Valid() {
		return nil, apperrors.NewValidationError("status", "unknown status")
	}
	if err := s.requireManager(ctx, actorID, id); err != nil {
		return nil, err
	}
	return s.Transition(ctx, id, to)
}

// ListByProject returns the campaigns of a project the actor manages.
func (s *Service) ListByProject(ctx context.Context, actorID int64, projectID string, limit, offset int) ([]dc.Campaign, error) {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get project", err)
	}
	if p == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeProjectNotFound, "project %s not found", projectID)
	}
	if _, ok := p.RoleOf(actorID); !ok {
		return nil, apperrors.NewForbiddenError("not a project member")
	}
	out, err := s.campaigns.ListByProject(ctx, projectID, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list campaigns", err)
	}
	return out, nil
}

// FindEligible returns active campaigns that are public or list the user.
func (s *Service) FindEligible(ctx context.Context, userID int64) ([]dc.Campaign, error) {
	out, err := s.campaigns.ListEligible(ctx, userID, 50)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list eligible campaigns", err)
	}
	return out, nil
}

// Invite adds an invited participant record so userID can join a private campaign.
func (s *Service) Invite(ctx context.Context, actorID int64, campaignID string, userID int64) error {
	if err := s.requireManager(ctx, actorID, campaignID); err != nil {
		return err
	}
	ok, err := s.campaigns.Invite(ctx, campaignID, userID)
	if err != nil {
		if errors.Is(err, dc.ErrNotFound) {
			return apperrors.Newf(apperrors.ErrCodeCampaignNotFound, "campaign %s not found", campaignID)
		}
		return apperrors.NewDatabaseError("invite participant", err)
	}
	if !ok {
		return apperrors.New(apperrors.ErrCodeConflict, "user already invited or joined")
	}
	return nil
}

// CompleteExpired moves active campaigns past their end to completed.
func (s *Service) CompleteExpired(ctx context.Context) (int, error) {
	ids, err := s.campaigns.ListExpiredActiveIDs(ctx, s.nowFn().UTC())
	if err != nil {
		return 0, apperrors.NewDatabaseError("list expired campaigns", err)
	}
	done := 0
	for _, id := range ids {
		ok, err := s.campaigns.UpdateStatus(ctx, id, dc.StatusActive, dc.StatusCompleted)
		if err != nil {
			log.Error().Err(err).Str("campaign_id", id).Msg("complete expired campaign")
			continue
		}
		if ok {
			done++
		}
	}
	return done, nil
}

func (s *Service) requireManager(ctx context.Context, actorID int64, campaignID string) error {
	c, err := s.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	p, err := s.projects.GetByID(ctx, c.ProjectID)
	if err != nil {
		return apperrors.NewDatabaseError("get project", err)
	}
	if p == nil || !p.CanManage(actorID) {
		return apperrors.NewForbiddenError("project owner or admin role required")
	}
	return nil
}
