package wizard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	"github.com/open-builders/campaign-bot/internal/common/validation"
	dc "github.com/open-builders/campaign-bot/internal/domain/campaign"
	dp "github.com/open-builders/campaign-bot/internal/domain/project"
	campaignsvc "github.com/open-builders/campaign-bot/internal/service/campaign"
)

const maxRewards = 10

// ErrNoSession is returned by Handle when the user has no wizard in progress.
var ErrNoSession = errors.New("no wizard session")

// CampaignCreator commits the finished draft.
type CampaignCreator interface {
	Create(ctx context.Context, actorID int64, in campaignsvc.CreateInput) (*dc.Campaign, error)
}

// ProjectLister returns the projects a user manages.
type ProjectLister interface {
	ListManaged(ctx context.Context, userID int64) ([]dp.Project, error)
}

// Reply is what the bot shows after a step.
type Reply struct {
	Text      string
	Options   []string
	Error     string
	Done      bool
	Cancelled bool
	Campaign  *dc.Campaign
}

// Service drives the campaign creation conversation.
// Nothing is persisted outside the session until the confirm step.
type Service struct {
	sessions  *SessionStore
	projects  ProjectLister
	campaigns CampaignCreator
	nowFn     func() time.Time
}

func NewService(sessions *SessionStore, projects ProjectLister, campaigns CampaignCreator) *Service {
	return &Service{sessions: sessions, projects: projects, campaigns: campaigns, nowFn: time.Now}
}

// Start opens a new session, replacing any previous one.
func (s *Service) Start(ctx context.Context, userID int64) (Reply, error) {
	projects, err := s.projects.ListManaged(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	if len(projects) == 0 {
		return Reply{}, apperrors.NewForbiddenError("you do not manage any project yet")
	}
	now := s.nowFn().UTC()
	sess := &Session{UserID: userID, Step: StepProject, StartedAt: now, UpdatedAt: now}
	for _, p := range projects {
		sess.Projects = append(sess.Projects, ProjectOption{ID: p.ID, Name: p.Name})
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return Reply{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "save wizard session")
	}
	log.Debug().Int64("user_id", userID).Msg("wizard started")
	return prompt(sess), nil
}

// Active reports whether the user has a session in progress.
func (s *Service) Active(ctx context.Context, userID int64) (bool, error) {
	sess, err := s.sessions.Load(ctx, userID)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "load wizard session")
	}
	return sess != nil, nil
}

// Cancel discards the session and everything collected so far.
func (s *Service) Cancel(ctx context.Context, userID int64) (Reply, error) {
	if err := s.sessions.Delete(ctx, userID); err != nil {
		return Reply{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "delete wizard session")
	}
	return Reply{Text: "Campaign creation cancelled.", Cancelled: true}, nil
}

// Handle applies one user message to the current step. Invalid input keeps the
// step and repeats its prompt with Reply.Error set.
func (s *Service) Handle(ctx context.Context, userID int64, text string) (Reply, error) {
	sess, err := s.sessions.Load(ctx, userID)
	if err != nil {
		return Reply{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "load wizard session")
	}
	if sess == nil {
		return Reply{}, ErrNoSession
	}
	input := strings.TrimSpace(text)
	if strings.EqualFold(input, "cancel") {
		return s.Cancel(ctx, userID)
	}
	if sess.Step == StepConfirm {
		return s.confirm(ctx, sess, input)
	}

	next, err := apply(sess, input)
	if err != nil {
		r := prompt(sess)
		r.Error = err.Error()
		if appErr, ok := apperrors.AsAppError(err); ok {
			r.Error = appErr.Message
		}
		return r, nil
	}
	if !CanTransition(sess.Step, next) {
		return Reply{}, apperrors.Newf(apperrors.ErrCodeInternal, "wizard cannot move from %s to %s", sess.Step, next)
	}
	sess.Step = next
	sess.UpdatedAt = s.nowFn().UTC()
	if err := s.sessions.Save(ctx, sess); err != nil {
		return Reply{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "save wizard session")
	}
	return prompt(sess), nil
}

func (s *Service) confirm(ctx context.Context, sess *Session, input string) (Reply, error) {
	switch strings.ToLower(input) {
	case "yes", "confirm", "y":
	case "no", "n":
		return s.Cancel(ctx, sess.UserID)
	default:
		r := prompt(sess)
		r.Error = "answer yes to create the campaign or no to discard it"
		return r, nil
	}

	// The session is taken before Create so a repeated or concurrent "yes"
	// cannot consume quota twice.
	claimed, err := s.sessions.Claim(ctx, sess.UserID)
	if err != nil {
		return Reply{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "claim wizard session")
	}
	if !claimed {
		return Reply{}, ErrNoSession
	}

	c, err := s.campaigns.Create(ctx, sess.UserID, sess.Draft.Input())
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeQuotaExhausted) || apperrors.KindOf(err) == apperrors.KindPermission {
			return Reply{Cancelled: true}, err
		}
		// put the draft back at confirm so the user can retry
		sess.UpdatedAt = s.nowFn().UTC()
		if serr := s.sessions.Save(ctx, sess); serr != nil {
			log.Error().Err(serr).Int64("user_id", sess.UserID).Msg("failed to restore wizard session")
		}
		return Reply{}, err
	}
	return Reply{
		Text:     fmt.Sprintf("Campaign %q is live until %s.", c.Name, c.EndAt.Format("2006-01-02 15:04 UTC")),
		Done:     true,
		Campaign: c,
	}, nil
}

// apply validates input for the current step, stores it in the session and
// returns the step to move to.
func apply(sess *Session, input string) (Step, error) {
	d := &sess.Draft
	switch sess.Step {
	case StepProject:
		p, ok := pickProject(sess.Projects, input)
		if !ok {
			return "", errors.New("pick one of the listed projects")
		}
		d.ProjectID = p.ID
		return StepName, nil

	case StepName:
		if err := validation.ValidateCampaignName(input); err != nil {
			return "", err
		}
		d.Name = input
		return StepDescription, nil

	case StepDescription:
		if err := validation.ValidateCampaignDescription(input); err != nil {
			return "", err
		}
		d.Description = input
		return StepTargetURL, nil

	case StepTargetURL:
		if err := validation.ValidatePostURL(input); err != nil {
			return "", err
		}
		d.TargetPostURL = input
		return StepDuration, nil

	case StepDuration:
		n, err := strconv.Atoi(input)
		if err != nil {
			return "", errors.New("duration must be a whole number of days")
		}
		if err := validation.ValidateDurationDays(n); err != nil {
			return "", err
		}
		d.DurationDays = n
		return StepRewardType, nil

	case StepRewardType:
		if strings.EqualFold(input, "done") {
			if len(d.Rewards) == 0 {
				return "", errors.New("add at least one reward first")
			}
			return StepTargetParticipants, nil
		}
		if len(d.Rewards) >= maxRewards {
			return "", fmt.Errorf("at most %d rewards, send done to continue", maxRewards)
		}
		t, ok := dc.ParseRewardType(strings.ToLower(input))
		if !ok {
			return "", errors.New("reward type must be credits, whitelist, token or custom")
		}
		sess.Pending = &dc.Reward{Type: t}
		return StepRewardDetails, nil

	case StepRewardDetails:
		if strings.EqualFold(input, "back") {
			return "", errors.New("going back is not supported, send cancel to start over")
		}
		r := sess.Pending
		if r == nil {
			return "", errors.New("reward type missing, send cancel to start over")
		}
		desc := input
		if r.Type == dc.RewardTypeCredits {
			amount, rest, _ := strings.Cut(input, " ")
			credits, err := validation.ParsePositiveInt(amount, "credits")
			if err != nil {
				return "", err
			}
			r.Credits = credits
			desc = strings.TrimSpace(rest)
		}
		if err := validation.ValidateRewardDescription(desc); err != nil {
			return "", err
		}
		r.Description = desc
		return StepRewardRequirement, nil

	case StepRewardRequirement:
		r := sess.Pending
		if r == nil {
			return StepRewardType, nil
		}
		if !strings.EqualFold(input, "skip") {
			if err := validation.ValidateRequirement(input); err != nil {
				return "", err
			}
			r.Requirement = input
		}
		if err := campaignsvc.ValidateReward(*r); err != nil {
			return "", err
		}
		d.Rewards = append(d.Rewards, *r)
		sess.Pending = nil
		return StepRewardType, nil

	case StepTargetParticipants:
		n, err := strconv.Atoi(input)
		if err != nil {
			return "", errors.New("target participants must be a whole number")
		}
		if err := validation.ValidateTargetParticipants(n); err != nil {
			return "", err
		}
		d.TargetParticipants = n
		return StepPrivacy, nil

	case StepPrivacy:
		switch strings.ToLower(input) {
		case "public":
			d.Visibility = dc.VisibilityPublic
		case "private":
			d.Visibility = dc.VisibilityPrivate
		default:
			return "", errors.New("answer public or private")
		}
		return StepConfirm, nil
	}
	return "", fmt.Errorf("unknown step %q", sess.Step)
}

// pickProject accepts the 1-based list position, the id or the name.
func pickProject(options []ProjectOption, input string) (ProjectOption, bool) {
	if i, err := strconv.Atoi(input); err == nil && i >= 1 && i <= len(options) {
		return options[i-1], true
	}
	for _, p := range options {
		if p.ID == input || strings.EqualFold(p.Name, input) {
			return p, true
		}
	}
	return ProjectOption{}, false
}

func prompt(sess *Session) Reply {
	d := sess.Draft
	switch sess.Step {
	case StepProject:
		opts := make([]string, 0, len(sess.Projects))
		var b strings.Builder
		b.WriteString("Which project is this campaign for?\n")
		for i, p := range sess.Projects {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p.Name)
			opts = append(opts, p.Name)
		}
		return Reply{Text: strings.TrimSpace(b.String()), Options: opts}
	case StepName:
		return Reply{Text: fmt.Sprintf("Campaign name (%d-%d characters):", validation.MinCampaignNameLength, validation.MaxCampaignNameLength)}
	case StepDescription:
		return Reply{Text: fmt.Sprintf("Describe the campaign (%d-%d characters):", validation.MinCampaignDescriptionLength, validation.MaxCampaignDescriptionLength)}
	case StepTargetURL:
		return Reply{Text: "Link to the post participants should engage with (https://x.com/<user>/status/<id>):"}
	case StepDuration:
		return Reply{Text: fmt.Sprintf("How many days should it run (%d-%d)?", validation.MinDurationDays, validation.MaxDurationDays)}
	case StepRewardType:
		text := "Reward type?"
		opts := []string{string(dc.RewardTypeCredits), string(dc.RewardTypeWhitelist), string(dc.RewardTypeToken), string(dc.RewardTypeCustom)}
		if n := len(d.Rewards); n > 0 {
			text = fmt.Sprintf("%d reward(s) added. Add another or send done.", n)
			opts = append(opts, "done")
		}
		return Reply{Text: text, Options: opts}
	case StepRewardDetails:
		if sess.Pending != nil && sess.Pending.Type == dc.RewardTypeCredits {
			return Reply{Text: "Credits amount and description, e.g. \"300 Base reward\":"}
		}
		return Reply{Text: "Reward description:"}
	case StepRewardRequirement:
		return Reply{Text: "Any extra requirement for this reward? Send it, or skip:", Options: []string{"skip"}}
	case StepTargetParticipants:
		return Reply{Text: fmt.Sprintf("Target number of participants (%d-%d):", validation.MinTargetParticipants, validation.MaxTargetParticipants)}
	case StepPrivacy:
		return Reply{Text: "Public or private campaign?", Options: []string{"public", "private"}}
	case StepConfirm:
		return Reply{Text: summary(sess), Options: []string{"yes", "no"}}
	}
	return Reply{}
}

func summary(sess *Session) string {
	d := sess.Draft
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\nPost: %s\nDuration: %d days\nTarget: %d participants\nVisibility: %s\nRewards:\n",
		d.Name, d.Description, d.TargetPostURL, d.DurationDays, d.TargetParticipants, d.Visibility)
	for _, r := range d.Rewards {
		if r.Type == dc.RewardTypeCredits {
			fmt.Fprintf(&b, "- %s: %d credits\n", r.Description, r.Credits)
		} else {
			fmt.Fprintf(&b, "- %s (%s)\n", r.Description, r.Type)
		}
	}
	b.WriteString("\nCreate it? (yes/no)")
	return b.String()
}
