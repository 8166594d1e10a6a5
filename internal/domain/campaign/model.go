package campaign

import (
	"errors"
	"time"

	"github.com/open-builders/campaign-bot/internal/domain/user"
)

// Status represents the lifecycle state of a campaign.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the monotonic status lattice: draft -> active -> completed|cancelled.
var transitions = map[Status][]Status{
	StatusDraft:  {StatusActive},
	StatusActive: {StatusCompleted, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Visibility controls who may discover and join a campaign.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// RewardType enumerates reward kinds in a campaign schedule.
type RewardType string

const (
	RewardTypeCredits   RewardType = "credits"
	RewardTypeWhitelist RewardType = "whitelist"
	RewardTypeToken     RewardType = "token"
	RewardTypeCustom    RewardType = "custom"
)

// ParseRewardType maps input to a RewardType.
func ParseRewardType(s string) (RewardType, bool) {
	switch RewardType(s) {
	case RewardTypeCredits, RewardTypeWhitelist, RewardTypeToken, RewardTypeCustom:
		return RewardType(s), true
	}
	return "", false
}

// Reward is one entry in a campaign reward schedule.
// Credits is only meaningful for RewardTypeCredits.
type Reward struct {
	Type        RewardType `json:"type"`
	Description string     `json:"description"`
	Requirement string     `json:"requirement,omitempty"`
	Credits     int64      `json:"credits,omitempty"`
}

// Stats aggregates engagement confirmed across participants.
type Stats struct {
	Likes    int64 `json:"likes"`
	Retweets int64 `json:"retweets"`
	Comments int64 `json:"comments"`
}

// Add returns the element-wise sum.
func (s Stats) Add(o Stats) Stats {
	return Stats{Likes: s.Likes + o.Likes, Retweets: s.Retweets + o.Retweets, Comments: s.Comments + o.Comments}
}

// ParticipantState is the per-(user, campaign) lifecycle.
type ParticipantState string

const (
	StateNotJoined    ParticipantState = "not_joined"
	StateJoined       ParticipantState = "joined"
	StateParticipated ParticipantState = "participated"
	StateRewarded     ParticipantState = "rewarded"
)

// Participant is a user's join/engagement/reward record inside a campaign.
type Participant struct {
	UserID         int64      `json:"user_id"`
	Invited        bool       `json:"invited"`
	Joined         bool       `json:"joined"`
	JoinedAt       *time.Time `json:"joined_at,omitempty"`
	Participated   bool       `json:"participated"`
	ParticipatedAt *time.Time `json:"participated_at,omitempty"`
	RewardGranted  bool       `json:"reward_granted"`
	RewardAmount   int64      `json:"reward_amount"`
}

// State derives the lifecycle state from the record flags.
func (p *Participant) State() ParticipantState {
	switch {
	case p == nil || !p.Joined:
		return StateNotJoined
	case p.RewardGranted:
		return StateRewarded
	case p.Participated:
		return StateParticipated
	default:
		return StateJoined
	}
}

var (
	ErrNotFound          = errors.New("campaign not found")
	ErrNotActive         = errors.New("campaign not active")
	ErrAlreadyJoined     = errors.New("already joined")
	ErrNotInvited        = errors.New("not invited")
	ErrQuotaExhausted    = errors.New("campaign quota exhausted")
	ErrParticipantAbsent = errors.New("participant not found")
)

// Campaign is the aggregate representing a social engagement promotion.
type Campaign struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"project_id"`
	CreatorID          int64           `json:"creator_id"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Status             Status          `json:"status"`
	TargetPostURL      string          `json:"target_post_url"`
	StartAt            time.Time       `json:"start_at"`
	EndAt              time.Time       `json:"end_at"`
	TargetParticipants int             `json:"target_participants"`
	Rewards            []Reward        `json:"rewards"`
	Visibility         Visibility      `json:"visibility"`
	RequiredPlatforms  []user.Platform `json:"required_platforms"`
	Participants       []Participant   `json:"participants,omitempty"`
	Stats              Stats           `json:"stats"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// BaseReward is the credit amount granted per participant before multipliers.
func (c *Campaign) BaseReward() int64 {
	var total int64
	for _, r := range c.Rewards {
		if r.Type == RewardTypeCredits {
			total += r.Credits
		}
	}
	return total
}

// Participant returns the record for userID.
func (c *Campaign) Participant(userID int64) (*Participant, bool) {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i], true
		}
	}
	return nil, false
}

// JoinedCount returns the number of joined participants.
func (c *Campaign) JoinedCount() int {
	n := 0
	for _, p := range c.Participants {
		if p.Joined {
			n++
		}
	}
	return n
}
