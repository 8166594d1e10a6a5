package project

import (
	"errors"
	"time"

	"github.com/open-builders/campaign-bot/internal/domain/user"
)

// Role is a member's permission level inside a project.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

var ErrNotFound = errors.New("project not found")

// Member is a user with a role in a project.
type Member struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

// Subscription is the project plan that gates campaign creation.
type Subscription struct {
	PlanID             string     `json:"plan_id"`
	Active             bool       `json:"active"`
	CampaignsRemaining int        `json:"campaigns_remaining"`
	RenewedAt          *time.Time `json:"renewed_at,omitempty"`
}

// Settings are project-level defaults applied to new campaigns.
type Settings struct {
	ReminderIntervalHours int             `json:"reminder_interval_hours"`
	Platforms             []user.Platform `json:"platforms"`
	DefaultDurationDays   int             `json:"default_duration_days"`
}

// Project is a team that owns campaigns.
type Project struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	OwnerID      int64        `json:"owner_id"`
	Members      []Member     `json:"members"`
	Subscription Subscription `json:"subscription"`
	Settings     Settings     `json:"settings"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// RoleOf returns the role of userID, if a member.
func (p *Project) RoleOf(userID int64) (Role, bool) {
	if p.OwnerID == userID {
		return RoleOwner, true
	}
	for _, m := range p.Members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}

// CanManage reports whether userID may create and manage campaigns.
func (p *Project) CanManage(userID int64) bool {
	role, ok := p.RoleOf(userID)
	return ok && (role == RoleOwner || role == RoleAdmin)
}

// CanCreateCampaign reports whether the subscription currently allows a new campaign.
func (p *Project) CanCreateCampaign() bool {
	return p.Subscription.Active && p.Subscription.CampaignsRemaining > 0
}

// RequiredPlatforms returns the platforms participants must verify. X is always required.
func (s Settings) RequiredPlatforms() []user.Platform {
	out := []user.Platform{user.PlatformX}
	for _, p := range s.Platforms {
		if p != user.PlatformX && p.Valid() {
			out = append(out, p)
		}
	}
	return out
}
