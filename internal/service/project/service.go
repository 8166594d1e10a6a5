package project

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	domain "github.com/open-builders/campaign-bot/internal/domain/project"
	"github.com/open-builders/campaign-bot/internal/domain/user"
)

// Service manages projects, their members and subscription quota.
type Service struct {
	repo  domain.Repository
	nowFn func() time.Time
}

func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo, nowFn: time.Now}
}

// CreateInput describes a new project.
type CreateInput struct {
	Name                  string
	Description           string
	Platforms             []user.Platform
	ReminderIntervalHours int
	DefaultDurationDays   int
}

// Create stores a project owned by ownerID. New projects start without an active plan.
func (s *Service) Create(ctx context.Context, ownerID int64, in CreateInput) (*domain.Project, error) {
	name := strings.TrimSpace(in.Name)
	if n := utf8.RuneCountInString(name); n < 3 || n > 50 {
		return nil, apperrors.NewValidationError("name", "must be 3-50 characters")
	}
	for _, p := range in.Platforms {
		if !p.Valid() {
			return nil, apperrors.NewValidationError("platforms", "unsupported platform "+string(p))
		}
	}
	if in.ReminderIntervalHours <= 0 {
		in.ReminderIntervalHours = 24
	}
	if in.DefaultDurationDays <= 0 || in.DefaultDurationDays > 30 {
		in.DefaultDurationDays = 7
	}
	now := s.nowFn().UTC()
	p := &domain.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		OwnerID:     ownerID,
		Members:     []domain.Member{{UserID: ownerID, Role: domain.RoleOwner}},
		Settings: domain.Settings{
			ReminderIntervalHours: in.ReminderIntervalHours,
			Platforms:             in.Platforms,
			DefaultDurationDays:   in.DefaultDurationDays,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Settings.Platforms = p.Settings.RequiredPlatforms()
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, apperrors.NewDatabaseError("create project", err)
	}
	return p, nil
}

// Get returns a project or PROJECT_NOT_FOUND.
func (s *Service) Get(ctx context.Context, id string) (*domain.Project, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get project", err)
	}
	if p == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeProjectNotFound, "project %s not found", id)
	}
	return p, nil
}

// GetManaged returns the project only when actorID is an owner or admin.
func (s *Service) GetManaged(ctx context.Context, actorID int64, id string) (*domain.Project, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(actorID) {
		return nil, apperrors.NewForbiddenError("project owner or admin role required")
	}
	return p, nil
}

// ListManaged returns the projects where userID is owner or admin.
func (s *Service) ListManaged(ctx context.Context, userID int64) ([]domain.Project, error) {
	all, err := s.repo.ListByMember(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list projects", err)
	}
	out := all[:0]
	for _, p := range all {
		if p.CanManage(userID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// AddMember grants role to userID. Only the owner may add admins.
func (s *Service) AddMember(ctx context.Context, actorID int64, projectID string, m domain.Member) error {
	p, err := s.GetManaged(ctx, actorID, projectID)
	if err != nil {
		return err
	}
	switch m.Role {
	case domain.RoleAdmin:
		if p.OwnerID != actorID {
			return apperrors.NewForbiddenError("only the owner can add admins")
		}
	case domain.RoleMember:
	default:
		return apperrors.NewValidationError("role", "must be admin or member")
	}
	if err := s.repo.AddMember(ctx, projectID, m); err != nil {
		return apperrors.NewDatabaseError("add member", err)
	}
	return nil
}

// ActivatePlan is called from payment events when a plan is purchased.
func (s *Service) ActivatePlan(ctx context.Context, projectID, planID string, quota int) error {
	if err := s.repo.ActivatePlan(ctx, projectID, planID, quota); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.Newf(apperrors.ErrCodeProjectNotFound, "project %s not found", projectID)
		}
		return apperrors.NewDatabaseError("activate plan", err)
	}
	return nil
}

// DeactivatePlan is called when a subscription ends.
func (s *Service) DeactivatePlan(ctx context.Context, projectID string) error {
	if err := s.repo.DeactivatePlan(ctx, projectID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.Newf(apperrors.ErrCodeProjectNotFound, "project %s not found", projectID)
		}
		return apperrors.NewDatabaseError("deactivate plan", err)
	}
	return nil
}
