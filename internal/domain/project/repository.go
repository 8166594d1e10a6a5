package project

import "context"

// Repository defines persistence operations for projects.
type Repository interface {
	// Create stores the project with its owner as the first member.
	Create(ctx context.Context, p *Project) error
	// GetByID returns (nil, nil) when not found.
	GetByID(ctx context.Context, id string) (*Project, error)
	ListByMember(ctx context.Context, userID int64) ([]Project, error)
	AddMember(ctx context.Context, projectID string, m Member) error
	// ActivatePlan sets the plan active and adds quota to the remaining campaigns.
	ActivatePlan(ctx context.Context, projectID, planID string, quota int) error
	DeactivatePlan(ctx context.Context, projectID string) error
}
