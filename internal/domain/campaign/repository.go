package campaign

import (
	"context"
	"time"
)

// Repository defines persistence operations for the Campaign aggregate.
type Repository interface {
	// CreateWithQuota consumes one unit of the owning project's quota and inserts the
	// campaign in a single transaction. Returns ErrQuotaExhausted without mutation when the
	// subscription is inactive or no quota is left.
	CreateWithQuota(ctx context.Context, c *Campaign) error
	// GetByID returns (nil, nil) when not found.
	GetByID(ctx context.Context, id string) (*Campaign, error)
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]Campaign, error)
	// ListEligible returns active campaigns that are public or list userID as participant.
	ListEligible(ctx context.Context, userID int64, limit int) ([]Campaign, error)
	// UpdateStatus is a compare-and-set on status; false when the current status is not from.
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)
	// Invite records an invitation; false if a participant record already exists.
	Invite(ctx context.Context, id string, userID int64) (bool, error)
	// Join marks the user joined. Errors: ErrNotFound, ErrNotActive, ErrAlreadyJoined, ErrNotInvited.
	Join(ctx context.Context, id string, userID int64, at time.Time) error
	// MarkParticipated sets participated once and increments campaign stats by delta.
	// Returns false when the participant had already participated.
	MarkParticipated(ctx context.Context, id string, userID int64, at time.Time, delta Stats) (bool, error)
	ListExpiredActiveIDs(ctx context.Context, now time.Time) ([]string, error)
}
