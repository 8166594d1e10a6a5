package ledger

import (
	"context"
	"time"
)

// Repository moves credits atomically with their ledger entries.
type Repository interface {
	// GrantReward marks the participant rewarded, credits the user and appends a
	// reward entry in one transaction. Errors: ErrNotParticipated, ErrAlreadyGranted.
	GrantReward(ctx context.Context, g Grant) (*Entry, error)
	// Credit adds amount to the user's balance with a completed entry.
	Credit(ctx context.Context, userID, amount int64, kind EntryKind, description, reference string) (*Entry, error)
	// Cashout debits p.Credits and stores the payout with a pending entry.
	// Returns ErrInsufficientCredits without mutation when the balance is too low.
	Cashout(ctx context.Context, p *Payout) error
	// SettlePayout finalizes a pending payout. A failed payout refunds the credits.
	SettlePayout(ctx context.Context, payoutID string, paid bool, at time.Time) (*Payout, error)
	GetPayout(ctx context.Context, id string) (*Payout, error)
	History(ctx context.Context, userID int64, limit int) ([]Entry, error)
}
