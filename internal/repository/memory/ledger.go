package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/open-builders/campaign-bot/internal/domain/campaign"
	"github.com/open-builders/campaign-bot/internal/domain/ledger"
)

type LedgerRepository struct{ s *Store }

func (r *LedgerRepository) GrantReward(_ context.Context, g ledger.Grant) (*ledger.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[g.CampaignID]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	p, ok := c.Participant(g.UserID)
	if !ok || !p.Participated {
		return nil, ledger.ErrNotParticipated
	}
	if p.RewardGranted {
		return nil, ledger.ErrAlreadyGranted
	}
	u, ok := r.s.users[g.UserID]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	p.RewardGranted = true
	p.RewardAmount = g.Amount
	u.Credits += g.Amount
	e := ledger.Entry{
		ID:          uuid.NewString(),
		UserID:      g.UserID,
		Kind:        ledger.KindReward,
		Amount:      g.Amount,
		Status:      ledger.EntryCompleted,
		Description: "Reward for campaign " + c.Name,
		Reference:   c.ID,
		CreatedAt:   g.At,
	}
	r.s.entries = append(r.s.entries, e)
	return &e, nil
}

func (r *LedgerRepository) Credit(_ context.Context, userID, amount int64, kind ledger.EntryKind, description, reference string) (*ledger.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	u.Credits += amount
	e := ledger.Entry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Status:      ledger.EntryCompleted,
		Description: description,
		Reference:   reference,
		CreatedAt:   time.Now(),
	}
	r.s.entries = append(r.s.entries, e)
	return &e, nil
}

func (r *LedgerRepository) Cashout(_ context.Context, p *ledger.Payout) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[p.UserID]
	if !ok {
		return ledger.ErrUserNotFound
	}
	if u.Credits < p.Credits {
		return ledger.ErrInsufficientCredits
	}
	u.Credits -= p.Credits
	e := ledger.Entry{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		Kind:        ledger.KindCashout,
		Amount:      -p.Credits,
		Status:      ledger.EntryPending,
		Description: "Cashout via " + string(p.Method),
		Reference:   p.ID,
		CreatedAt:   p.CreatedAt,
	}
	r.s.entries = append(r.s.entries, e)
	p.EntryID = e.ID
	stored := *p
	r.s.payouts[p.ID] = &stored
	return nil
}

func (r *LedgerRepository) SettlePayout(_ context.Context, payoutID string, paid bool, at time.Time) (*ledger.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[payoutID]
	if !ok {
		return nil, ledger.ErrPayoutNotFound
	}
	if p.Status != ledger.PayoutPending {
		return nil, ledger.ErrPayoutSettled
	}
	t := at
	p.SettledAt = &t
	entryStatus := ledger.EntryCompleted
	if paid {
		p.Status = ledger.PayoutPaid
	} else {
		p.Status = ledger.PayoutFailed
		entryStatus = ledger.EntryFailed
		if u, ok := r.s.users[p.UserID]; ok {
			u.Credits += p.Credits
		}
		r.s.entries = append(r.s.entries, ledger.Entry{
			ID:          uuid.NewString(),
			UserID:      p.UserID,
			Kind:        ledger.KindRefund,
			Amount:      p.Credits,
			Status:      ledger.EntryCompleted,
			Description: "Refund for failed cashout",
			Reference:   p.ID,
			CreatedAt:   at,
		})
	}
	for i := range r.s.entries {
		if r.s.entries[i].ID == p.EntryID {
			r.s.entries[i].Status = entryStatus
		}
	}
	out := *p
	return &out, nil
}

func (r *LedgerRepository) GetPayout(_ context.Context, id string) (*ledger.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (r *LedgerRepository) History(_ context.Context, userID int64, limit int) ([]ledger.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []ledger.Entry
	for i := len(r.s.entries) - 1; i >= 0; i-- {
		if r.s.entries[i].UserID == userID {
			out = append(out, r.s.entries[i])
		}
	}
	return page(out, limit, 0), nil
}
