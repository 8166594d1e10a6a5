package memory

import (
	"context"
	"time"

	"github.com/open-builders/campaign-bot/internal/domain/campaign"
)

type CampaignRepository struct{ s *Store }

func (r *CampaignRepository) CreateWithQuota(_ context.Context, c *campaign.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[c.ProjectID]
	if !ok {
		return campaign.ErrQuotaExhausted
	}
	if !p.CanCreateCampaign() {
		return campaign.ErrQuotaExhausted
	}
	p.Subscription.CampaignsRemaining--
	r.s.campaigns[c.ID] = cloneCampaign(c)
	r.s.order = append(r.s.order, c.ID)
	return nil
}

func (r *CampaignRepository) GetByID(_ context.Context, id string) (*campaign.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, nil
	}
	return cloneCampaign(c), nil
}

func (r *CampaignRepository) ListByProject(_ context.Context, projectID string, limit, offset int) ([]campaign.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []campaign.Campaign
	// newest first
	for i := len(r.s.order) - 1; i >= 0; i-- {
		c := r.s.campaigns[r.s.order[i]]
		if c.ProjectID == projectID {
			out = append(out, *cloneCampaign(c))
		}
	}
	return page(out, limit, offset), nil
}

func (r *CampaignRepository) ListEligible(_ context.Context, userID int64, limit int) ([]campaign.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []campaign.Campaign
	for i := len(r.s.order) - 1; i >= 0; i-- {
		c := r.s.campaigns[r.s.order[i]]
		if c.Status != campaign.StatusActive {
			continue
		}
		_, listed := c.Participant(userID)
		if c.Visibility == campaign.VisibilityPublic || listed {
			out = append(out, *cloneCampaign(c))
		}
	}
	return page(out, limit, 0), nil
}

func (r *CampaignRepository) UpdateStatus(_ context.Context, id string, from, to campaign.Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	return true, nil
}

func (r *CampaignRepository) Invite(_ context.Context, id string, userID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	if _, exists := c.Participant(userID); exists {
		return false, nil
	}
	c.Participants = append(c.Participants, campaign.Participant{UserID: userID, Invited: true})
	return true, nil
}

func (r *CampaignRepository) Join(_ context.Context, id string, userID int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != campaign.StatusActive {
		return campaign.ErrNotActive
	}
	t := at
	if p, exists := c.Participant(userID); exists {
		if p.Joined {
			return campaign.ErrAlreadyJoined
		}
		p.Joined = true
		p.JoinedAt = &t
		return nil
	}
	if c.Visibility == campaign.VisibilityPrivate {
		return campaign.ErrNotInvited
	}
	c.Participants = append(c.Participants, campaign.Participant{UserID: userID, Joined: true, JoinedAt: &t})
	return nil
}

func (r *CampaignRepository) MarkParticipated(_ context.Context, id string, userID int64, at time.Time, delta campaign.Stats) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	p, exists := c.Participant(userID)
	if !exists || !p.Joined {
		return false, campaign.ErrParticipantAbsent
	}
	if p.Participated {
		return false, nil
	}
	t := at
	p.Participated = true
	p.ParticipatedAt = &t
	c.Stats = c.Stats.Add(delta)
	return true, nil
}

func (r *CampaignRepository) ListExpiredActiveIDs(_ context.Context, now time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for _, id := range r.s.order {
		c := r.s.campaigns[id]
		if c.Status == campaign.StatusActive && !c.EndAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
