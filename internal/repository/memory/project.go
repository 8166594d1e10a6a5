package memory

import (
	"context"
	"sort"

	"github.com/open-builders/campaign-bot/internal/domain/project"
)

type ProjectRepository struct{ s *Store }

func (r *ProjectRepository) Create(_ context.Context, p *project.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := cloneProject(p)
	hasOwner := false
	for _, m := range stored.Members {
		if m.UserID == p.OwnerID {
			hasOwner = true
		}
	}
	if !hasOwner {
		stored.Members = append([]project.Member{{UserID: p.OwnerID, Role: project.RoleOwner}}, stored.Members...)
	}
	r.s.projects[p.ID] = stored
	return nil
}

func (r *ProjectRepository) GetByID(_ context.Context, id string) (*project.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id]
	if !ok {
		return nil, nil
	}
	return cloneProject(p), nil
}

func (r *ProjectRepository) ListByMember(_ context.Context, userID int64) ([]project.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []project.Project
	for _, p := range r.s.projects {
		if _, ok := p.RoleOf(userID); ok {
			out = append(out, *cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *ProjectRepository) AddMember(_ context.Context, projectID string, m project.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[projectID]
	if !ok {
		return project.ErrNotFound
	}
	for i := range p.Members {
		if p.Members[i].UserID == m.UserID {
			p.Members[i].Role = m.Role
			return nil
		}
	}
	p.Members = append(p.Members, m)
	return nil
}

func (r *ProjectRepository) ActivatePlan(_ context.Context, projectID, planID string, quota int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[projectID]
	if !ok {
		return project.ErrNotFound
	}
	p.Subscription.PlanID = planID
	p.Subscription.Active = true
	p.Subscription.CampaignsRemaining += quota
	return nil
}

func (r *ProjectRepository) DeactivatePlan(_ context.Context, projectID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[projectID]
	if !ok {
		return project.ErrNotFound
	}
	p.Subscription.Active = false
	return nil
}
