package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/open-builders/campaign-bot/internal/domain/project"
	"github.com/open-builders/campaign-bot/internal/domain/user"
)

// ProjectRepository persists projects, members and subscriptions.
type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository { return &ProjectRepository{db: db} }

// Create inserts the project and its members in one transaction.
func (r *ProjectRepository) Create(ctx context.Context, p *project.Project) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const q = `
	INSERT INTO projects (id, name, description, owner_id, plan_id, subscription_active, campaigns_remaining,
		reminder_interval_hours, platforms, default_duration_days, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = tx.ExecContext(ctx, q, p.ID, p.Name, p.Description, p.OwnerID,
		p.Subscription.PlanID, p.Subscription.Active, p.Subscription.CampaignsRemaining,
		p.Settings.ReminderIntervalHours, joinPlatforms(p.Settings.Platforms), p.Settings.DefaultDurationDays,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}

	const qm = `INSERT INTO project_members (project_id, user_id, role) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`
	if _, err = tx.ExecContext(ctx, qm, p.ID, p.OwnerID, project.RoleOwner); err != nil {
		return err
	}
	for _, m := range p.Members {
		if m.UserID == p.OwnerID {
			continue
		}
		if _, err = tx.ExecContext(ctx, qm, p.ID, m.UserID, m.Role); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const selectProject = `
SELECT id, name, description, owner_id, plan_id, subscription_active, campaigns_remaining, renewed_at,
       reminder_interval_hours, platforms, default_duration_days, created_at, updated_at
FROM projects`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(s rowScanner) (*project.Project, error) {
	var (
		p         project.Project
		renewedAt sql.NullTime
		platforms string
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.Subscription.PlanID, &p.Subscription.Active,
		&p.Subscription.CampaignsRemaining, &renewedAt, &p.Settings.ReminderIntervalHours, &platforms,
		&p.Settings.DefaultDurationDays, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if renewedAt.Valid {
		t := renewedAt.Time
		p.Subscription.RenewedAt = &t
	}
	p.Settings.Platforms = splitPlatforms[user.Platform](platforms)
	return &p, nil
}

// GetByID returns a project with members.
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*project.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, selectProject+` WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if p.Members, err = r.members(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProjectRepository) members(ctx context.Context, projectID string) ([]project.Member, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, role FROM project_members WHERE project_id=$1 ORDER BY user_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []project.Member
	for rows.Next() {
		var m project.Member
		if err := rows.Scan(&m.UserID, &m.Role); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListByMember returns projects where userID holds any role.
func (r *ProjectRepository) ListByMember(ctx context.Context, userID int64) ([]project.Project, error) {
	q := selectProject + `
WHERE id IN (SELECT project_id FROM project_members WHERE user_id=$1)
ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Members, err = r.members(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ProjectRepository) AddMember(ctx context.Context, projectID string, m project.Member) error {
	const q = `
	INSERT INTO project_members (project_id, user_id, role)
	SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM projects WHERE id=$1)
	ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role`
	res, err := r.db.ExecContext(ctx, q, projectID, m.UserID, m.Role)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.ErrNotFound
	}
	return nil
}

// ActivatePlan marks the subscription active and tops up the campaign quota.
func (r *ProjectRepository) ActivatePlan(ctx context.Context, projectID, planID string, quota int) error {
	const q = `
	UPDATE projects
	SET plan_id=$2, subscription_active=TRUE, campaigns_remaining=campaigns_remaining+$3, renewed_at=now(), updated_at=now()
	WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, projectID, planID, quota)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.ErrNotFound
	}
	return nil
}

func (r *ProjectRepository) DeactivatePlan(ctx context.Context, projectID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE projects SET subscription_active=FALSE, updated_at=now() WHERE id=$1`, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.ErrNotFound
	}
	return nil
}
