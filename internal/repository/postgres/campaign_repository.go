package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/open-builders/campaign-bot/internal/domain/campaign"
	"github.com/open-builders/campaign-bot/internal/domain/user"
)

// CampaignRepository persists campaigns with normalized reward and participant rows.
type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository { return &CampaignRepository{db: db} }

// CreateWithQuota decrements the project quota with a guarded update and inserts the
// campaign with its rewards in the same transaction.
func (r *CampaignRepository) CreateWithQuota(ctx context.Context, c *campaign.Campaign) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const qQuota = `
	UPDATE projects SET campaigns_remaining = campaigns_remaining - 1, updated_at = now()
	WHERE id=$1 AND subscription_active AND campaigns_remaining > 0`
	res, err := tx.ExecContext(ctx, qQuota, c.ProjectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = campaign.ErrQuotaExhausted
		return err
	}

	const qCampaign = `
	INSERT INTO campaigns (id, project_id, creator_id, name, description, status, target_post_url, start_at, end_at,
		target_participants, visibility, required_platforms, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err = tx.ExecContext(ctx, qCampaign, c.ID, c.ProjectID, c.CreatorID, c.Name, c.Description, c.Status,
		c.TargetPostURL, c.StartAt, c.EndAt, c.TargetParticipants, c.Visibility, joinPlatforms(c.RequiredPlatforms),
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}

	const qReward = `INSERT INTO campaign_rewards (campaign_id, position, type, description, requirement, credits) VALUES ($1,$2,$3,$4,$5,$6)`
	for i, rw := range c.Rewards {
		if _, err = tx.ExecContext(ctx, qReward, c.ID, i, rw.Type, rw.Description, rw.Requirement, rw.Credits); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const selectCampaign = `
SELECT id, project_id, creator_id, name, description, status, target_post_url, start_at, end_at,
       target_participants, visibility, required_platforms, likes, retweets, comments, created_at, updated_at
FROM campaigns`

func scanCampaign(s rowScanner) (*campaign.Campaign, error) {
	var (
		c         campaign.Campaign
		platforms string
	)
	if err := s.Scan(&c.ID, &c.ProjectID, &c.CreatorID, &c.Name, &c.Description, &c.Status, &c.TargetPostURL,
		&c.StartAt, &c.EndAt, &c.TargetParticipants, &c.Visibility, &platforms,
		&c.Stats.Likes, &c.Stats.Retweets, &c.Stats.Comments, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.RequiredPlatforms = splitPlatforms[user.Platform](platforms)
	return &c, nil
}

// GetByID returns a campaign with rewards and participants.
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*campaign.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx, selectCampaign+` WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if c.Rewards, err = r.rewards(ctx, id); err != nil {
		return nil, err
	}
	if c.Participants, err = r.participants(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) rewards(ctx context.Context, id string) ([]campaign.Reward, error) {
	const q = `SELECT type, description, requirement, credits FROM campaign_rewards WHERE campaign_id=$1 ORDER BY position`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []campaign.Reward
	for rows.Next() {
		var rw campaign.Reward
		if err := rows.Scan(&rw.Type, &rw.Description, &rw.Requirement, &rw.Credits); err != nil {
			return nil, err
		}
		out = append(out, rw)
	}
	return out, rows.Err()
}

func (r *CampaignRepository) participants(ctx context.Context, id string) ([]campaign.Participant, error) {
	const q = `
	SELECT user_id, invited, joined, joined_at, participated, participated_at, reward_granted, reward_amount
	FROM campaign_participants WHERE campaign_id=$1 ORDER BY joined_at NULLS LAST, user_id`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []campaign.Participant
	for rows.Next() {
		var (
			p                        campaign.Participant
			joinedAt, participatedAt sql.NullTime
		)
		if err := rows.Scan(&p.UserID, &p.Invited, &p.Joined, &joinedAt, &p.Participated, &participatedAt,
			&p.RewardGranted, &p.RewardAmount); err != nil {
			return nil, err
		}
		if joinedAt.Valid {
			t := joinedAt.Time
			p.JoinedAt = &t
		}
		if participatedAt.Valid {
			t := participatedAt.Time
			p.ParticipatedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *CampaignRepository) list(ctx context.Context, q string, args ...interface{}) ([]campaign.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Rewards, err = r.rewards(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListByProject returns campaigns of a project ordered by created_at desc, without participants.
func (r *CampaignRepository) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]campaign.Campaign, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return r.list(ctx, selectCampaign+` WHERE project_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, projectID, limit, offset)
}

// ListEligible returns active campaigns visible to userID.
func (r *CampaignRepository) ListEligible(ctx context.Context, userID int64, limit int) ([]campaign.Campaign, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := selectCampaign + `
	WHERE status='active' AND (
		visibility='public'
		OR EXISTS (SELECT 1 FROM campaign_participants p WHERE p.campaign_id=campaigns.id AND p.user_id=$1)
	)
	ORDER BY created_at DESC
	LIMIT $2`
	return r.list(ctx, q, userID, limit)
}

// UpdateStatus is a compare-and-set on the status column.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, from, to campaign.Status) (bool, error) {
	const q = `UPDATE campaigns SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`
	res, err := r.db.ExecContext(ctx, q, id, from, to)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignRepository) Invite(ctx context.Context, id string, userID int64) (bool, error) {
	const q = `
	INSERT INTO campaign_participants (campaign_id, user_id, invited)
	SELECT $1, $2, TRUE WHERE EXISTS (SELECT 1 FROM campaigns WHERE id=$1)
	ON CONFLICT DO NOTHING`
	res, err := r.db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Join holds a share lock on the campaign row so a concurrent cancel cannot
// interleave, then inserts or upgrades the participant row.
func (r *CampaignRepository) Join(ctx context.Context, id string, userID int64, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status, visibility string
	err = tx.QueryRowContext(ctx, `SELECT status, visibility FROM campaigns WHERE id=$1 FOR SHARE`, id).Scan(&status, &visibility)
	if errors.Is(err, sql.ErrNoRows) {
		err = campaign.ErrNotFound
		return err
	}
	if err != nil {
		return err
	}
	if campaign.Status(status) != campaign.StatusActive {
		err = campaign.ErrNotActive
		return err
	}

	var joined bool
	err = tx.QueryRowContext(ctx, `SELECT joined FROM campaign_participants WHERE campaign_id=$1 AND user_id=$2 FOR UPDATE`, id, userID).Scan(&joined)
	switch {
	case err == nil:
		if joined {
			err = campaign.ErrAlreadyJoined
			return err
		}
		if _, err = tx.ExecContext(ctx, `UPDATE campaign_participants SET joined=TRUE, joined_at=$3 WHERE campaign_id=$1 AND user_id=$2`, id, userID, at); err != nil {
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
		if campaign.Visibility(visibility) == campaign.VisibilityPrivate {
			err = campaign.ErrNotInvited
			return err
		}
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
		INSERT INTO campaign_participants (campaign_id, user_id, joined, joined_at)
		VALUES ($1,$2,TRUE,$3) ON CONFLICT DO NOTHING`, id, userID, at)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			err = campaign.ErrAlreadyJoined
			return err
		}
	default:
		return err
	}
	return tx.Commit()
}

// MarkParticipated flips participated once and adds delta to the campaign counters
// with atomic increments.
func (r *CampaignRepository) MarkParticipated(ctx context.Context, id string, userID int64, at time.Time, delta campaign.Stats) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const q = `
	UPDATE campaign_participants SET participated=TRUE, participated_at=$3
	WHERE campaign_id=$1 AND user_id=$2 AND joined AND NOT participated`
	res, err := tx.ExecContext(ctx, q, id, userID, at)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var joined bool
		err = tx.QueryRowContext(ctx, `SELECT joined FROM campaign_participants WHERE campaign_id=$1 AND user_id=$2`, id, userID).Scan(&joined)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !joined) {
			err = campaign.ErrParticipantAbsent
			return false, err
		}
		if err != nil {
			return false, err
		}
		// already participated; nothing to commit
		_ = tx.Rollback()
		return false, nil
	}

	const qStats = `
	UPDATE campaigns SET likes = likes + $2, retweets = retweets + $3, comments = comments + $4, updated_at = now()
	WHERE id=$1`
	if _, err = tx.ExecContext(ctx, qStats, id, delta.Likes, delta.Retweets, delta.Comments); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ListExpiredActiveIDs returns active campaigns whose end passed.
func (r *CampaignRepository) ListExpiredActiveIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM campaigns WHERE status='active' AND end_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
