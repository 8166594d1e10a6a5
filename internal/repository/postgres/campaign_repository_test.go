package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-builders/campaign-bot/internal/domain/campaign"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

// sqlFragment matches a statement containing s verbatim, whitespace collapsed.
func sqlFragment(s string) string { return regexp.QuoteMeta(s) }

func TestCreateWithQuotaGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := &campaign.Campaign{
		ID: "c1", ProjectID: "p1", CreatorID: 10, Name: "Launch", Status: campaign.StatusActive,
		StartAt: now, EndAt: now.Add(24 * time.Hour),
		Rewards: []campaign.Reward{{Type: campaign.RewardTypeCredits, Description: "Base", Credits: 100}},
	}
	quota := sqlFragment("SET campaigns_remaining = campaigns_remaining - 1, updated_at = now() WHERE id=$1 AND subscription_active AND campaigns_remaining > 0")

	t.Run("exhausted", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(quota).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := NewCampaignRepository(db).CreateWithQuota(ctx, c)
		assert.ErrorIs(t, err, campaign.ErrQuotaExhausted)
	})

	t.Run("consumes one unit", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(quota).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(sqlFragment("INSERT INTO campaigns")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(sqlFragment("INSERT INTO campaign_rewards")).
			WithArgs("c1", 0, campaign.RewardTypeCredits, "Base", "", int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, NewCampaignRepository(db).CreateWithQuota(ctx, c))
	})
}

func TestJoinLocksCampaignRow(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	lock := sqlFragment("SELECT status, visibility FROM campaigns WHERE id=$1 FOR SHARE")
	participant := sqlFragment("SELECT joined FROM campaign_participants WHERE campaign_id=$1 AND user_id=$2 FOR UPDATE")

	t.Run("not active", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"status", "visibility"}).AddRow("cancelled", "public"))
		mock.ExpectRollback()

		assert.ErrorIs(t, NewCampaignRepository(db).Join(ctx, "c1", 7, at), campaign.ErrNotActive)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs("c1").WillReturnRows(sqlmock.NewRows([]string{"status", "visibility"}))
		mock.ExpectRollback()

		assert.ErrorIs(t, NewCampaignRepository(db).Join(ctx, "c1", 7, at), campaign.ErrNotFound)
	})

	t.Run("private without invitation", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"status", "visibility"}).AddRow("active", "private"))
		mock.ExpectQuery(participant).WithArgs("c1", int64(7)).WillReturnRows(sqlmock.NewRows([]string{"joined"}))
		mock.ExpectRollback()

		assert.ErrorIs(t, NewCampaignRepository(db).Join(ctx, "c1", 7, at), campaign.ErrNotInvited)
	})

	t.Run("invited joins", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"status", "visibility"}).AddRow("active", "private"))
		mock.ExpectQuery(participant).WithArgs("c1", int64(7)).WillReturnRows(sqlmock.NewRows([]string{"joined"}).AddRow(false))
		mock.ExpectExec(sqlFragment("UPDATE campaign_participants SET joined=TRUE, joined_at=$3 WHERE campaign_id=$1 AND user_id=$2")).
			WithArgs("c1", int64(7), at).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, NewCampaignRepository(db).Join(ctx, "c1", 7, at))
	})

	t.Run("already joined", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"status", "visibility"}).AddRow("active", "public"))
		mock.ExpectQuery(participant).WithArgs("c1", int64(7)).WillReturnRows(sqlmock.NewRows([]string{"joined"}).AddRow(true))
		mock.ExpectRollback()

		assert.ErrorIs(t, NewCampaignRepository(db).Join(ctx, "c1", 7, at), campaign.ErrAlreadyJoined)
	})
}

func TestMarkParticipatedOnce(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	flip := sqlFragment("SET participated=TRUE, participated_at=$3 WHERE campaign_id=$1 AND user_id=$2 AND joined AND NOT participated")
	joined := sqlFragment("SELECT joined FROM campaign_participants WHERE campaign_id=$1 AND user_id=$2")
	delta := campaign.Stats{Likes: 1, Retweets: 1}

	t.Run("first confirmation counts", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(flip).WithArgs("c1", int64(7), at).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(sqlFragment("likes = likes + $2, retweets = retweets + $3, comments = comments + $4")).
			WithArgs("c1", int64(1), int64(1), int64(0)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ok, err := NewCampaignRepository(db).MarkParticipated(ctx, "c1", 7, at, delta)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("repeat leaves stats alone", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(flip).WithArgs("c1", int64(7), at).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(joined).WithArgs("c1", int64(7)).WillReturnRows(sqlmock.NewRows([]string{"joined"}).AddRow(true))
		mock.ExpectRollback()

		ok, err := NewCampaignRepository(db).MarkParticipated(ctx, "c1", 7, at, delta)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("not joined", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(flip).WithArgs("c1", int64(7), at).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(joined).WithArgs("c1", int64(7)).WillReturnRows(sqlmock.NewRows([]string{"joined"}))
		mock.ExpectRollback()

		_, err := NewCampaignRepository(db).MarkParticipated(ctx, "c1", 7, at, delta)
		assert.ErrorIs(t, err, campaign.ErrParticipantAbsent)
	})
}

func TestUpdateStatusIsCompareAndSet(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(sqlFragment("UPDATE campaigns SET status=$3, updated_at=now() WHERE id=$1 AND status=$2")).
		WithArgs("c1", campaign.StatusActive, campaign.StatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewCampaignRepository(db).UpdateStatus(context.Background(), "c1", campaign.StatusActive, campaign.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok)
}
