package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/open-builders/campaign-bot/internal/domain/ledger"
)

// LedgerRepository applies credit movements and their ledger entries atomically.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository { return &LedgerRepository{db: db} }

const qInsertEntry = `
INSERT INTO ledger_entries (id, user_id, kind, amount, status, description, reference, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

func insertEntry(ctx context.Context, tx *sql.Tx, e *ledger.Entry) error {
	_, err := tx.ExecContext(ctx, qInsertEntry, e.ID, e.UserID, e.Kind, e.Amount, e.Status, e.Description, e.Reference, e.CreatedAt)
	return err
}

// GrantReward flips reward_granted with a conditional update; the row lock taken by
// the UPDATE serialises concurrent grants for the same participant.
func (r *LedgerRepository) GrantReward(ctx context.Context, g ledger.Grant) (*ledger.Entry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const qFlag = `
	UPDATE campaign_participants SET reward_granted=TRUE, reward_amount=$3
	WHERE campaign_id=$1 AND user_id=$2 AND participated AND NOT reward_granted`
	res, err := tx.ExecContext(ctx, qFlag, g.CampaignID, g.UserID, g.Amount)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var participated, granted bool
		err = tx.QueryRowContext(ctx, `SELECT participated, reward_granted FROM campaign_participants WHERE campaign_id=$1 AND user_id=$2`,
			g.CampaignID, g.UserID).Scan(&participated, &granted)
		switch {
		case errors.Is(err, sql.ErrNoRows), err == nil && !participated:
			err = ledger.ErrNotParticipated
		case err == nil:
			err = ledger.ErrAlreadyGranted
		}
		return nil, err
	}

	res, err = tx.ExecContext(ctx, `UPDATE users SET credits = credits + $2, updated_at = now() WHERE id=$1`, g.UserID, g.Amount)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ledger.ErrUserNotFound
		return nil, err
	}

	var name string
	if err = tx.QueryRowContext(ctx, `SELECT name FROM campaigns WHERE id=$1`, g.CampaignID).Scan(&name); err != nil {
		return nil, err
	}
	e := &ledger.Entry{
		ID:          uuid.NewString(),
		UserID:      g.UserID,
		Kind:        ledger.KindReward,
		Amount:      g.Amount,
		Status:      ledger.EntryCompleted,
		Description: "Reward for campaign " + name,
		Reference:   g.CampaignID,
		CreatedAt:   g.At,
	}
	if err = insertEntry(ctx, tx, e); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

// Credit adds a completed movement to a user's balance.
func (r *LedgerRepository) Credit(ctx context.Context, userID, amount int64, kind ledger.EntryKind, description, reference string) (*ledger.Entry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits + $2, updated_at = now() WHERE id=$1`, userID, amount)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ledger.ErrUserNotFound
		return nil, err
	}
	e := &ledger.Entry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Status:      ledger.EntryCompleted,
		Description: description,
		Reference:   reference,
		CreatedAt:   time.Now().UTC(),
	}
	if err = insertEntry(ctx, tx, e); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

// Cashout debits with a guarded update so the balance can never go negative.
func (r *LedgerRepository) Cashout(ctx context.Context, p *ledger.Payout) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits - $2, updated_at = now() WHERE id=$1 AND credits >= $2`, p.UserID, p.Credits)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id=$1)`, p.UserID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			err = ledger.ErrInsufficientCredits
		} else {
			err = ledger.ErrUserNotFound
		}
		return err
	}

	e := &ledger.Entry{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		Kind:        ledger.KindCashout,
		Amount:      -p.Credits,
		Status:      ledger.EntryPending,
		Description: "Cashout via " + string(p.Method),
		Reference:   p.ID,
		CreatedAt:   p.CreatedAt,
	}
	if err = insertEntry(ctx, tx, e); err != nil {
		return err
	}
	p.EntryID = e.ID

	const qPayout = `
	INSERT INTO payouts (id, user_id, credits, usd_value, commission, final_amount, method, destination, status, entry_id, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	if _, err = tx.ExecContext(ctx, qPayout, p.ID, p.UserID, p.Credits, p.USDValue, p.Commission, p.FinalAmount,
		p.Method, p.Destination, p.Status, p.EntryID, p.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

const selectPayout = `
SELECT id, user_id, credits, usd_value, commission, final_amount, method, destination, status, entry_id, created_at, settled_at
FROM payouts`

func scanPayout(s rowScanner) (*ledger.Payout, error) {
	var (
		p         ledger.Payout
		settledAt sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.UserID, &p.Credits, &p.USDValue, &p.Commission, &p.FinalAmount, &p.Method,
		&p.Destination, &p.Status, &p.EntryID, &p.CreatedAt, &settledAt); err != nil {
		return nil, err
	}
	if settledAt.Valid {
		t := settledAt.Time
		p.SettledAt = &t
	}
	return &p, nil
}

// SettlePayout locks the payout row and finalizes it; a failed payout returns the credits.
func (r *LedgerRepository) SettlePayout(ctx context.Context, payoutID string, paid bool, at time.Time) (*ledger.Payout, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	p, err := scanPayout(tx.QueryRowContext(ctx, selectPayout+` WHERE id=$1 FOR UPDATE`, payoutID))
	if errors.Is(err, sql.ErrNoRows) {
		err = ledger.ErrPayoutNotFound
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if p.Status != ledger.PayoutPending {
		err = ledger.ErrPayoutSettled
		return nil, err
	}

	p.Status = ledger.PayoutPaid
	entryStatus := ledger.EntryCompleted
	if !paid {
		p.Status = ledger.PayoutFailed
		entryStatus = ledger.EntryFailed
	}
	p.SettledAt = &at
	if _, err = tx.ExecContext(ctx, `UPDATE payouts SET status=$2, settled_at=$3 WHERE id=$1`, p.ID, p.Status, at); err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE ledger_entries SET status=$2 WHERE id=$1`, p.EntryID, entryStatus); err != nil {
		return nil, err
	}
	if !paid {
		if _, err = tx.ExecContext(ctx, `UPDATE users SET credits = credits + $2, updated_at = now() WHERE id=$1`, p.UserID, p.Credits); err != nil {
			return nil, err
		}
		refund := &ledger.Entry{
			ID:          uuid.NewString(),
			UserID:      p.UserID,
			Kind:        ledger.KindRefund,
			Amount:      p.Credits,
			Status:      ledger.EntryCompleted,
			Description: "Refund for failed cashout",
			Reference:   p.ID,
			CreatedAt:   at,
		}
		if err = insertEntry(ctx, tx, refund); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *LedgerRepository) GetPayout(ctx context.Context, id string) (*ledger.Payout, error) {
	p, err := scanPayout(r.db.QueryRowContext(ctx, selectPayout+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// History returns the latest entries for a user.
func (r *LedgerRepository) History(ctx context.Context, userID int64, limit int) ([]ledger.Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	const q = `
	SELECT id, user_id, kind, amount, status, description, reference, created_at
	FROM ledger_entries WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.Status, &e.Description, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
