package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies balance movements.
type EntryKind string

const (
	KindReward   EntryKind = "reward"
	KindReferral EntryKind = "referral"
	KindCashout  EntryKind = "cashout"
	KindRefund   EntryKind = "refund"
	KindPurchase EntryKind = "purchase"
)

// EntryStatus is the settlement state of a ledger entry.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// Entry is an append-only balance movement. Amount is signed credits.
type Entry struct {
	ID          string      `json:"id"`
	UserID      int64       `json:"user_id"`
	Kind        EntryKind   `json:"kind"`
	Amount      int64       `json:"amount"`
	Status      EntryStatus `json:"status"`
	Description string      `json:"description"`
	Reference   string      `json:"reference,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// PaymentMethod is a cashout destination type.
type PaymentMethod string

const (
	MethodPayPal PaymentMethod = "paypal"
	MethodTON    PaymentMethod = "ton"
)

// PayoutStatus is the settlement state of a cashout.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
	PayoutFailed  PayoutStatus = "failed"
)

// Payout is a cashout request. Credits are debited when it is created.
type Payout struct {
	ID          string          `json:"id"`
	UserID      int64           `json:"user_id"`
	Credits     int64           `json:"credits"`
	USDValue    decimal.Decimal `json:"usd_value"`
	Commission  decimal.Decimal `json:"commission"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	Method      PaymentMethod   `json:"method"`
	Destination string          `json:"destination"`
	Status      PayoutStatus    `json:"status"`
	EntryID     string          `json:"entry_id"`
	CreatedAt   time.Time       `json:"created_at"`
	SettledAt   *time.Time      `json:"settled_at,omitempty"`
}

// Grant is a reward credit for a participant in a campaign.
type Grant struct {
	CampaignID string
	UserID     int64
	Amount     int64
	At         time.Time
}

var (
	ErrAlreadyGranted      = errors.New("reward already granted")
	ErrNotParticipated     = errors.New("participant has not participated")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrPayoutNotFound      = errors.New("payout not found")
	ErrPayoutSettled       = errors.New("payout already settled")
	ErrUserNotFound        = errors.New("user not found")
)
