package user

import (
	"errors"
	"strings"
	"time"
)

// Platform is an external social network a user can link.
type Platform string

const (
	PlatformX        Platform = "x"
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformX, PlatformDiscord, PlatformTelegram:
		return true
	}
	return false
}

// ParsePlatform normalizes user input ("X", "twitter", "Discord") into a Platform.
func ParsePlatform(s string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x", "twitter":
		return PlatformX, true
	case "discord":
		return PlatformDiscord, true
	case "telegram", "tg":
		return PlatformTelegram, true
	}
	return "", false
}

// VerificationStatus is the lifecycle state of a linked social account.
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "unverified"
	StatusPending    VerificationStatus = "pending"
	StatusVerified   VerificationStatus = "verified"
)

// ChallengeTTL is the fixed validity window of a verification code.
const ChallengeTTL = 24 * time.Hour

var (
	// ErrHandleTaken is returned when another user already holds a verified account for the handle.
	ErrHandleTaken = errors.New("handle already verified by another user")
	// ErrReferrerAlreadySet is returned when a user already has a referrer.
	ErrReferrerAlreadySet = errors.New("referrer already set")
	// ErrReferralCodeTaken is returned by Upsert when a new user's referral code collides.
	ErrReferralCodeTaken = errors.New("referral code already in use")
)

// SocialAccount is a user's link to an external platform identity.
type SocialAccount struct {
	Platform           Platform           `json:"platform"`
	Handle             string             `json:"handle"`
	Status             VerificationStatus `json:"status"`
	ChallengeCode      string             `json:"challenge_code,omitempty"`
	ChallengeExpiresAt *time.Time         `json:"challenge_expires_at,omitempty"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// IsVerified reports whether the account passed the challenge.
func (a SocialAccount) IsVerified() bool { return a.Status == StatusVerified }

// ChallengeIssuedAt returns the start of the challenge window.
func (a SocialAccount) ChallengeIssuedAt() time.Time {
	if a.ChallengeExpiresAt == nil {
		return time.Time{}
	}
	return a.ChallengeExpiresAt.Add(-ChallengeTTL)
}

// User represents a bot user mirrored from Telegram identity.
// ID is the Telegram user ID.
type User struct {
	ID             int64           `json:"id"`
	Username       string          `json:"username"`
	FirstName      string          `json:"first_name"`
	Credits        int64           `json:"credits"`
	IsPremium      bool            `json:"is_premium"`
	PremiumUntil   *time.Time      `json:"premium_until,omitempty"`
	ReferralCode   string          `json:"referral_code"`
	ReferredBy     *int64          `json:"referred_by,omitempty"`
	SocialAccounts []SocialAccount `json:"social_accounts"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Account returns the social account for the platform, if linked.
func (u *User) Account(p Platform) (SocialAccount, bool) {
	for _, a := range u.SocialAccounts {
		if a.Platform == p {
			return a, true
		}
	}
	return SocialAccount{}, false
}

// HasVerified reports whether the user holds a verified account on p.
func (u *User) HasVerified(p Platform) bool {
	a, ok := u.Account(p)
	return ok && a.IsVerified()
}

// IsVerified reports whether the user proved control of at least one social account.
func (u *User) IsVerified() bool {
	for _, a := range u.SocialAccounts {
		if a.IsVerified() {
			return true
		}
	}
	return false
}

// PremiumActive reports whether the premium flag is set and not expired at now.
func (u *User) PremiumActive(now time.Time) bool {
	return u.IsPremium && u.PremiumUntil != nil && u.PremiumUntil.After(now)
}

// MissingPlatforms returns the platforms from required the user has not verified.
func (u *User) MissingPlatforms(required []Platform) []Platform {
	var missing []Platform
	for _, p := range required {
		if !u.HasVerified(p) {
			missing = append(missing, p)
		}
	}
	return missing
}
