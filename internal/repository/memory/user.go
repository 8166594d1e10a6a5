package memory

import (
	"context"
	"strings"
	"time"

	"github.com/open-builders/campaign-bot/internal/domain/user"
)

type UserRepository struct{ s *Store }

func (r *UserRepository) Upsert(_ context.Context, u *user.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur, ok := r.s.users[u.ID]; ok {
		cur.Username = u.Username
		cur.FirstName = u.FirstName
		cur.UpdatedAt = u.UpdatedAt
		if cur.ReferralCode == "" && !r.codeTaken(u.ID, u.ReferralCode) {
			cur.ReferralCode = u.ReferralCode
		}
		return nil
	}
	if r.codeTaken(u.ID, u.ReferralCode) {
		return user.ErrReferralCodeTaken
	}
	stored := cloneUser(u)
	r.s.users[u.ID] = stored
	return nil
}

func (r *UserRepository) codeTaken(id int64, code string) bool {
	if code == "" {
		return false
	}
	for otherID, other := range r.s.users {
		if otherID != id && other.ReferralCode == code {
			return true
		}
	}
	return false
}

func (r *UserRepository) GetByID(_ context.Context, id int64) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (r *UserRepository) GetByReferralCode(_ context.Context, code string) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.ReferralCode != "" && u.ReferralCode == code {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (r *UserRepository) SetReferrer(_ context.Context, userID, referrerID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil
	}
	if u.ReferredBy != nil {
		return user.ErrReferrerAlreadySet
	}
	id := referrerID
	u.ReferredBy = &id
	return nil
}

func (r *UserRepository) ActivatePremium(_ context.Context, userID int64, until time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[userID]; ok {
		u.IsPremium = true
		if u.PremiumUntil == nil || until.After(*u.PremiumUntil) {
			t := until
			u.PremiumUntil = &t
		}
	}
	return nil
}

func (r *UserRepository) SaveChallenge(_ context.Context, userID int64, acc user.SocialAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, other := range r.s.users {
		if id == userID {
			continue
		}
		for _, a := range other.SocialAccounts {
			if a.Platform == acc.Platform && a.IsVerified() && strings.EqualFold(a.Handle, acc.Handle) {
				return user.ErrHandleTaken
			}
		}
	}
	u, ok := r.s.users[userID]
	if !ok {
		return nil
	}
	acc.Status = user.StatusPending
	acc.VerifiedAt = nil
	for i := range u.SocialAccounts {
		if u.SocialAccounts[i].Platform == acc.Platform {
			u.SocialAccounts[i] = acc
			return nil
		}
	}
	u.SocialAccounts = append(u.SocialAccounts, acc)
	return nil
}

func (r *UserRepository) MarkVerified(_ context.Context, userID int64, platform user.Platform, code string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return false, nil
	}
	for i := range u.SocialAccounts {
		a := &u.SocialAccounts[i]
		if a.Platform != platform {
			continue
		}
		if a.Status != user.StatusPending || a.ChallengeCode != code || a.ChallengeExpiresAt == nil || now.After(*a.ChallengeExpiresAt) {
			return false, nil
		}
		for id, other := range r.s.users {
			if id == userID {
				continue
			}
			for _, oa := range other.SocialAccounts {
				if oa.Platform == platform && oa.IsVerified() && strings.EqualFold(oa.Handle, a.Handle) {
					return false, user.ErrHandleTaken
				}
			}
		}
		t := now
		a.Status = user.StatusVerified
		a.ChallengeCode = ""
		a.ChallengeExpiresAt = nil
		a.VerifiedAt = &t
		a.UpdatedAt = now
		return true, nil
	}
	return false, nil
}

func (r *UserRepository) DeleteAccount(_ context.Context, userID int64, platform user.Platform) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return false, nil
	}
	for i := range u.SocialAccounts {
		if u.SocialAccounts[i].Platform == platform {
			u.SocialAccounts = append(u.SocialAccounts[:i], u.SocialAccounts[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *UserRepository) ResetExpiredChallenges(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, u := range r.s.users {
		for i := range u.SocialAccounts {
			a := &u.SocialAccounts[i]
			if a.Status == user.StatusPending && a.ChallengeExpiresAt != nil && a.ChallengeExpiresAt.Before(now) {
				a.Status = user.StatusUnverified
				a.ChallengeCode = ""
				a.ChallengeExpiresAt = nil
				a.UpdatedAt = now
				n++
			}
		}
	}
	return n, nil
}
