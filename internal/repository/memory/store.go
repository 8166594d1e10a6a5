// Package memory is an in-process implementation of the domain repositories.
// A single mutex serialises every operation, which gives the same atomicity the
// Postgres repositories get from transactions and conditional updates.
package memory

import (
	"sync"

	"github.com/open-builders/campaign-bot/internal/domain/campaign"
	"github.com/open-builders/campaign-bot/internal/domain/ledger"
	"github.com/open-builders/campaign-bot/internal/domain/project"
	"github.com/open-builders/campaign-bot/internal/domain/user"
)

// Store holds all entities. Use the accessor methods to get repository views.
type Store struct {
	mu        sync.Mutex
	users     map[int64]*user.User
	projects  map[string]*project.Project
	campaigns map[string]*campaign.Campaign
	order     []string // campaign ids in insertion order
	entries   []ledger.Entry
	payouts   map[string]*ledger.Payout
}

func NewStore() *Store {
	return &Store{
		users:     make(map[int64]*user.User),
		projects:  make(map[string]*project.Project),
		campaigns: make(map[string]*campaign.Campaign),
		payouts:   make(map[string]*ledger.Payout),
	}
}

func (s *Store) Users() *UserRepository         { return &UserRepository{s: s} }
func (s *Store) Projects() *ProjectRepository   { return &ProjectRepository{s: s} }
func (s *Store) Campaigns() *CampaignRepository { return &CampaignRepository{s: s} }
func (s *Store) Ledger() *LedgerRepository      { return &LedgerRepository{s: s} }

var (
	_ user.Repository     = (*UserRepository)(nil)
	_ project.Repository  = (*ProjectRepository)(nil)
	_ campaign.Repository = (*CampaignRepository)(nil)
	_ ledger.Repository   = (*LedgerRepository)(nil)
)

func cloneUser(u *user.User) *user.User {
	c := *u
	c.SocialAccounts = append([]user.SocialAccount(nil), u.SocialAccounts...)
	return &c
}

func cloneProject(p *project.Project) *project.Project {
	c := *p
	c.Members = append([]project.Member(nil), p.Members...)
	c.Settings.Platforms = append([]user.Platform(nil), p.Settings.Platforms...)
	return &c
}

func cloneCampaign(cp *campaign.Campaign) *campaign.Campaign {
	c := *cp
	c.Rewards = append([]campaign.Reward(nil), cp.Rewards...)
	c.RequiredPlatforms = append([]user.Platform(nil), cp.RequiredPlatforms...)
	c.Participants = append([]campaign.Participant(nil), cp.Participants...)
	return &c
}
