package workers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/open-builders/campaign-bot/internal/platform/redis"
)

const sweepLockKey = "lock:sweeper"

// ChallengeSweeper resets expired verification challenges.
type ChallengeSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// CampaignCompleter closes campaigns whose end has passed.
type CampaignCompleter interface {
	CompleteExpired(ctx context.Context) (int, error)
}

// Sweeper runs periodic maintenance. A Redis lock keeps replicas from sweeping concurrently;
// both sweeps are idempotent so a lost lock only costs duplicate work.
type Sweeper struct {
	rdb        *redis.Client
	challenges ChallengeSweeper
	campaigns  CampaignCompleter
	interval   time.Duration
	lockTTL    time.Duration
	token      string
}

func NewSweeper(rdb *redis.Client, challenges ChallengeSweeper, campaigns CampaignCompleter, interval, lockTTL time.Duration) *Sweeper {
	return &Sweeper{
		rdb:        rdb,
		challenges: challenges,
		campaigns:  campaigns,
		interval:   interval,
		lockTTL:    lockTTL,
		token:      uuid.NewString(),
	}
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("starting sweeper")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping sweeper")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sweep if the lock is free. It reports whether it ran.
func (s *Sweeper) RunOnce(ctx context.Context) bool {
	release, err := s.rdb.TryLock(ctx, sweepLockKey, s.token, s.lockTTL)
	if errors.Is(err, redis.ErrLockHeld) {
		log.Debug().Msg("sweep skipped, another replica holds the lock")
		return false
	}
	if err != nil {
		log.Error().Err(err).Msg("sweep lock failed")
		return false
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("sweep lock release failed")
		}
	}()

	if n, err := s.challenges.SweepExpired(ctx); err != nil {
		log.Error().Err(err).Msg("challenge sweep failed")
	} else if n > 0 {
		log.Info().Int64("reset", n).Msg("expired challenges reset")
	}
	if n, err := s.campaigns.CompleteExpired(ctx); err != nil {
		log.Error().Err(err).Msg("campaign completion failed")
	} else if n > 0 {
		log.Info().Int("completed", n).Msg("expired campaigns completed")
	}
	return true
}
