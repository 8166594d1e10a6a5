package workers

import (
	"context"
	"errors"
	"strings"
	"time"

	go_redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/open-builders/campaign-bot/internal/platform/redis"
)

// EventHandler applies one stream entry. An error leaves the entry pending for redelivery.
type EventHandler interface {
	HandleEvent(ctx context.Context, values map[string]interface{}) error
}

// StreamConfig names the stream and the consumer identity.
type StreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	// ReclaimAfter is how long an entry may stay pending before it is retried.
	ReclaimAfter time.Duration
}

// RedisStreamWorker consumes payment events from a Redis stream consumer group.
type RedisStreamWorker struct {
	rdb     *redis.Client
	handler EventHandler
	cfg     StreamConfig
}

func NewRedisStreamWorker(rdb *redis.Client, handler EventHandler, cfg StreamConfig) *RedisStreamWorker {
	if cfg.ReclaimAfter <= 0 {
		cfg.ReclaimAfter = time.Minute
	}
	return &RedisStreamWorker{rdb: rdb, handler: handler, cfg: cfg}
}

// Start blocks until ctx is cancelled.
func (w *RedisStreamWorker) Start(ctx context.Context) {
	if err := w.ensureGroup(ctx); err != nil {
		log.Error().Err(err).Str("stream", w.cfg.Stream).Msg("error creating consumer group")
	}
	log.Info().Str("stream", w.cfg.Stream).Str("group", w.cfg.Group).Msg("starting redis stream worker")

	lastReclaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping redis stream worker")
			return
		default:
		}

		if time.Since(lastReclaim) >= w.cfg.ReclaimAfter {
			w.reclaim(ctx)
			lastReclaim = time.Now()
		}
		if _, err := w.Poll(ctx, 5*time.Second); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("error reading from stream")
			time.Sleep(time.Second)
		}
	}
}

func (w *RedisStreamWorker) ensureGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Poll reads and processes one batch of new entries and returns how many were acknowledged.
func (w *RedisStreamWorker) Poll(ctx context.Context, block time.Duration) (int, error) {
	entries, err := w.rdb.XReadGroup(ctx, &go_redis.XReadGroupArgs{
		Group:    w.cfg.Group,
		Consumer: w.cfg.Consumer,
		Streams:  []string{w.cfg.Stream, ">"},
		Count:    10,
		Block:    block,
	}).Result()
	if errors.Is(err, go_redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	acked := 0
	for _, stream := range entries {
		acked += w.process(ctx, stream.Messages)
	}
	return acked, nil
}

// reclaim retries entries left pending by a failed handler or a crashed consumer.
func (w *RedisStreamWorker) reclaim(ctx context.Context) {
	msgs, _, err := w.rdb.XAutoClaim(ctx, &go_redis.XAutoClaimArgs{
		Stream:   w.cfg.Stream,
		Group:    w.cfg.Group,
		Consumer: w.cfg.Consumer,
		MinIdle:  w.cfg.ReclaimAfter,
		Start:    "0",
		Count:    10,
	}).Result()
	if err != nil {
		log.Warn().Err(err).Msg("error reclaiming pending entries")
		return
	}
	w.process(ctx, msgs)
}

func (w *RedisStreamWorker) process(ctx context.Context, msgs []go_redis.XMessage) int {
	acked := 0
	for _, msg := range msgs {
		if err := w.handler.HandleEvent(ctx, msg.Values); err != nil {
			log.Error().Err(err).Str("id", msg.ID).Interface("values", msg.Values).Msg("error processing stream entry")
			continue
		}
		if err := w.rdb.XAck(ctx, w.cfg.Stream, w.cfg.Group, msg.ID).Err(); err != nil {
			log.Error().Err(err).Str("id", msg.ID).Msg("error acknowledging stream entry")
			continue
		}
		acked++
	}
	return acked
}
