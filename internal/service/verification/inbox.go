package verification

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/open-builders/campaign-bot/internal/domain/user"
	rplatform "github.com/open-builders/campaign-bot/internal/platform/redis"
)

// Inbox records challenge codes received as direct messages to the bot and answers
// challenge checks for Telegram handles. Entries expire with the challenge window.
type Inbox struct {
	rdb *rplatform.Client
}

func NewInbox(rdb *rplatform.Client) *Inbox { return &Inbox{rdb: rdb} }

func inboxKey(code string) string { return "verify:inbox:telegram:" + strings.ToLower(code) }

// Record stores the sender of code. A later message with the same code overwrites it.
func (i *Inbox) Record(ctx context.Context, code string, senderID int64, senderUsername string, at time.Time) error {
	key := inboxKey(code)
	pipe := i.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"sender_id", strconv.FormatInt(senderID, 10),
		"username", strings.ToLower(senderUsername),
		"ts", strconv.FormatInt(at.Unix(), 10),
	)
	pipe.Expire(ctx, key, user.ChallengeTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// CheckChallengeMessage implements ChallengeChecker.
func (i *Inbox) CheckChallengeMessage(ctx context.Context, handle, code string, since time.Time) (ChallengeMessage, error) {
	vals, err := i.rdb.HGetAll(ctx, inboxKey(code)).Result()
	if err != nil {
		return ChallengeMessage{}, err
	}
	if len(vals) == 0 || !strings.EqualFold(vals["username"], handle) {
		return ChallengeMessage{}, nil
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return ChallengeMessage{}, nil
	}
	at := time.Unix(ts, 0).UTC()
	if at.Before(since.Truncate(time.Second)) {
		return ChallengeMessage{}, nil
	}
	return ChallengeMessage{Found: true, SenderID: vals["sender_id"], Timestamp: at}, nil
}
