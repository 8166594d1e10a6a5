package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	dc "github.com/open-builders/campaign-bot/internal/domain/campaign"
	rplatform "github.com/open-builders/campaign-bot/internal/platform/redis"
	campaignsvc "github.com/open-builders/campaign-bot/internal/service/campaign"
)

const sessionKey = "wizard:session:%d"

// ProjectOption is a project the user may create the campaign under.
type ProjectOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Draft accumulates the answers collected so far.
type Draft struct {
	ProjectID          string        `json:"project_id,omitempty"`
	Name               string        `json:"name,omitempty"`
	Description        string        `json:"description,omitempty"`
	TargetPostURL      string        `json:"target_post_url,omitempty"`
	DurationDays       int           `json:"duration_days,omitempty"`
	Rewards            []dc.Reward   `json:"rewards,omitempty"`
	TargetParticipants int           `json:"target_participants,omitempty"`
	Visibility         dc.Visibility `json:"visibility,omitempty"`
}

// Input converts the draft into a campaign create request.
func (d Draft) Input() campaignsvc.CreateInput {
	return campaignsvc.CreateInput{
		ProjectID:          d.ProjectID,
		Name:               d.Name,
		Description:        d.Description,
		TargetPostURL:      d.TargetPostURL,
		DurationDays:       d.DurationDays,
		TargetParticipants: d.TargetParticipants,
		Rewards:            d.Rewards,
		Visibility:         d.Visibility,
	}
}

// Session is the persisted conversation state of one user.
type Session struct {
	UserID    int64           `json:"user_id"`
	Step      Step            `json:"step"`
	Projects  []ProjectOption `json:"projects"`
	Draft     Draft           `json:"draft"`
	Pending   *dc.Reward      `json:"pending,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SessionStore keeps wizard sessions in Redis with an idle TTL refreshed on every save.
type SessionStore struct {
	client *rplatform.Client
	ttl    time.Duration
}

func NewSessionStore(client *rplatform.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) key(userID int64) string { return fmt.Sprintf(sessionKey, userID) }

// Load returns the user's session, or nil when none is active.
func (s *SessionStore) Load(ctx context.Context, userID int64) (*Session, error) {
	b, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode wizard session: %w", err)
	}
	if !sess.Step.Valid() {
		return nil, fmt.Errorf("wizard session has unknown step %q", sess.Step)
	}
	return &sess, nil
}

// Save writes the session and restarts its idle timer.
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(sess.UserID), b, s.ttl).Err()
}

// Delete discards the session.
func (s *SessionStore) Delete(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}

// Claim removes the session and reports whether this call was the one that
// removed it. Concurrent confirms race on the DEL and only one wins.
func (s *SessionStore) Claim(ctx context.Context, userID int64) (bool, error) {
	n, err := s.client.Del(ctx, s.key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
