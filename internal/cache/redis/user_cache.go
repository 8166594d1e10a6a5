package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/open-builders/campaign-bot/internal/domain/user"
	rplatform "github.com/open-builders/campaign-bot/internal/platform/redis"
)

// UserCache provides Redis-based caching for user profiles shown on the dashboard.
// Balance-changing paths always read from the repository, never from here.
type UserCache struct {
	client *rplatform.Client
	ttl    time.Duration
}

func NewUserCache(client *rplatform.Client, ttl time.Duration) *UserCache {
	return &UserCache{client: client, ttl: ttl}
}

func (c *UserCache) keyByID(id int64) string { return fmt.Sprintf("user:id:%d", id) }

// Set stores the user by id.
func (c *UserCache) Set(ctx context.Context, u *domain.User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.keyByID(u.ID), b, c.ttl).Err()
}

// GetByID returns cached user by id; redis.Nil when absent.
func (c *UserCache) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	v, err := c.client.Get(ctx, c.keyByID(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var u domain.User
	if err := json.Unmarshal(v, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Invalidate removes the cached entry for the user.
func (c *UserCache) Invalidate(ctx context.Context, id int64) error {
	return c.client.Del(ctx, c.keyByID(id)).Err()
}
