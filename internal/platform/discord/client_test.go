package discord

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const messages = `[
	{"id":"3","content":"my code is A1B2C3","timestamp":"2025-03-01T12:10:00+00:00","author":{"id":"55","username":"Alice"}},
	{"id":"2","content":"a1b2c3","timestamp":"2025-03-01T12:05:00+00:00","author":{"id":"66","username":"mallory"}},
	{"id":"1","content":"a1b2c3","timestamp":"2025-03-01T11:00:00+00:00","author":{"id":"55","username":"alice"}}
]`

func TestCheckChallengeMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/chan1/messages", r.URL.Path)
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, messages)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "secret", "chan1")
	since := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	msg, err := c.CheckChallengeMessage(context.Background(), "alice", "a1b2c3", since)
	require.NoError(t, err)
	assert.True(t, msg.Found)
	assert.Equal(t, "55", msg.SenderID)

	msg, err = c.CheckChallengeMessage(context.Background(), "alice", "ffffff", since)
	require.NoError(t, err)
	assert.False(t, msg.Found)

	msg, err = c.CheckChallengeMessage(context.Background(), "alice", "a1b2c3", since.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, msg.Found, "messages before the challenge do not count")
}

func TestUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "secret", "chan1").CheckChallengeMessage(context.Background(), "alice", "a1b2c3", time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)
}
