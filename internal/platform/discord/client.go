package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/open-builders/campaign-bot/internal/service/verification"
)

// ErrUnavailable is returned for rate limits, 5xx responses and transport failures.
var ErrUnavailable = errors.New("discord: unavailable")

type message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
}

// Client reads the verification channel where users post their challenge codes.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	channelID  string
}

func NewClient(baseURL, botToken, channelID string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      botToken,
		channelID:  channelID,
	}
}

// CheckChallengeMessage scans the latest channel messages for code posted by handle.
func (c *Client) CheckChallengeMessage(ctx context.Context, handle, code string, since time.Time) (verification.ChallengeMessage, error) {
	msgs, err := c.recentMessages(ctx)
	if err != nil {
		return verification.ChallengeMessage{}, err
	}
	for _, m := range msgs {
		if !strings.EqualFold(m.Author.Username, handle) {
			continue
		}
		if m.Timestamp.Before(since) || !strings.Contains(strings.ToLower(m.Content), strings.ToLower(code)) {
			continue
		}
		return verification.ChallengeMessage{Found: true, SenderID: m.Author.ID, Timestamp: m.Timestamp}, nil
	}
	return verification.ChallengeMessage{}, nil
}

func (c *Client) recentMessages(ctx context.Context) ([]message, error) {
	endpoint := fmt.Sprintf("%s/channels/%s/messages?limit=100", c.baseURL, c.channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord: status %d: %s", resp.StatusCode, body)
	}
	var msgs []message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return msgs, nil
}

var _ verification.ChallengeChecker = (*Client)(nil)
