package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/open-builders/campaign-bot/internal/service/participation"
	"github.com/open-builders/campaign-bot/internal/service/verification"
)

// maxPages bounds how many pages of likers or retweeters are scanned per check.
const maxPages = 5

var (
	// ErrRateLimited is returned for HTTP 429.
	ErrRateLimited = errors.New("x api: rate limited")
	// ErrUnavailable is returned for 5xx responses and transport failures.
	ErrUnavailable = errors.New("x api: unavailable")
)

// StatusError is a non-success response that is neither 429 nor 5xx.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("x api: status %d: %s", e.Code, e.Body)
}

type userPage struct {
	Data []struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
	Meta struct {
		NextToken   string `json:"next_token"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

type tweetPage struct {
	Data []struct {
		ID        string    `json:"id"`
		AuthorID  string    `json:"author_id"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"data"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

// Client is a minimal X API v2 client for engagement and challenge lookups.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
}

func NewClient(baseURL, bearerToken string, rps float64, burst int) *Client {
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      bearerToken,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// CheckEngagement reports whether handle liked, retweeted and replied to postID.
func (c *Client) CheckEngagement(ctx context.Context, postID, handle string) (participation.Engagement, error) {
	var e participation.Engagement
	var err error
	if e.Liked, err = c.usersContain(ctx, "/2/tweets/"+postID+"/liking_users", handle); err != nil {
		return e, err
	}
	if e.Retweeted, err = c.usersContain(ctx, "/2/tweets/"+postID+"/retweeted_by", handle); err != nil {
		return e, err
	}
	var replies tweetPage
	q := url.Values{
		"query":       {fmt.Sprintf("conversation_id:%s from:%s", postID, handle)},
		"max_results": {"10"},
	}
	if err := c.get(ctx, "/2/tweets/search/recent", q, &replies); err != nil {
		return e, err
	}
	e.Replied = replies.Meta.ResultCount > 0

	if e.Liked {
		e.Metrics.Likes = 1
	}
	if e.Retweeted {
		e.Metrics.Retweets = 1
	}
	if e.Replied {
		e.Metrics.Comments = 1
	}
	return e, nil
}

// CheckChallengeMessage looks for a recent post by handle containing code.
func (c *Client) CheckChallengeMessage(ctx context.Context, handle, code string, since time.Time) (verification.ChallengeMessage, error) {
	var page tweetPage
	q := url.Values{
		"query":        {fmt.Sprintf("from:%s %q", handle, code)},
		"start_time":   {since.UTC().Format(time.RFC3339)},
		"max_results":  {"10"},
		"tweet.fields": {"author_id,created_at"},
	}
	if err := c.get(ctx, "/2/tweets/search/recent", q, &page); err != nil {
		return verification.ChallengeMessage{}, err
	}
	if len(page.Data) == 0 {
		return verification.ChallengeMessage{}, nil
	}
	t := page.Data[0]
	return verification.ChallengeMessage{Found: true, SenderID: t.AuthorID, Timestamp: t.CreatedAt}, nil
}

func (c *Client) usersContain(ctx context.Context, path, handle string) (bool, error) {
	token := ""
	for i := 0; i < maxPages; i++ {
		q := url.Values{"max_results": {"100"}}
		if token != "" {
			q.Set("pagination_token", token)
		}
		var page userPage
		if err := c.get(ctx, path, q, &page); err != nil {
			return false, err
		}
		for _, u := range page.Data {
			if strings.EqualFold(u.Username, handle) {
				return true, nil
			}
		}
		if page.Meta.NextToken == "" {
			return false, nil
		}
		token = page.Meta.NextToken
	}
	log.Debug().Str("path", path).Str("handle", handle).Msg("engagement scan stopped at page limit")
	return false, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

var (
	_ participation.EngagementChecker = (*Client)(nil)
	_ verification.ChallengeChecker   = (*Client)(nil)
)
