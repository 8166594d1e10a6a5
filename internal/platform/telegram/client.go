package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// RateLimitError is returned when Telegram asks the bot to slow down.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram: too many requests, retry after %s", e.RetryAfter)
}

// Client wraps the bot API for outbound messages and the update loop.
type Client struct {
	bot *tgbotapi.BotAPI
}

// New authorizes the bot token against the Telegram API.
func New(token string, debug bool) (*Client, error) {
	return NewWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 65 * time.Second}, debug)
}

// NewWithEndpoint is New against a custom API endpoint such as a local Bot API server.
func NewWithEndpoint(token, endpoint string, httpClient *http.Client, debug bool) (*Client, error) {
	if token == "" {
		return nil, errors.New("telegram: empty bot token")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize bot: %w", err)
	}
	bot.Debug = debug
	return &Client{bot: bot}, nil
}

// Bot exposes the underlying API for the update loop.
func (c *Client) Bot() *tgbotapi.BotAPI { return c.bot }

// Username is the bot's @username.
func (c *Client) Username() string { return c.bot.Self.UserName }

// SendMessage sends a plain text message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.Send(ctx, tgbotapi.NewMessage(chatID, text))
}

// Send delivers any chattable, mapping flood-control replies to RateLimitError.
func (c *Client) Send(ctx context.Context, msg tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Send(msg)
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
	}
	return err
}

// AnswerCallback acknowledges an inline button press, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

// Updates starts long polling. Stop it with StopReceivingUpdates on the bot.
func (c *Client) Updates(timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	u.AllowedUpdates = []string{"message", "callback_query"}
	return c.bot.GetUpdatesChan(u)
}
