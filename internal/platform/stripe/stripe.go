package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("stripe: invalid webhook signature")

// CheckoutRequest describes a hosted checkout page for one price.
// Subscription mode copies Metadata onto the created subscription as well.
type CheckoutRequest struct {
	PriceID      string
	Subscription bool
	SuccessURL   string
	CancelURL    string
	Reference    string
	Metadata     map[string]string
}

// Checkout is a created checkout session.
type Checkout struct {
	ID  string
	URL string
}

// Event is a verified webhook event reduced to what payment handling needs.
type Event struct {
	ID       string
	Type     string
	ObjectID string
	Metadata map[string]string
}

// Client wraps the Stripe API client and webhook secret.
type Client struct {
	api           *client.API
	webhookSecret string
}

func New(secretKey, webhookSecret string) *Client {
	return &Client{api: client.New(secretKey, nil), webhookSecret: webhookSecret}
}

// CreateCheckout creates a hosted checkout session.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	mode := stripego.CheckoutSessionModePayment
	if req.Subscription {
		mode = stripego.CheckoutSessionModeSubscription
	}
	params := &stripego.CheckoutSessionParams{
		Mode:       stripego.String(string(mode)),
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{Price: stripego.String(req.PriceID), Quantity: stripego.Int64(1)},
		},
	}
	if req.Reference != "" {
		params.ClientReferenceID = stripego.String(req.Reference)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Subscription {
		params.SubscriptionData = &stripego.CheckoutSessionSubscriptionDataParams{Metadata: req.Metadata}
	}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Checkout{ID: s.ID, URL: s.URL}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (c *Client) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil && len(ev.Data.Raw) > 0 {
		var obj struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
			return nil, fmt.Errorf("decode event object: %w", err)
		}
		out.ObjectID = obj.ID
		out.Metadata = obj.Metadata
	}
	return out, nil
}
