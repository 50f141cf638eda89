package sponsorship

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nsmarket/sponsorhub/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

// CheckoutProvider creates hosted recurring-payment checkout sessions. The
// reconciliation service talks to this interface so tests can substitute a
// fake provider.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
}

// StripeClient calls the Stripe REST API directly.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

// CheckoutSession is the provider's handle for a hosted checkout flow. The
// session id is the correlation key for later webhook reconciliation.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutSessionParams describes a monthly recurring checkout. Metadata is
// carried on the session because the session object, not the local slot
// record, is the provider's source of truth during the redirect.
type CheckoutSessionParams struct {
	ProductName        string
	ProductDescription string
	ImageURL           string
	UnitAmountCents    int64
	CustomerEmail      string
	SuccessURL         string
	CancelURL          string
	Metadata           map[string]string
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCheckoutSession opens a subscription-mode checkout session and
// returns its id and hosted redirect URL.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, ErrNotConfigured
	}
	if params.UnitAmountCents <= 0 {
		return nil, errors.New("unit amount must be positive")
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]", params.ProductName)
	form.Set("line_items[0][price_data][product_data][description]", params.ProductDescription)
	if params.ImageURL != "" {
		form.Set("line_items[0][price_data][product_data][images][0]", params.ImageURL)
	}
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.UnitAmountCents, 10))
	form.Set("line_items[0][price_data][recurring][interval]", "month")
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("customer_email", params.CustomerEmail)
	for k, v := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + "/v1/checkout/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.URL) == "" {
		return nil, errors.New("checkout session response missing id or url")
	}
	return &session, nil
}

// ParseWebhookEvent decodes a provider notification into its typed variant.
// Field requirements are enforced per variant here, at the boundary, so
// handlers never touch raw payloads. Unrecognized event types come back as
// *UnknownEvent.
func ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string `json:"id"`
				Customer string `json:"customer"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	eventType := strings.TrimSpace(raw.Type)
	if eventType == "" {
		return nil, errors.New("webhook payload missing event type")
	}
	object := raw.Data.Object

	switch eventType {
	case EventCheckoutCompleted:
		if strings.TrimSpace(object.ID) == "" {
			return nil, errors.New("checkout completed payload missing session id")
		}
		return &CheckoutCompletedEvent{
			ID:         raw.ID,
			SessionID:  strings.TrimSpace(object.ID),
			CustomerID: strings.TrimSpace(object.Customer),
		}, nil
	case EventSubscriptionEnded:
		if strings.TrimSpace(object.Customer) == "" {
			return nil, errors.New("subscription ended payload missing customer id")
		}
		return &SubscriptionEndedEvent{
			ID:         raw.ID,
			CustomerID: strings.TrimSpace(object.Customer),
		}, nil
	case EventInvoicePaid:
		if strings.TrimSpace(object.Customer) == "" {
			return nil, errors.New("invoice paid payload missing customer id")
		}
		return &InvoicePaidEvent{
			ID:         raw.ID,
			CustomerID: strings.TrimSpace(object.Customer),
		}, nil
	default:
		return &UnknownEvent{ID: raw.ID, Type: eventType}, nil
	}
}
