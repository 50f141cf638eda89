package sponsorship

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownTier is returned when a tier identifier is not in the catalog.
	ErrUnknownTier = errors.New("unknown slot tier")

	// ErrNotConfigured is returned when payment provider credentials are
	// missing. Not retryable by the caller.
	ErrNotConfigured = errors.New("payment provider is not configured")

	// ErrSlotNotFound is returned when no sponsor slot matches the lookup key.
	ErrSlotNotFound = errors.New("sponsor slot not found")
)

// ValidationError carries the sponsor-supplied fields that failed checkout
// validation. User-correctable, mapped to a 400 at the HTTP boundary.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing or invalid fields: " + strings.Join(e.Fields, ", ")
}

// ProviderError is a failed call to the payment provider's API.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider request failed: status=%d body=%s", e.StatusCode, e.Body)
}

// CheckoutRequest is the sponsor-supplied input for checkout initiation.
// SlotSize must resolve through the tier catalog; dimensions and price are
// snapshotted server-side and never taken from the client.
type CheckoutRequest struct {
	CompanyName  string `json:"companyName" validate:"required,min=2,max=150"`
	WebsiteURL   string `json:"websiteUrl" validate:"required,url,max=255"`
	ContactEmail string `json:"contactEmail" validate:"required,email,max=200"`
	LogoURL      string `json:"logoUrl" validate:"required,url,max=255"`
	SlotSize     string `json:"slotSize" validate:"required"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// Provider event type strings as delivered on the wire.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventSubscriptionEnded = "customer.subscription.deleted"
	EventInvoicePaid       = "invoice.payment_succeeded"
)

// WebhookEvent is the tagged union of provider notifications the reconciler
// understands. Each variant is validated at the parse boundary before any
// field access.
type WebhookEvent interface {
	EventID() string
	EventType() string
}

// CheckoutCompletedEvent signals that a hosted checkout finished and the
// first payment succeeded. Keyed to the local slot by session id.
type CheckoutCompletedEvent struct {
	ID         string
	SessionID  string
	CustomerID string
}

func (e *CheckoutCompletedEvent) EventID() string   { return e.ID }
func (e *CheckoutCompletedEvent) EventType() string { return EventCheckoutCompleted }

// SubscriptionEndedEvent signals that the recurring subscription was
// cancelled or lapsed on the provider side.
type SubscriptionEndedEvent struct {
	ID         string
	CustomerID string
}

func (e *SubscriptionEndedEvent) EventID() string   { return e.ID }
func (e *SubscriptionEndedEvent) EventType() string { return EventSubscriptionEnded }

// InvoicePaidEvent signals a successful recurring charge; the slot's
// paid-through date advances by one month.
type InvoicePaidEvent struct {
	ID         string
	CustomerID string
}

func (e *InvoicePaidEvent) EventID() string   { return e.ID }
func (e *InvoicePaidEvent) EventType() string { return EventInvoicePaid }

// UnknownEvent is any provider event type the reconciler does not handle.
// Acknowledged and ignored for forward compatibility.
type UnknownEvent struct {
	ID   string
	Type string
}

func (e *UnknownEvent) EventID() string   { return e.ID }
func (e *UnknownEvent) EventType() string { return e.Type }
