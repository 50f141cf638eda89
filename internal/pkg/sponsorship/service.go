package sponsorship

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/nsmarket/sponsorhub/app/models"
	"gorm.io/gorm"
)

// MaxDisplaySlots caps how many sponsors the public feed shows at once.
const MaxDisplaySlots = 5

// slotTerm is how long one paid period lasts.
func nextExpiry(from time.Time) time.Time {
	return from.AddDate(0, 1, 0)
}

// Service reconciles local sponsor slot state with the payment provider. It
// creates pending slots at checkout time and mutates them from webhook
// events; nothing else writes slot status.
type Service struct {
	repo     Repository
	provider CheckoutProvider

	// publicBaseURL is where the provider redirects sponsors after checkout.
	publicBaseURL string
}

// NewService creates a sponsorship service from injected collaborators.
func NewService(repo Repository, provider CheckoutProvider, publicBaseURL string) *Service {
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if base == "" {
		base = "http://localhost:3000"
	}
	return &Service{repo: repo, provider: provider, publicBaseURL: base}
}

// NewServiceFromDB creates a sponsorship service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider CheckoutProvider, publicBaseURL string) *Service {
	return NewService(NewRepository(db), provider, publicBaseURL)
}

// InitiateCheckout validates the request, opens a hosted checkout session
// with the provider and persists the pending slot. The remote session is
// created before the local row: a failed insert leaves an orphaned remote
// session (logged for manual reconciliation), never a local row pointing at
// a session that does not exist.
func (s *Service) InitiateCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	if err := validateCheckoutRequest(req); err != nil {
		return "", err
	}

	tier, err := TierByID(strings.TrimSpace(req.SlotSize))
	if err != nil {
		return "", err
	}

	session, err := s.provider.CreateCheckoutSession(ctx, CheckoutSessionParams{
		ProductName:        fmt.Sprintf("NSMarket Sponsor - %s Slot", tier.Label),
		ProductDescription: fmt.Sprintf("%d×%dpx sponsor slot on NSMarket", tier.PixelsWidth, tier.PixelsHeight),
		ImageURL:           req.LogoURL,
		UnitAmountCents:    tier.MonthlyPriceCents,
		CustomerEmail:      req.ContactEmail,
		SuccessURL:         s.publicBaseURL + "/sponsor/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:          s.publicBaseURL + "/sponsor?cancelled=true",
		Metadata: map[string]string{
			"companyName":  req.CompanyName,
			"websiteUrl":   req.WebsiteURL,
			"logoUrl":      req.LogoURL,
			"slotSize":     tier.ID,
			"pixelsWidth":  fmt.Sprintf("%d", tier.PixelsWidth),
			"pixelsHeight": fmt.Sprintf("%d", tier.PixelsHeight),
		},
	})
	if err != nil {
		return "", err
	}

	now := time.Now()
	slot := &models.SponsorSlot{
		PublicID:         uuid.NewString(),
		CompanyName:      strings.TrimSpace(req.CompanyName),
		WebsiteURL:       strings.TrimSpace(req.WebsiteURL),
		ContactEmail:     strings.TrimSpace(req.ContactEmail),
		LogoURL:          strings.TrimSpace(req.LogoURL),
		SlotSize:         tier.ID,
		PixelsWidth:      tier.PixelsWidth,
		PixelsHeight:     tier.PixelsHeight,
		AmountPaidCents:  tier.MonthlyPriceCents,
		PaymentSessionID: session.ID,
		Status:           models.SlotStatusPending,
		StartsAt:         now,
		ExpiresAt:        nextExpiry(now),
	}
	if err := s.repo.CreateSlot(slot); err != nil {
		// The provider now holds a paid session with no local record; the
		// confirmation webhook will arrive with nothing to update.
		log.Errorf("[reconcile-gap] checkout session %s has no local sponsor slot: %v", session.ID, err)
		return "", fmt.Errorf("persist sponsor slot: %w", err)
	}

	return session.URL, nil
}

// HandleEvent applies one provider notification to local slot state. Every
// branch is idempotent: deliveries may repeat or arrive out of order, and a
// re-run after a transient failure must converge on the same state.
func (s *Service) HandleEvent(ctx context.Context, ev WebhookEvent) error {
	_ = ctx
	switch e := ev.(type) {
	case *CheckoutCompletedEvent:
		rows, err := s.repo.ActivateSlotBySessionID(e.SessionID, e.CustomerID)
		if err != nil {
			return fmt.Errorf("activate slot for session %s: %w", e.SessionID, err)
		}
		if rows == 0 {
			if _, lookupErr := s.repo.GetSlotBySessionID(e.SessionID); errors.Is(lookupErr, ErrSlotNotFound) {
				// The sponsor paid, but checkout persistence never landed.
				log.Errorf("[reconcile-gap] paid checkout session %s matches no sponsor slot", e.SessionID)
				return nil
			} else if lookupErr != nil {
				return fmt.Errorf("lookup slot for session %s: %w", e.SessionID, lookupErr)
			}
			// Already active or terminally cancelled; nothing to do.
		}
		return nil

	case *SubscriptionEndedEvent:
		rows, err := s.repo.CancelSlotsByCustomerID(e.CustomerID)
		if err != nil {
			return fmt.Errorf("cancel slots for customer %s: %w", e.CustomerID, err)
		}
		if rows == 0 {
			s.logUnmatchedCustomer(e.EventType(), e.CustomerID)
		}
		return nil

	case *InvoicePaidEvent:
		rows, err := s.repo.ExtendSlotExpiry(e.CustomerID, nextExpiry(time.Now()))
		if err != nil {
			return fmt.Errorf("extend slot expiry for customer %s: %w", e.CustomerID, err)
		}
		if rows == 0 {
			s.logUnmatchedCustomer(e.EventType(), e.CustomerID)
		}
		return nil

	case *UnknownEvent:
		log.Debugf("ignoring unhandled webhook event type %s", e.Type)
		return nil

	default:
		return fmt.Errorf("unsupported webhook event %T", ev)
	}
}

// logUnmatchedCustomer notes events whose customer has no mutable slot. The
// subscription may belong to an unrelated product, so this is informational,
// unlike the orphaned-session case.
func (s *Service) logUnmatchedCustomer(eventType, customerID string) {
	has, err := s.repo.HasSlotWithCustomerID(customerID)
	if err != nil {
		log.Warnf("slot lookup for customer %s failed: %v", customerID, err)
		return
	}
	if !has {
		log.Infof("ignoring %s for customer %s with no sponsor slot", eventType, customerID)
	}
}

// ListActiveSlots returns up to limit displayable slots, largest first. A
// slot paying for more pixels is prioritized since price scales with area.
func (s *Service) ListActiveSlots(ctx context.Context, limit int) ([]models.SponsorSlot, error) {
	_ = ctx
	if limit <= 0 || limit > MaxDisplaySlots {
		limit = MaxDisplaySlots
	}
	return s.repo.ListDisplayableSlots(time.Now(), limit)
}

// ExpireLapsedSlots marks active slots whose paid-through date has passed.
// Run periodically by the worker manager; the display query filters on
// expires_at as well, so a stalled sweep never leaks stale slots.
func (s *Service) ExpireLapsedSlots(ctx context.Context) (int64, error) {
	_ = ctx
	return s.repo.ExpireLapsedSlots(time.Now())
}

// RecordWebhookEvent persists webhook payloads idempotently. Payloads with
// no provider event id are deduplicated by payload hash.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.SponsorWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.SponsorWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

func validateCheckoutRequest(req CheckoutRequest) error {
	v := validator.New()
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return &ValidationError{Fields: fields}
	}
	return err
}
