package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/nsmarket/sponsorhub/app/models"
	"github.com/nsmarket/sponsorhub/internal/pkg/env"
	"github.com/nsmarket/sponsorhub/internal/pkg/sponsorship"
)

const (
	checkoutTimeout = 20 * time.Second
	webhookTimeout  = 15 * time.Second
)

// SponsorTracker records best-effort impression/click counters. Failures are
// logged only; they never fail the caller's request.
type SponsorTracker interface {
	AddImpression(publicID string) error
	AddClick(publicID string) error
}

var (
	sponsorService *sponsorship.Service
	sponsorTracker SponsorTracker
)

// InitializeSponsorController wires the sponsor handlers to their
// collaborators. Must be called before routes are served.
func InitializeSponsorController(svc *sponsorship.Service, tracker SponsorTracker) {
	sponsorService = svc
	sponsorTracker = tracker
}

// HandleSponsorCheckout starts a hosted checkout for a new sponsor slot and
// returns the provider's redirect URL.
func HandleSponsorCheckout(c *fiber.Ctx) error {
	var req sponsorship.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkoutTimeout)
	defer cancel()

	checkoutURL, err := sponsorService.InitiateCheckout(ctx, req)
	if err != nil {
		var verr *sponsorship.ValidationError
		var perr *sponsorship.ProviderError
		switch {
		case errors.As(err, &verr):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": verr.Error()})
		case errors.Is(err, sponsorship.ErrUnknownTier):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown slot size"})
		case errors.Is(err, sponsorship.ErrNotConfigured):
			log.Error("checkout rejected: payment provider credentials missing")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server configuration error"})
		case errors.As(err, &perr):
			log.Errorf("checkout session creation failed: %v", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment provider unavailable"})
		default:
			log.Errorf("checkout failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save sponsor record"})
		}
	}

	return c.JSON(fiber.Map{"checkoutUrl": checkoutURL})
}

// HandleSponsorWebhook consumes signed provider notifications and reconciles
// slot state. Deliveries are at-least-once and unordered; the event store
// dedupes them and every mutation is idempotent, so a non-2xx here is always
// safe to retry on the provider side.
func HandleSponsorWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	// Signature verification runs on the exact raw body bytes.
	signatureValid := sponsorship.VerifyStripeWebhookSignature(rawBody, signature, secret, sponsorship.DefaultSignatureTolerance)

	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	// Envelope decode failures are tolerated here; the event is then deduped
	// by payload hash and rejected below during full parsing.
	_ = json.Unmarshal(rawBody, &envelope)

	created, stored, err := sponsorService.RecordWebhookEvent(ctx, sponsorship.WebhookEventInput{
		Provider:        models.PaymentProviderStripe,
		ProviderEventID: envelope.ID,
		EventType:       envelope.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		log.Errorf("webhook persist failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	// A redelivery of an event that previously failed (or never finished)
	// falls through and is processed again.

	if !signatureValid {
		_ = sponsorService.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	event, err := sponsorship.ParseWebhookEvent(rawBody)
	if err != nil {
		_ = sponsorService.MarkWebhookProcessed(ctx, stored.ID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	handleErr := sponsorService.HandleEvent(ctx, event)
	_ = sponsorService.MarkWebhookProcessed(ctx, stored.ID, handleErr)
	if handleErr != nil {
		log.Errorf("webhook event %s failed: %v", event.EventType(), handleErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleListSponsors returns the currently displayable sponsor slots, largest
// first. This path must never break the page embedding it: any failure
// collapses to an empty list with a 200.
func HandleListSponsors(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	slots, err := sponsorService.ListActiveSlots(ctx, sponsorship.MaxDisplaySlots)
	if err != nil {
		log.Errorf("failed to fetch sponsors: %v", err)
		return c.JSON(fiber.Map{"sponsors": []models.SponsorSlot{}})
	}
	if slots == nil {
		slots = []models.SponsorSlot{}
	}
	return c.JSON(fiber.Map{"sponsors": slots})
}

// HandleSponsorImpressions batches impression counts for the displayed slots.
func HandleSponsorImpressions(c *fiber.Ctx) error {
	var req struct {
		SponsorIDs []string `json:"sponsorIds"`
	}
	if err := c.BodyParser(&req); err != nil || len(req.SponsorIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing sponsorIds array"})
	}

	for _, id := range req.SponsorIDs {
		if err := sponsorTracker.AddImpression(id); err != nil {
			log.Warnf("failed to track impression for sponsor %s: %v", id, err)
		}
	}
	return c.JSON(fiber.Map{"success": true})
}

// HandleSponsorClick records a single sponsor click.
func HandleSponsorClick(c *fiber.Ctx) error {
	var req struct {
		SponsorID string `json:"sponsorId"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.SponsorID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing sponsorId"})
	}

	if err := sponsorTracker.AddClick(req.SponsorID); err != nil {
		log.Warnf("failed to track click for sponsor %s: %v", req.SponsorID, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
