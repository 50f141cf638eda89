package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsmarket/sponsorhub/app/models"
	"github.com/nsmarket/sponsorhub/internal/pkg/sponsorship"
)

// memRepository is an in-memory sponsorship.Repository for handler tests.
type memRepository struct {
	slots   []*models.SponsorSlot
	events  []*models.SponsorWebhookEvent
	nextID  uint
	listErr error
}

func newMemRepository() *memRepository { return &memRepository{nextID: 1} }

func (m *memRepository) CreateSlot(slot *models.SponsorSlot) error {
	slot.ID = m.nextID
	m.nextID++
	m.slots = append(m.slots, slot)
	return nil
}

func (m *memRepository) GetSlotBySessionID(sessionID string) (*models.SponsorSlot, error) {
	for _, s := range m.slots {
		if s.PaymentSessionID == sessionID {
			return s, nil
		}
	}
	return nil, sponsorship.ErrSlotNotFound
}

func (m *memRepository) HasSlotWithCustomerID(customerID string) (bool, error) {
	for _, s := range m.slots {
		if s.CustomerID != nil && *s.CustomerID == customerID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepository) ActivateSlotBySessionID(sessionID, customerID string) (int64, error) {
	var rows int64
	for _, s := range m.slots {
		if s.PaymentSessionID == sessionID && (s.Status == models.SlotStatusPending || s.Status == models.SlotStatusActive) {
			s.Status = models.SlotStatusActive
			cid := customerID
			s.CustomerID = &cid
			rows++
		}
	}
	return rows, nil
}

func (m *memRepository) CancelSlotsByCustomerID(customerID string) (int64, error) {
	var rows int64
	for _, s := range m.slots {
		if s.CustomerID != nil && *s.CustomerID == customerID && s.Status != models.SlotStatusCancelled {
			s.Status = models.SlotStatusCancelled
			rows++
		}
	}
	return rows, nil
}

func (m *memRepository) ExtendSlotExpiry(customerID string, newExpiry time.Time) (int64, error) {
	var rows int64
	for _, s := range m.slots {
		if s.CustomerID != nil && *s.CustomerID == customerID && s.Status == models.SlotStatusActive && s.ExpiresAt.Before(newExpiry) {
			s.ExpiresAt = newExpiry
			rows++
		}
	}
	return rows, nil
}

func (m *memRepository) ListDisplayableSlots(now time.Time, limit int) ([]models.SponsorSlot, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.SponsorSlot
	for _, s := range m.slots {
		if s.Status == models.SlotStatusActive && s.ExpiresAt.After(now) {
			out = append(out, *s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepository) ExpireLapsedSlots(now time.Time) (int64, error) {
	var rows int64
	for _, s := range m.slots {
		if s.Status == models.SlotStatusActive && !s.ExpiresAt.After(now) {
			s.Status = models.SlotStatusExpired
			rows++
		}
	}
	return rows, nil
}

func (m *memRepository) CreateWebhookEventIfNotExists(event *models.SponsorWebhookEvent) (bool, *models.SponsorWebhookEvent, error) {
	for _, e := range m.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			return false, e, nil
		}
	}
	event.ID = m.nextID
	m.nextID++
	m.events = append(m.events, event)
	return true, event, nil
}

func (m *memRepository) MarkWebhookProcessed(id uint, processingError string) error {
	for _, e := range m.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return fmt.Errorf("webhook event %d not found", id)
}

type stubProvider struct {
	session sponsorship.CheckoutSession
	err     error
}

func (p *stubProvider) CreateCheckoutSession(_ context.Context, _ sponsorship.CheckoutSessionParams) (*sponsorship.CheckoutSession, error) {
	if p.err != nil {
		return nil, p.err
	}
	s := p.session
	return &s, nil
}

type stubTracker struct {
	impressions []string
	clicks      []string
	err         error
}

func (t *stubTracker) AddImpression(publicID string) error {
	t.impressions = append(t.impressions, publicID)
	return t.err
}

func (t *stubTracker) AddClick(publicID string) error {
	t.clicks = append(t.clicks, publicID)
	return t.err
}

func newSponsorTestApp(repo *memRepository, provider sponsorship.CheckoutProvider, tracker SponsorTracker) *fiber.App {
	svc := sponsorship.NewService(repo, provider, "https://nsmarket.test")
	InitializeSponsorController(svc, tracker)

	app := fiber.New()
	app.Get("/api/v1/sponsors", HandleListSponsors)
	app.Post("/api/v1/sponsors/checkout", HandleSponsorCheckout)
	app.Post("/api/v1/sponsors/webhook", HandleSponsorWebhook)
	app.Post("/api/v1/sponsors/impression", HandleSponsorImpressions)
	app.Post("/api/v1/sponsors/click", HandleSponsorClick)
	return app
}

func jsonRequest(method, target string, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func stripeSignature(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestHandleSponsorCheckout(t *testing.T) {
	repo := newMemRepository()
	provider := &stubProvider{session: sponsorship.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}}
	app := newSponsorTestApp(repo, provider, &stubTracker{})

	body := `{
		"companyName": "Acme Robotics",
		"websiteUrl": "https://acme.test",
		"contactEmail": "billing@acme.test",
		"logoUrl": "https://cdn.acme.test/logo.png",
		"slotSize": "medium"
	}`
	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/checkout", body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://checkout.example/cs_1", decodeBody(t, resp)["checkoutUrl"])
	require.Len(t, repo.slots, 1)
	assert.Equal(t, models.SlotStatusPending, repo.slots[0].Status)
}

func TestHandleSponsorCheckout_ValidationRejected(t *testing.T) {
	repo := newMemRepository()
	app := newSponsorTestApp(repo, &stubProvider{}, &stubTracker{})

	body := `{"companyName": "A", "websiteUrl": "nope", "contactEmail": "x", "logoUrl": "", "slotSize": "medium"}`
	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/checkout", body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, repo.slots)
}

func TestHandleSponsorCheckout_UnknownSlotSize(t *testing.T) {
	app := newSponsorTestApp(newMemRepository(), &stubProvider{}, &stubTracker{})

	body := `{
		"companyName": "Acme Robotics",
		"websiteUrl": "https://acme.test",
		"contactEmail": "billing@acme.test",
		"logoUrl": "https://cdn.acme.test/logo.png",
		"slotSize": "colossal"
	}`
	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/checkout", body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleSponsorCheckout_ProviderDown(t *testing.T) {
	provider := &stubProvider{err: &sponsorship.ProviderError{StatusCode: 500, Body: "oops"}}
	app := newSponsorTestApp(newMemRepository(), provider, &stubTracker{})

	body := `{
		"companyName": "Acme Robotics",
		"websiteUrl": "https://acme.test",
		"contactEmail": "billing@acme.test",
		"logoUrl": "https://cdn.acme.test/logo.png",
		"slotSize": "small"
	}`
	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/checkout", body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandleSponsorCheckout_NotConfigured(t *testing.T) {
	provider := &stubProvider{err: sponsorship.ErrNotConfigured}
	app := newSponsorTestApp(newMemRepository(), provider, &stubTracker{})

	body := `{
		"companyName": "Acme Robotics",
		"websiteUrl": "https://acme.test",
		"contactEmail": "billing@acme.test",
		"logoUrl": "https://cdn.acme.test/logo.png",
		"slotSize": "small"
	}`
	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/checkout", body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server configuration error", decodeBody(t, resp)["error"])
}

func TestHandleSponsorWebhook_SignedActivationFlow(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	repo := newMemRepository()
	provider := &stubProvider{session: sponsorship.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}}
	app := newSponsorTestApp(repo, provider, &stubTracker{})

	checkout := `{
		"companyName": "Acme Robotics",
		"websiteUrl": "https://acme.test",
		"contactEmail": "billing@acme.test",
		"logoUrl": "https://cdn.acme.test/logo.png",
		"slotSize": "large"
	}`
	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/checkout", checkout))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","customer":"cus_1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sponsors/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", stripeSignature(payload, "whsec_test"))

	resp, err = app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	slot, err := repo.GetSlotBySessionID("cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusActive, slot.Status)

	require.Len(t, repo.events, 1)
	assert.True(t, repo.events[0].SignatureValid)
	require.NotNil(t, repo.events[0].ProcessedAt)
	assert.Empty(t, repo.events[0].ProcessingError)
}

func TestHandleSponsorWebhook_DuplicateDelivery(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	repo := newMemRepository()
	app := newSponsorTestApp(repo, &stubProvider{}, &stubTracker{})

	payload := []byte(`{"id":"evt_dup","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1","customer":"cus_1"}}}`)
	send := func() *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sponsors/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", stripeSignature(payload, "whsec_test"))
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	first := send()
	defer first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)
	require.Len(t, repo.events, 1)

	second := send()
	defer second.Body.Close()
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, true, decodeBody(t, second)["duplicate"])
	assert.Len(t, repo.events, 1, "redelivery must not create a second event row")
}

func TestHandleSponsorWebhook_InvalidSignature(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	repo := newMemRepository()
	app := newSponsorTestApp(repo, &stubProvider{}, &stubTracker{})

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sponsors/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(payload, "whsec_wrong"))

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	// The delivery is still recorded for audit, flagged as unsigned.
	require.Len(t, repo.events, 1)
	assert.False(t, repo.events[0].SignatureValid)
}

func TestHandleSponsorWebhook_MalformedPayload(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	repo := newMemRepository()
	app := newSponsorTestApp(repo, &stubProvider{}, &stubTracker{})

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sponsors/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(payload, "whsec_test"))

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Len(t, repo.events, 1)
	assert.NotEmpty(t, repo.events[0].ProcessingError)
}

func TestHandleListSponsors(t *testing.T) {
	repo := newMemRepository()
	cid := "cus_1"
	repo.slots = append(repo.slots, &models.SponsorSlot{
		PublicID:         "pub-1",
		PaymentSessionID: "cs_1",
		CompanyName:      "Acme Robotics",
		Status:           models.SlotStatusActive,
		CustomerID:       &cid,
		PixelsWidth:      240,
		PixelsHeight:     120,
		ExpiresAt:        time.Now().Add(720 * time.Hour),
	})
	app := newSponsorTestApp(repo, &stubProvider{}, &stubTracker{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/sponsors", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	sponsors, ok := body["sponsors"].([]interface{})
	require.True(t, ok)
	require.Len(t, sponsors, 1)

	first, ok := sponsors[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Acme Robotics", first["company_name"])
	_, leaked := first["contact_email"]
	assert.False(t, leaked, "contact email must never reach the public feed")
}

func TestHandleListSponsors_ErrorCollapsesToEmptyList(t *testing.T) {
	repo := newMemRepository()
	repo.listErr = fmt.Errorf("db gone")
	app := newSponsorTestApp(repo, &stubProvider{}, &stubTracker{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/sponsors", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	sponsors, ok := decodeBody(t, resp)["sponsors"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, sponsors)
}

func TestHandleSponsorImpressions(t *testing.T) {
	tracker := &stubTracker{}
	app := newSponsorTestApp(newMemRepository(), &stubProvider{}, tracker)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/impression", `{"sponsorIds": ["pub-1", "pub-2"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"pub-1", "pub-2"}, tracker.impressions)
}

func TestHandleSponsorImpressions_MissingIDs(t *testing.T) {
	app := newSponsorTestApp(newMemRepository(), &stubProvider{}, &stubTracker{})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/impression", `{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleSponsorImpressions_TrackerFailureIsSwallowed(t *testing.T) {
	tracker := &stubTracker{err: fmt.Errorf("redis down")}
	app := newSponsorTestApp(newMemRepository(), &stubProvider{}, tracker)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/impression", `{"sponsorIds": ["pub-1"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleSponsorClick(t *testing.T) {
	tracker := &stubTracker{}
	app := newSponsorTestApp(newMemRepository(), &stubProvider{}, tracker)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/click", `{"sponsorId": "pub-1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"pub-1"}, tracker.clicks)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/api/v1/sponsors/click", `{"sponsorId": ""}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
