package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/nsmarket/sponsorhub/app/controllers"
	"github.com/nsmarket/sponsorhub/internal/pkg/metrics/counter"
	"github.com/nsmarket/sponsorhub/internal/pkg/sponsorship"
	"github.com/nsmarket/sponsorhub/internal/pkg/storage"
)

const webhookPath = "/api/v1/sponsors/webhook"

type ApiRouter struct {
	svc *sponsorship.Service
}

func NewApiRouter(svc *sponsorship.Service) *ApiRouter {
	return &ApiRouter{svc: svc}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	controllers.InitializeSponsorController(h.svc, counter.NewTracker())
	controllers.InitializeUploadController(newLogoStore())

	// Provider redeliveries must never be throttled, so the webhook path is
	// exempt from the public rate limit.
	api := app.Group("/api", limiter.New(limiter.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == webhookPath
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Get("/sponsors", controllers.HandleListSponsors)
	v1.Post("/sponsors/checkout", controllers.HandleSponsorCheckout)
	v1.Post("/sponsors/webhook", controllers.HandleSponsorWebhook)
	v1.Post("/sponsors/impression", controllers.HandleSponsorImpressions)
	v1.Post("/sponsors/click", controllers.HandleSponsorClick)
	v1.Post("/sponsors/logo", controllers.HandleLogoUpload)
}

// newLogoStore builds the S3 logo store, or nil when storage is disabled or
// misconfigured (uploads then answer 503 instead of failing at boot).
func newLogoStore() controllers.LogoStorage {
	cfg, err := storage.LoadConfig()
	if err != nil {
		log.Errorf("logo storage configuration invalid: %v", err)
		return nil
	}
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := storage.NewClient(cfg)
	if err != nil {
		log.Errorf("logo storage initialization failed: %v", err)
		return nil
	}
	return client
}
