package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/nsmarket/sponsorhub/internal/pkg/sponsorship"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers all routes. The sponsorship service is injected so
// handlers share one set of collaborators with the background workers.
func InstallRouter(app *fiber.App, svc *sponsorship.Service) {
	setup(app, NewApiRouter(svc))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
