package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/nsmarket/sponsorhub/internal/pkg/cache"
	"github.com/nsmarket/sponsorhub/internal/pkg/database"
	"github.com/nsmarket/sponsorhub/internal/pkg/env"
	"github.com/nsmarket/sponsorhub/internal/pkg/router"
	"github.com/nsmarket/sponsorhub/internal/pkg/sponsorship"
	"github.com/nsmarket/sponsorhub/internal/pkg/workers"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024, // 10 MiB, logos only
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "changeme"),
		},
	}), monitor.New())

	svc := sponsorship.NewServiceFromDB(
		database.GetDB(),
		sponsorship.NewStripeClientFromEnv(),
		env.GetEnv("PUBLIC_DOMAIN", ""),
	)

	// background tasks: counter flush + expiry sweep
	workers.NewManager(svc).Start()

	// ROUTER
	router.InstallRouter(app, svc)

	return app
}
