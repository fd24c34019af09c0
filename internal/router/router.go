package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gradeflow/assess-api/internal/config"
	"github.com/gradeflow/assess-api/internal/handler"
	"github.com/gradeflow/assess-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler *handler.GradingHandler
	RubricHandler  *handler.RubricHandler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	grading := app.Group("/api/v1/grading")
	if deps.GradingHandler != nil {
		deps.GradingHandler.Register(grading)
	}
	if deps.RubricHandler != nil {
		deps.RubricHandler.Register(grading)
	}
}
