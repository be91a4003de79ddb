package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/oracy-scoring-api/internal/config"
	"github.com/noah-isme/oracy-scoring-api/internal/handler"
	"github.com/noah-isme/oracy-scoring-api/internal/middleware"
	"github.com/noah-isme/oracy-scoring-api/internal/observability"
	"github.com/noah-isme/oracy-scoring-api/pkg/ai"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ScoringHandler *handler.ScoringHandler
	Providers      *ai.Providers
	JWTMiddleware  fiber.Handler
	ScoreRateLimit fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Providers))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ScoringHandler != nil {
		handlers := []fiber.Handler{jwtMiddleware, middleware.RequireRole(middleware.RoleStudent, middleware.RoleTeacher, middleware.RoleAdmin)}
		if deps.ScoreRateLimit != nil {
			handlers = append(handlers, deps.ScoreRateLimit)
		}
		submissions := app.Group("/api/v2/oracy/submissions", handlers...)
		deps.ScoringHandler.Register(submissions)
	}
}
