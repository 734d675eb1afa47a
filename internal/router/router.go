package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-community-api/internal/config"
	"github.com/noah-isme/gema-community-api/internal/handler"
	"github.com/noah-isme/gema-community-api/internal/middleware"
	"github.com/noah-isme/gema-community-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ConversationHandler *handler.ConversationHandler
	NotificationHandler *handler.NotificationHandler
	RelationHandler     *handler.RelationHandler
	SyncHandler         *handler.SyncHandler
	MediaHandler        *handler.MediaHandler
	AssistantHandler    *handler.AssistantHandler
	Sessions            handler.SessionCounter
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Sessions))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	community := app.Group("/api/v2", jwtMiddleware)

	if deps.ConversationHandler != nil {
		deps.ConversationHandler.Register(community)
	}

	if deps.NotificationHandler != nil {
		notifications := community.Group("/notifications")
		notifications.Post("/", middleware.RequireRole("admin", "moderator"), deps.NotificationHandler.Create)
		deps.NotificationHandler.Register(notifications)
	}

	if deps.RelationHandler != nil {
		relations := community.Group("/relations", middleware.RateLimit("relations", cfg.RateLimit.RelationsPerSecond, time.Second))
		deps.RelationHandler.Register(relations)
	}

	if deps.SyncHandler != nil {
		sync := community.Group("/sync")
		deps.SyncHandler.Register(sync)
	}

	if deps.MediaHandler != nil {
		media := community.Group("/media", middleware.RateLimit("media", cfg.RateLimit.UploadsPerMinute, time.Minute))
		deps.MediaHandler.Register(media)
	}

	if deps.AssistantHandler != nil {
		assistant := community.Group("/assistant", middleware.RateLimit("assistant", cfg.RateLimit.AssistantPerMinute, time.Minute))
		deps.AssistantHandler.Register(assistant)
	}
}
