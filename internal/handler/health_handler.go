package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-community-api/internal/config"
	"github.com/noah-isme/gema-community-api/internal/utils"
)

// SessionCounter reports how many sync sessions are live.
type SessionCounter interface {
	Active() int
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Service        string    `json:"service"`
	Environment    string    `json:"environment"`
	SyncSessions   int       `json:"sync_sessions"`
	FeedTransports []string  `json:"feed_transports"`
}

// HealthCheck returns a handler that reports application health information.
func HealthCheck(cfg config.Config, sessions SessionCounter) fiber.Handler {
	transports := cfg.Feed.Transports()
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:         "ok",
			Timestamp:      time.Now().UTC(),
			Service:        cfg.AppName,
			Environment:    cfg.AppEnv,
			FeedTransports: transports,
		}
		if sessions != nil {
			payload.SyncSessions = sessions.Active()
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
