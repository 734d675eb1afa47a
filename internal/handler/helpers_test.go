package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-community-api/internal/feed"
	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/repository"
	"github.com/noah-isme/gema-community-api/internal/service"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type communityFixture struct {
	db            *gorm.DB
	broker        *feed.Broker
	validator     *validator.Validate
	logger        zerolog.Logger
	profiles      repository.ProfileRepository
	messaging     service.MessagingService
	notifications service.NotificationService
	engagement    service.EngagementService
	sessions      *service.SessionManager
}

func newCommunityFixture(t *testing.T) communityFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Message{}, &models.Notification{}, &models.Relation{}, &models.Profile{}, &models.MediaAsset{}))

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())
	broker := feed.NewBroker(32, logger)
	t.Cleanup(broker.Close)

	profiles := repository.NewProfileRepository(db)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), broker, validate, logger)
	messaging := service.NewMessagingService(repository.NewMessageRepository(db), profiles, notifications, broker, validate, logger)
	engagement := service.NewEngagementService(repository.NewRelationRepository(db), profiles, notifications, logger)

	sessions := service.NewSessionManager(service.SessionManagerConfig{
		Feed:                     broker,
		Messaging:                messaging,
		Notifications:            notifications,
		Engagement:               engagement,
		Profiles:                 profiles,
		ConversationPollInterval: time.Hour,
		ThreadPollInterval:       time.Hour,
		NotificationPollInterval: time.Hour,
		RetryInterval:            10 * time.Millisecond,
		Logger:                   logger,
	})
	t.Cleanup(sessions.Shutdown)

	return communityFixture{
		db:            db,
		broker:        broker,
		validator:     validate,
		logger:        logger,
		profiles:      profiles,
		messaging:     messaging,
		notifications: notifications,
		engagement:    engagement,
		sessions:      sessions,
	}
}

// newUserApp mounts register under /api with the given user id already authenticated.
func newUserApp(userID string, register func(router fiber.Router)) *fiber.App {
	app := fiber.New()
	group := app.Group("/api", func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		return c.Next()
	})
	register(group)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload interface{}) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}
