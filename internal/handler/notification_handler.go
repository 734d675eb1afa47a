package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/observability"
	"github.com/noah-isme/gema-community-api/internal/realtime"
	"github.com/noah-isme/gema-community-api/internal/service"
	"github.com/noah-isme/gema-community-api/internal/utils"
)

// NotificationHandler manages SSE notification streams and read state.
type NotificationHandler struct {
	service  service.NotificationService
	sessions SessionProvider
	logger   zerolog.Logger
	timeout  time.Duration
}

// NewNotificationHandler constructs a handler instance. sessions may be nil, in which case the
// stream endpoint is unavailable.
func NewNotificationHandler(service service.NotificationService, sessions SessionProvider, logger zerolog.Logger, timeout time.Duration) *NotificationHandler {
	return &NotificationHandler{
		service:  service,
		sessions: sessions,
		logger:   logger.With().Str("component", "notification_handler").Logger(),
		timeout:  timeout,
	}
}

// Register binds the notification routes. create is mounted separately behind a role check.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Get("/stream", h.stream)
	router.Post("/read-all", h.markAllRead)
	router.Patch("/:id/read", h.markRead)
}

// Create publishes a notification on behalf of a moderator.
func (h *NotificationHandler) Create(c *fiber.Ctx) error {
	var payload dto.NotificationCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	notification, err := h.service.Publish(requestContext(c), payload)
	if err != nil {
		if isValidationError(err) {
			return sendValidationError(c, err)
		}
		requestLogger(h.logger, c).Warn().Err(err).Msg("failed to publish notification")
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "notification created", notification)
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	notifications, err := h.service.List(requestContext(c), userID, limit, offset)
	if err != nil {
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.OK(c, notifications.Items, "notifications", fiber.Map{
		"unread_count": notifications.UnreadCount,
		"limit":        limit,
		"offset":       offset,
	})
}

// stream pushes the notification view of the caller's sync session as server-sent events.
func (h *NotificationHandler) stream(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}
	if h.sessions == nil {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "notification stream unavailable")
	}

	ctx, cancel := context.WithCancel(requestContext(c))
	session, release, err := h.sessions.Acquire(ctx, userID)
	if err != nil {
		cancel()
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to start sync session")
	}
	view, err := session.OpenNotifications(ctx)
	if err != nil {
		release()
		cancel()
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to open notifications")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	keepAliveInterval := h.timeout
	if keepAliveInterval <= 0 {
		keepAliveInterval = 30 * time.Second
	}

	observability.SSEClientsActive().Inc()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			view.Close()
			release()
			cancel()
			observability.SSEClientsActive().Dec()
		}()

		ticker := time.NewTicker(keepAliveInterval / 2)
		defer ticker.Stop()

		for {
			select {
			case snapshot, ok := <-view.Updates():
				if !ok {
					return
				}
				if err := writeEvent(w, "notifications", dto.NewSyncSnapshot(snapshot)); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write notification event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write notification keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "notification id required")
	}

	ctx := requestContext(c)
	if session, ok := h.peek(userID); ok {
		if _, err := session.MarkNotificationRead(ctx, id); err != nil && !errors.Is(err, realtime.ErrSessionEnded) {
			if isNotFound(err) {
				return utils.SendError(c, fiber.StatusNotFound, "notification not found")
			}
			return utils.SendError(c, fiber.StatusBadGateway, "failed to mark notification read")
		}
	}

	notification, _, err := h.service.MarkRead(ctx, id, userID)
	if err != nil {
		if isNotFound(err) {
			return utils.SendError(c, fiber.StatusNotFound, "notification not found")
		}
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccess(c, "notification updated", notification)
}

func (h *NotificationHandler) markAllRead(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	ctx := requestContext(c)
	if session, ok := h.peek(userID); ok {
		updated, err := session.MarkAllNotificationsRead(ctx)
		if err == nil {
			return utils.SendSuccess(c, "notifications marked read", dto.ReadResult{Updated: updated})
		}
		if !errors.Is(err, realtime.ErrSessionEnded) {
			return utils.SendError(c, fiber.StatusBadGateway, "failed to mark notifications read")
		}
	}

	flipped, err := h.service.MarkAllRead(ctx, userID, realtime.Version{})
	if err != nil {
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}
	return utils.SendSuccess(c, "notifications marked read", dto.ReadResult{Updated: len(flipped)})
}

func (h *NotificationHandler) peek(userID string) (*realtime.Session, bool) {
	if h.sessions == nil {
		return nil, false
	}
	return h.sessions.Peek(userID)
}

func writeEvent(w *bufio.Writer, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
