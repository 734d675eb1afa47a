package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/realtime"
	"github.com/noah-isme/gema-community-api/internal/service"
	"github.com/noah-isme/gema-community-api/internal/utils"
)

// SessionProvider hands out the per-user sync sessions.
type SessionProvider interface {
	Acquire(ctx context.Context, userID string) (*realtime.Session, func(), error)
	Peek(userID string) (*realtime.Session, bool)
	End(userID string)
}

// ConversationHandler serves direct messages and conversation summaries.
type ConversationHandler struct {
	service   service.MessagingService
	sessions  SessionProvider
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewConversationHandler constructs a conversation handler. sessions may be nil.
func NewConversationHandler(service service.MessagingService, sessions SessionProvider, validator *validator.Validate, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		service:   service,
		sessions:  sessions,
		validator: validator,
		logger:    logger.With().Str("component", "conversation_handler").Logger(),
	}
}

// Register binds the conversation and message routes.
func (h *ConversationHandler) Register(router fiber.Router) {
	router.Get("/conversations", h.list)
	router.Get("/conversations/:partnerId/messages", h.thread)
	router.Post("/conversations/:partnerId/read", h.markRead)
	router.Post("/messages", h.send)
}

func (h *ConversationHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	conversations, err := h.service.Conversations(requestContext(c), userID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list conversations")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load conversations")
	}
	return utils.OK(c, conversations, "conversations", fiber.Map{"count": len(conversations)})
}

func (h *ConversationHandler) send(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.MessageSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	message, err := h.service.Send(requestContext(c), userID, payload)
	if err != nil {
		switch {
		case isValidationError(err):
			return sendValidationError(c, err)
		case errors.Is(err, service.ErrInvalidRecipient), errors.Is(err, service.ErrEmptyContent):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to send message")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to send message")
		}
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *ConversationHandler) thread(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}
	partnerID := strings.TrimSpace(c.Params("partnerId"))

	before, err := parseQueryTime(c, "before")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	messages, err := h.service.Thread(requestContext(c), userID, partnerID, dto.ThreadQuery{Before: before, Limit: limit})
	if err != nil {
		if isValidationError(err) || errors.Is(err, service.ErrInvalidRecipient) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load thread")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load thread")
	}
	return utils.SendSuccess(c, "thread", messages)
}

// markRead prefers the caller's live session so its cache and open views update in place.
// A bounded request, or one without a session, goes straight to the store.
func (h *ConversationHandler) markRead(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}
	partnerID := strings.TrimSpace(c.Params("partnerId"))
	if partnerID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "partner id required")
	}

	var payload dto.MarkConversationReadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
		if err := h.validator.Struct(payload); err != nil {
			return sendValidationError(c, err)
		}
	}

	ctx := requestContext(c)
	if payload.UpToMessageID == "" && h.sessions != nil {
		if session, ok := h.sessions.Peek(userID); ok {
			updated, err := session.MarkConversationRead(ctx, partnerID)
			if err == nil {
				return utils.SendSuccess(c, "conversation marked read", dto.ReadResult{Updated: updated})
			}
			if !errors.Is(err, realtime.ErrSessionEnded) {
				requestLogger(h.logger, c).Warn().Err(err).Str("partner_id", partnerID).Msg("mark read failed")
				return utils.SendError(c, fiber.StatusBadGateway, "failed to mark conversation read")
			}
		}
	}

	var cutoff realtime.Version
	if payload.UpToMessageID != "" {
		version, err := h.service.MessageVersion(ctx, userID, payload.UpToMessageID)
		if err != nil {
			if isNotFound(err) || errors.Is(err, service.ErrInvalidRecipient) {
				return utils.SendError(c, fiber.StatusNotFound, "message not found")
			}
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to resolve message")
		}
		cutoff = version
	}

	flipped, err := h.service.MarkConversationRead(ctx, userID, partnerID, cutoff)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("partner_id", partnerID).Msg("mark read failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to mark conversation read")
	}
	return utils.SendSuccess(c, "conversation marked read", dto.ReadResult{Updated: len(flipped)})
}
