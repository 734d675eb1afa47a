package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/service"
	"github.com/noah-isme/gema-community-api/internal/utils"
)

// AssistantHandler serves the community assistant chat.
type AssistantHandler struct {
	service service.AssistantService
	logger  zerolog.Logger
}

// NewAssistantHandler constructs an assistant handler.
func NewAssistantHandler(service service.AssistantService, logger zerolog.Logger) *AssistantHandler {
	return &AssistantHandler{
		service: service,
		logger:  logger.With().Str("component", "assistant_handler").Logger(),
	}
}

// Register wires assistant routes.
func (h *AssistantHandler) Register(router fiber.Router) {
	router.Post("/chat", h.chat)
}

func (h *AssistantHandler) chat(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.AssistantChatRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	reply, err := h.service.Chat(requestContext(c), userID, payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAssistantUnavailable):
			return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
		case isValidationError(err):
			return sendValidationError(c, err)
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("assistant chat failed")
			return utils.SendError(c, fiber.StatusBadGateway, "assistant unavailable")
		}
	}
	return utils.SendSuccess(c, "assistant reply", reply)
}
