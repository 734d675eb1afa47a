package handler

import (
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

// RelationHandler exposes likes, upvotes and follows.
type RelationHandler struct {
	service   service.EngagementService
	sessions  SessionProvider
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRelationHandler constructs a relation handler.
func NewRelationHandler(service service.EngagementService, sessions SessionProvider, validator *validator.Validate, logger zerolog.Logger) *RelationHandler {
	return &RelationHandler{
		service:   service,
		sessions:  sessions,
		validator: validator,
		logger:    logger.With().Str("component", "relation_handler").Logger(),
	}
}

// Register binds the relation routes.
func (h *RelationHandler) Register(router fiber.Router) {
	router.Get("/users/:id/follow-stats", h.followStats)
	router.Get("/:kind/:targetId", h.state)
	router.Put("/:kind/:targetId", h.set)
	router.Post("/:kind/:targetId/toggle", h.toggle)
}

func (h *RelationHandler) state(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}
	key, ok := toggleKeyFromParams(c, userID)
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid relation")
	}

	ctx := requestContext(c)
	if h.sessions != nil {
		if session, live := h.sessions.Peek(userID); live {
			if state, err := session.ToggleState(ctx, key); err == nil {
				return utils.SendSuccess(c, "relation state", dto.NewRelationStateResponse(key, state))
			}
		}
	}

	state, err := h.service.RelationState(ctx, key)
	if err != nil {
		return h.relationError(c, err)
	}
	return utils.SendSuccess(c, "relation state", dto.NewRelationStateResponse(key, state))
}

// set applies an explicit intent. Repeating it is harmless.
func (h *RelationHandler) set(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}
	key, ok := toggleKeyFromParams(c, userID)
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid relation")
	}

	var payload dto.RelationUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendValidationError(c, err)
	}

	ctx := requestContext(c)
	if err := h.service.SetRelation(ctx, key, *payload.Active); err != nil {
		return h.relationError(c, err)
	}
	state, err := h.service.RelationState(ctx, key)
	if err != nil {
		return h.relationError(c, err)
	}
	return utils.SendSuccess(c, "relation updated", dto.NewRelationStateResponse(key, state))
}

// toggle flips the relation through the caller's sync session so rapid repeats collapse into
// the latest intent.
func (h *RelationHandler) toggle(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}
	key, ok := toggleKeyFromParams(c, userID)
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid relation")
	}
	if h.sessions == nil {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "toggles unavailable")
	}

	ctx := requestContext(c)
	session, release, err := h.sessions.Acquire(ctx, userID)
	if err != nil {
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to start sync session")
	}
	defer release()

	state, err := session.Toggle(ctx, key)
	if err != nil {
		if errors.Is(err, realtime.ErrSuperseded) {
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		}
		return h.relationError(c, err)
	}
	return utils.SendSuccess(c, "relation toggled", dto.NewRelationStateResponse(key, state))
}

func (h *RelationHandler) followStats(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("id"))
	stats, err := h.service.FollowStats(requestContext(c), userID)
	if err != nil {
		return h.relationError(c, err)
	}
	return utils.SendSuccess(c, "follow stats", stats)
}

func (h *RelationHandler) relationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRelation), errors.Is(err, service.ErrSelfRelation):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("relation request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "relation request failed")
	}
}
