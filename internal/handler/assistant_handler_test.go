package handler_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/handler"
	"github.com/noah-isme/gema-community-api/internal/service"
)

type mockAssistantService struct {
	lastUserID string
	lastInput  dto.AssistantChatRequest
	reply      string
	err        error
}

func (m *mockAssistantService) Chat(_ context.Context, userID string, req dto.AssistantChatRequest) (dto.AssistantChatResponse, error) {
	m.lastUserID = userID
	m.lastInput = req
	if m.err != nil {
		return dto.AssistantChatResponse{}, m.err
	}
	return dto.AssistantChatResponse{Reply: m.reply}, nil
}

func assistantApp(svc service.AssistantService, userID string) *fiber.App {
	h := handler.NewAssistantHandler(svc, zerolog.New(io.Discard))
	return newUserApp(userID, func(router fiber.Router) { h.Register(router.Group("/assistant")) })
}

func TestAssistantHandler_Chat(t *testing.T) {
	svc := &mockAssistantService{reply: "You have 2 unread messages."}
	app := assistantApp(svc, "alice")

	payload := dto.AssistantChatRequest{Messages: []dto.AssistantMessage{{Role: "user", Content: "what did I miss?"}}}
	resp := doJSON(t, app, http.MethodPost, "/api/assistant/chat", payload)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Data dto.AssistantChatResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)
	require.Equal(t, svc.reply, response.Data.Reply)
	require.Equal(t, "alice", svc.lastUserID)
	require.Len(t, svc.lastInput.Messages, 1)
}

func TestAssistantHandler_Errors(t *testing.T) {
	validationErr := validator.New().Struct(dto.AssistantChatRequest{})
	require.Error(t, validationErr)

	cases := []struct {
		name       string
		err        error
		statusCode int
	}{
		{name: "unavailable", err: service.ErrAssistantUnavailable, statusCode: fiber.StatusServiceUnavailable},
		{name: "validation", err: validationErr, statusCode: fiber.StatusBadRequest},
		{name: "upstream", err: errors.New("timeout"), statusCode: fiber.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := assistantApp(&mockAssistantService{err: tc.err}, "alice")
			resp := doJSON(t, app, http.MethodPost, "/api/assistant/chat", dto.AssistantChatRequest{})
			require.Equal(t, tc.statusCode, resp.StatusCode)
		})
	}
}
