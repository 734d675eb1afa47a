package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/handler"
	"github.com/noah-isme/gema-community-api/internal/models"
)

type conversationEnvelope struct {
	Success bool                       `json:"success"`
	Data    []dto.ConversationResponse `json:"data"`
	Meta    map[string]interface{}     `json:"meta"`
}

type readEnvelope struct {
	Success bool           `json:"success"`
	Data    dto.ReadResult `json:"data"`
}

func conversationApp(fx communityFixture, userID string) *fiber.App {
	h := handler.NewConversationHandler(fx.messaging, fx.sessions, fx.validator, fx.logger)
	return newUserApp(userID, h.Register)
}

func sendMessage(t *testing.T, fx communityFixture, from, to, content string) dto.MessageResponse {
	t.Helper()
	message, err := fx.messaging.Send(context.Background(), from, dto.MessageSendRequest{ReceiverID: to, Content: content})
	require.NoError(t, err)
	return message
}

func TestConversationHandler_SendAndList(t *testing.T) {
	fx := newCommunityFixture(t)
	require.NoError(t, fx.profiles.Upsert(context.Background(), &models.Profile{ID: "alice", Username: "alice", DisplayName: "Alice"}))

	aliceApp := conversationApp(fx, "alice")
	resp := doJSON(t, aliceApp, http.MethodPost, "/api/messages", dto.MessageSendRequest{ReceiverID: "bob", Content: "hi <b>bob</b>"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var sent struct {
		Data dto.MessageResponse `json:"data"`
	}
	decodeResponse(t, resp, &sent)
	require.Equal(t, "hi bob", sent.Data.Content)
	require.False(t, sent.Data.Read)

	bobApp := conversationApp(fx, "bob")
	resp = doJSON(t, bobApp, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var listed conversationEnvelope
	decodeResponse(t, resp, &listed)
	require.True(t, listed.Success)
	require.Len(t, listed.Data, 1)
	require.Equal(t, "alice", listed.Data[0].PartnerID)
	require.Equal(t, 1, listed.Data[0].UnreadCount)
	require.NotNil(t, listed.Data[0].Partner)
	require.Equal(t, "Alice", listed.Data[0].Partner.DisplayName)
	require.Equal(t, float64(1), listed.Meta["count"])
}

func TestConversationHandler_SendValidation(t *testing.T) {
	fx := newCommunityFixture(t)
	app := conversationApp(fx, "alice")

	resp := doJSON(t, app, http.MethodPost, "/api/messages", map[string]string{"receiver_id": "bob"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var payload struct {
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	}
	decodeResponse(t, resp, &payload)
	require.Equal(t, "validation failed", payload.Message)
	require.Equal(t, "required", payload.Details["Content"])

	resp = doJSON(t, app, http.MethodPost, "/api/messages", dto.MessageSendRequest{ReceiverID: "alice", Content: "me"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestConversationHandler_RequiresUser(t *testing.T) {
	fx := newCommunityFixture(t)
	app := conversationApp(fx, "")

	resp := doJSON(t, app, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestConversationHandler_ThreadIsOrderedAndPaged(t *testing.T) {
	fx := newCommunityFixture(t)
	sendMessage(t, fx, "alice", "bob", "one")
	sendMessage(t, fx, "bob", "alice", "two")
	sendMessage(t, fx, "alice", "bob", "three")
	sendMessage(t, fx, "alice", "carol", "elsewhere")

	app := conversationApp(fx, "bob")
	resp := doJSON(t, app, http.MethodGet, "/api/conversations/alice/messages", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var thread struct {
		Data []dto.MessageResponse `json:"data"`
	}
	decodeResponse(t, resp, &thread)
	require.Len(t, thread.Data, 3)
	require.Equal(t, "one", thread.Data[0].Content)
	require.Equal(t, "three", thread.Data[2].Content)

	resp = doJSON(t, app, http.MethodGet, "/api/conversations/alice/messages?limit=abc", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/api/conversations/alice/messages?before=yesterday", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestConversationHandler_MarkReadWithoutSession(t *testing.T) {
	fx := newCommunityFixture(t)
	sendMessage(t, fx, "alice", "bob", "one")
	sendMessage(t, fx, "alice", "bob", "two")
	sendMessage(t, fx, "bob", "alice", "reply")

	app := conversationApp(fx, "bob")
	resp := doJSON(t, app, http.MethodPost, "/api/conversations/alice/read", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result readEnvelope
	decodeResponse(t, resp, &result)
	require.Equal(t, 2, result.Data.Updated)

	var unread int64
	require.NoError(t, fx.db.Model(&models.Message{}).Where("receiver_id = ? AND read = ?", "bob", false).Count(&unread).Error)
	require.Zero(t, unread)

	var aliceUnread int64
	require.NoError(t, fx.db.Model(&models.Message{}).Where("receiver_id = ? AND read = ?", "alice", false).Count(&aliceUnread).Error)
	require.Equal(t, int64(1), aliceUnread)
}

func TestConversationHandler_MarkReadUpToMessage(t *testing.T) {
	fx := newCommunityFixture(t)
	first := sendMessage(t, fx, "alice", "bob", "seen")
	sendMessage(t, fx, "alice", "bob", "arrived later")

	app := conversationApp(fx, "bob")
	resp := doJSON(t, app, http.MethodPost, "/api/conversations/alice/read", dto.MarkConversationReadRequest{UpToMessageID: first.ID})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result readEnvelope
	decodeResponse(t, resp, &result)
	require.Equal(t, 1, result.Data.Updated)

	var stillUnread []models.Message
	require.NoError(t, fx.db.Where("receiver_id = ? AND read = ?", "bob", false).Find(&stillUnread).Error)
	require.Len(t, stillUnread, 1)
	require.Equal(t, "arrived later", stillUnread[0].Content)

	resp = doJSON(t, app, http.MethodPost, "/api/conversations/alice/read", dto.MarkConversationReadRequest{UpToMessageID: "missing"})
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestConversationHandler_MarkReadThroughLiveSession(t *testing.T) {
	fx := newCommunityFixture(t)
	sendMessage(t, fx, "alice", "bob", "one")

	session, release, err := fx.sessions.Acquire(context.Background(), "bob")
	require.NoError(t, err)
	defer release()
	require.Equal(t, 1, session.UnreadCount("alice"))

	app := conversationApp(fx, "bob")
	resp := doJSON(t, app, http.MethodPost, "/api/conversations/alice/read", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result readEnvelope
	decodeResponse(t, resp, &result)
	require.Equal(t, 1, result.Data.Updated)
	require.Zero(t, session.UnreadCount("alice"))
}
