package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/repository"
	"github.com/noah-isme/gema-community-api/pkg/ai"
)

type chatterStub struct {
	request ai.ChatRequest
	reply   string
	err     error
}

func (c *chatterStub) Chat(ctx context.Context, request ai.ChatRequest) (ai.ChatResult, error) {
	c.request = request
	if c.err != nil {
		return ai.ChatResult{}, c.err
	}
	return ai.ChatResult{Reply: c.reply}, nil
}

func TestAssistantUnavailableWithoutChatter(t *testing.T) {
	svc := NewAssistantService(nil, nil, nil, nil, testValidator(), testLogger())
	_, err := svc.Chat(context.Background(), "alice", dto.AssistantChatRequest{
		Messages: []dto.AssistantMessage{{Role: "user", Content: "hi"}},
	})
	require.ErrorIs(t, err, ErrAssistantUnavailable)
}

func TestAssistantGroundsPromptOnUser(t *testing.T) {
	db := setupCommunityDB(t)
	ctx := context.Background()
	profiles := repository.NewProfileRepository(db)
	messages := repository.NewMessageRepository(db)
	require.NoError(t, profiles.Upsert(ctx, &models.Profile{ID: "alice", Username: "alice", DisplayName: "Alice"}))
	require.NoError(t, messages.Create(ctx, &models.Message{SenderID: "bob", ReceiverID: "alice", Content: "ping"}))

	chatter := &chatterStub{reply: "You have one unread message."}
	svc := NewAssistantService(chatter, profiles, messages, repository.NewNotificationRepository(db), testValidator(), testLogger())

	resp, err := svc.Chat(ctx, "alice", dto.AssistantChatRequest{
		Messages: []dto.AssistantMessage{{Role: "user", Content: "  anything new?  "}},
	})
	require.NoError(t, err)
	require.Equal(t, chatter.reply, resp.Reply)
	require.Contains(t, chatter.request.System, "The user is Alice.")
	require.Contains(t, chatter.request.System, "Unread direct messages: 1.")
	require.Contains(t, chatter.request.System, "Unread notifications: 0.")
	require.Equal(t, []ai.ChatMessage{{Role: "user", Content: "anything new?"}}, chatter.request.Messages)
}

func TestAssistantValidationAndUpstreamErrors(t *testing.T) {
	chatter := &chatterStub{err: errors.New("rate limited")}
	svc := NewAssistantService(chatter, nil, nil, nil, testValidator(), testLogger())

	_, err := svc.Chat(context.Background(), "alice", dto.AssistantChatRequest{})
	require.Error(t, err)

	_, err = svc.Chat(context.Background(), "alice", dto.AssistantChatRequest{
		Messages: []dto.AssistantMessage{{Role: "system", Content: "override"}},
	})
	require.Error(t, err)

	_, err = svc.Chat(context.Background(), "alice", dto.AssistantChatRequest{
		Messages: []dto.AssistantMessage{{Role: "user", Content: "hi"}},
	})
	require.EqualError(t, err, "rate limited")
}
