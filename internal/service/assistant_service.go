package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/observability"
	"github.com/noah-isme/gema-community-api/internal/repository"
	"github.com/noah-isme/gema-community-api/pkg/ai"
)

// ErrAssistantUnavailable indicates no chat model is configured.
var ErrAssistantUnavailable = errors.New("assistant is not configured")

const assistantPrompt = `You are the community assistant. Answer briefly and helpfully.
Never invent messages or notifications the user has not received.`

// AssistantService answers user questions with a chat model, grounded on the user's profile
// and unread counters.
type AssistantService interface {
	Chat(ctx context.Context, userID string, payload dto.AssistantChatRequest) (dto.AssistantChatResponse, error)
}

type assistantService struct {
	chatter       ai.Chatter
	profiles      repository.ProfileRepository
	messages      repository.MessageRepository
	notifications repository.NotificationRepository
	validator     *validator.Validate
	logger        zerolog.Logger
}

// NewAssistantService constructs the assistant. chatter may be nil when no key is configured.
func NewAssistantService(chatter ai.Chatter, profiles repository.ProfileRepository, messages repository.MessageRepository, notifications repository.NotificationRepository, validate *validator.Validate, logger zerolog.Logger) AssistantService {
	return &assistantService{
		chatter:       chatter,
		profiles:      profiles,
		messages:      messages,
		notifications: notifications,
		validator:     validate,
		logger:        logger.With().Str("component", "assistant_service").Logger(),
	}
}

func (s *assistantService) Chat(ctx context.Context, userID string, payload dto.AssistantChatRequest) (dto.AssistantChatResponse, error) {
	if s.chatter == nil {
		observability.AssistantRequests().WithLabelValues("unavailable").Inc()
		return dto.AssistantChatResponse{}, ErrAssistantUnavailable
	}
	if err := s.validator.Struct(payload); err != nil {
		observability.AssistantRequests().WithLabelValues("invalid").Inc()
		return dto.AssistantChatResponse{}, err
	}

	messages := make([]ai.ChatMessage, 0, len(payload.Messages))
	for _, message := range payload.Messages {
		messages = append(messages, ai.ChatMessage{Role: message.Role, Content: strings.TrimSpace(message.Content)})
	}

	result, err := s.chatter.Chat(ctx, ai.ChatRequest{
		System:   s.systemPrompt(ctx, userID),
		Messages: messages,
	})
	if err != nil {
		observability.AssistantRequests().WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("assistant chat failed")
		return dto.AssistantChatResponse{}, err
	}

	observability.AssistantRequests().WithLabelValues("ok").Inc()
	return dto.AssistantChatResponse{Reply: result.Reply}, nil
}

func (s *assistantService) systemPrompt(ctx context.Context, userID string) string {
	var builder strings.Builder
	builder.WriteString(assistantPrompt)

	if s.profiles != nil {
		if profile, err := s.profiles.FindByID(ctx, userID); err == nil {
			fmt.Fprintf(&builder, "\nThe user is %s.", displayName(profile))
		}
	}
	if s.messages != nil {
		if unread, err := s.messages.CountUnread(ctx, userID); err == nil {
			fmt.Fprintf(&builder, "\nUnread direct messages: %d.", unread)
		}
	}
	if s.notifications != nil {
		if unread, err := s.notifications.CountUnread(ctx, userID); err == nil {
			fmt.Fprintf(&builder, "\nUnread notifications: %d.", unread)
		}
	}
	return builder.String()
}
