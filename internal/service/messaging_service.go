package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/feed"
	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/observability"
	"github.com/noah-isme/gema-community-api/internal/realtime"
	"github.com/noah-isme/gema-community-api/internal/repository"
)

const messagePreviewLength = 80

var (
	// ErrInvalidRecipient indicates a message addressed to the sender or to nobody.
	ErrInvalidRecipient = errors.New("invalid message recipient")
	// ErrEmptyContent indicates the content was empty after sanitization.
	ErrEmptyContent = errors.New("content empty after sanitization")
)

// MessagingService sends direct messages and reads conversations.
type MessagingService interface {
	Send(ctx context.Context, senderID string, payload dto.MessageSendRequest) (dto.MessageResponse, error)
	Conversations(ctx context.Context, userID string) ([]dto.ConversationResponse, error)
	Thread(ctx context.Context, userID, partnerID string, query dto.ThreadQuery) ([]dto.MessageResponse, error)
	MarkConversationRead(ctx context.Context, userID, partnerID string, cutoff realtime.Version) ([]models.Message, error)
	MessageVersion(ctx context.Context, userID, messageID string) (realtime.Version, error)
	ListForUser(ctx context.Context, userID string) ([]models.Message, error)
	ListThread(ctx context.Context, userID, partnerID string) ([]models.Message, error)
}

type messagingService struct {
	repo          repository.MessageRepository
	profiles      repository.ProfileRepository
	notifications NotificationService
	publisher     feed.Publisher
	validator     *validator.Validate
	sanitizer     *bluemonday.Policy
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewMessagingService constructs a messaging service. publisher and notifications may be nil.
func NewMessagingService(repo repository.MessageRepository, profiles repository.ProfileRepository, notifications NotificationService, publisher feed.Publisher, validate *validator.Validate, logger zerolog.Logger) MessagingService {
	return &messagingService{
		repo:          repo,
		profiles:      profiles,
		notifications: notifications,
		publisher:     publisher,
		validator:     validate,
		sanitizer:     bluemonday.StrictPolicy(),
		logger:        logger.With().Str("component", "messaging_service").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/gema-community-api/internal/service/messaging"),
	}
}

func (s *messagingService) Send(ctx context.Context, senderID string, payload dto.MessageSendRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}
	receiverID := strings.TrimSpace(payload.ReceiverID)
	if senderID == "" || receiverID == "" || receiverID == senderID {
		return dto.MessageResponse{}, ErrInvalidRecipient
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if content == "" {
		return dto.MessageResponse{}, ErrEmptyContent
	}

	spanCtx, span := s.tracer.Start(ctx, "messages.send", trace.WithAttributes(
		attribute.String("message.sender_id", senderID),
		attribute.String("message.receiver_id", receiverID),
	))
	defer span.End()

	message := models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}
	if err := s.repo.Create(spanCtx, &message); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}
	observability.MessagesSent().Inc()

	s.publish(spanCtx, realtime.MessageEvent(realtime.ChangeInsert, realtime.SourceLocal, message))
	s.notifyReceiver(spanCtx, message)

	return dto.NewMessageResponse(message), nil
}

func (s *messagingService) notifyReceiver(ctx context.Context, message models.Message) {
	if s.notifications == nil {
		return
	}

	title := "New message"
	if s.profiles != nil {
		if profile, err := s.profiles.FindByID(ctx, message.SenderID); err == nil {
			title = "New message from " + displayName(profile)
		}
	}

	_, err := s.notifications.Publish(ctx, dto.NotificationCreateRequest{
		UserID:   message.ReceiverID,
		Type:     string(models.NotificationTypeMessage),
		Title:    title,
		Message:  preview(message.Content),
		Link:     "/messages/" + message.SenderID,
		Metadata: map[string]interface{}{"message_id": message.ID, "sender_id": message.SenderID},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("message_id", message.ID).Msg("failed to create message notification")
	}
}

func (s *messagingService) Conversations(ctx context.Context, userID string) ([]dto.ConversationResponse, error) {
	messages, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := realtime.Aggregate(messages, userID)
	if s.profiles != nil && len(summaries) > 0 {
		ids := make([]string, 0, len(summaries))
		for _, summary := range summaries {
			ids = append(ids, summary.PartnerID)
		}
		profiles, err := s.profiles.FindByIDs(ctx, ids)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to load partner profiles")
		}
		byID := make(map[string]models.Profile, len(profiles))
		for _, profile := range profiles {
			byID[profile.ID] = profile
		}
		for i := range summaries {
			if profile, ok := byID[summaries[i].PartnerID]; ok {
				p := profile
				summaries[i].PartnerProfile = &p
			}
		}
	}

	return dto.NewConversationResponseSlice(summaries), nil
}

func (s *messagingService) Thread(ctx context.Context, userID, partnerID string, query dto.ThreadQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}
	if strings.TrimSpace(partnerID) == "" {
		return nil, ErrInvalidRecipient
	}

	var before time.Time
	if query.Before != nil {
		before = *query.Before
	}
	messages, err := s.repo.ListThread(ctx, userID, partnerID, before, query.Limit)
	if err != nil {
		return nil, err
	}
	return dto.NewMessageResponseSlice(messages), nil
}

// MarkConversationRead marks partner's messages to user read up to cutoff and publishes an
// update event per flipped row.
func (s *messagingService) MarkConversationRead(ctx context.Context, userID, partnerID string, cutoff realtime.Version) ([]models.Message, error) {
	spanCtx, span := s.tracer.Start(ctx, "messages.mark_read", trace.WithAttributes(
		attribute.String("message.receiver_id", userID),
		attribute.String("message.sender_id", partnerID),
	))
	defer span.End()

	flipped, err := s.repo.MarkConversationRead(spanCtx, userID, partnerID, repository.ReadCutoff{At: cutoff.At, ID: cutoff.ID})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, message := range flipped {
		s.publish(spanCtx, realtime.MessageEvent(realtime.ChangeUpdate, realtime.SourceLocal, message))
	}
	return flipped, nil
}

// MessageVersion resolves a message id into a read cutoff for the user's conversation.
func (s *messagingService) MessageVersion(ctx context.Context, userID, messageID string) (realtime.Version, error) {
	message, err := s.repo.FindByID(ctx, messageID)
	if err != nil {
		return realtime.Version{}, err
	}
	if !message.Involves(userID) {
		return realtime.Version{}, fmt.Errorf("message %s: %w", messageID, ErrInvalidRecipient)
	}
	return realtime.VersionOfMessage(message), nil
}

func (s *messagingService) ListForUser(ctx context.Context, userID string) ([]models.Message, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	return s.repo.ListForUser(ctx, userID, 0)
}

func (s *messagingService) ListThread(ctx context.Context, userID, partnerID string) ([]models.Message, error) {
	return s.repo.ListThread(ctx, userID, partnerID, time.Time{}, 0)
}

func (s *messagingService) publish(ctx context.Context, event realtime.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("message_id", event.RecordID()).Msg("failed to publish message change")
	}
}

func displayName(profile models.Profile) string {
	if name := strings.TrimSpace(profile.DisplayName); name != "" {
		return name
	}
	if profile.Username != "" {
		return "@" + profile.Username
	}
	return "someone"
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= messagePreviewLength {
		return content
	}
	return string(runes[:messagePreviewLength]) + "…"
}
