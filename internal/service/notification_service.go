package service

import (
	"context"
	"errors"
	"strings"

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

// NotificationService creates notifications and marks them read. Every change is published to
// the change feed so open sessions pick it up.
type NotificationService interface {
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	List(ctx context.Context, userID string, limit, offset int) (dto.NotificationListResponse, error)
	ListModels(ctx context.Context, userID string) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) (dto.NotificationResponse, bool, error)
	MarkAllRead(ctx context.Context, userID string, cutoff realtime.Version) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type notificationService struct {
	repo      repository.NotificationRepository
	publisher feed.Publisher
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	sanitizer *bluemonday.Policy
}

// NewNotificationService constructs a notification service. publisher may be nil.
func NewNotificationService(repo repository.NotificationRepository, publisher feed.Publisher, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	return &notificationService{
		repo:      repo,
		publisher: publisher,
		validator: validate,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-community-api/internal/service/notification"),
		sanitizer: bluemonday.StrictPolicy(),
	}
}

func (s *notificationService) Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, err
	}

	cleanMessage := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if cleanMessage == "" {
		return dto.NotificationResponse{}, errors.New("notification message empty after sanitization")
	}

	attrs := []attribute.KeyValue{
		attribute.String("notification.user_id", payload.UserID),
		attribute.String("notification.type", payload.Type),
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.publish", trace.WithAttributes(attrs...))
	defer span.End()

	model := models.Notification{
		UserID:   payload.UserID,
		Type:     models.NotificationType(payload.Type),
		Title:    strings.TrimSpace(s.sanitizer.Sanitize(payload.Title)),
		Message:  cleanMessage,
		Link:     strings.TrimSpace(payload.Link),
		Metadata: payload.Metadata,
	}

	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	s.publish(spanCtx, realtime.NotificationEvent(realtime.ChangeInsert, realtime.SourceLocal, model))
	observability.NotificationsPublishedTotal().WithLabelValues(payload.Type).Inc()

	return dto.NewNotificationResponse(model), nil
}

func (s *notificationService) List(ctx context.Context, userID string, limit, offset int) (dto.NotificationListResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return dto.NotificationListResponse{}, errors.New("user id is required")
	}

	notifications, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return dto.NotificationListResponse{}, err
	}

	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return dto.NotificationListResponse{}, err
	}

	return dto.NotificationListResponse{
		Items:       dto.NewNotificationResponseSlice(notifications),
		UnreadCount: unread,
	}, nil
}

func (s *notificationService) ListModels(ctx context.Context, userID string) ([]models.Notification, error) {
	return s.repo.ListByUser(ctx, userID, 100, 0)
}

func (s *notificationService) MarkRead(ctx context.Context, id, userID string) (dto.NotificationResponse, bool, error) {
	attrs := []attribute.KeyValue{
		attribute.String("notification.user_id", userID),
		attribute.String("notification.id", id),
	}
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(attrs...))
	defer span.End()

	notification, changed, err := s.repo.MarkRead(spanCtx, id, userID)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, false, err
	}

	if changed {
		s.publish(spanCtx, realtime.NotificationEvent(realtime.ChangeUpdate, realtime.SourceLocal, notification))
	}
	return dto.NewNotificationResponse(notification), changed, nil
}

// MarkAllRead marks the user's unread notifications read up to cutoff. A zero cutoff covers
// every unread notification.
func (s *notificationService) MarkAllRead(ctx context.Context, userID string, cutoff realtime.Version) ([]models.Notification, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_all_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	flipped, err := s.repo.MarkAllRead(spanCtx, userID, repository.ReadCutoff{At: cutoff.At, ID: cutoff.ID})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, notification := range flipped {
		s.publish(spanCtx, realtime.NotificationEvent(realtime.ChangeUpdate, realtime.SourceLocal, notification))
	}
	return flipped, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *notificationService) publish(ctx context.Context, event realtime.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", event.RecordID()).Msg("failed to publish notification change")
	}
}
