package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/realtime"
	"github.com/noah-isme/gema-community-api/internal/repository"
)

var (
	// ErrInvalidRelation indicates an unknown relation kind or a missing target.
	ErrInvalidRelation = errors.New("invalid relation")
	// ErrSelfRelation indicates a user tried to follow themselves.
	ErrSelfRelation = errors.New("cannot follow yourself")
)

// EngagementService manages likes, reply likes, upvotes and follows. It is the remote side of
// the sync core's optimistic toggles.
type EngagementService interface {
	SetRelation(ctx context.Context, key realtime.ToggleKey, active bool) error
	RelationState(ctx context.Context, key realtime.ToggleKey) (realtime.ToggleState, error)
	FollowStats(ctx context.Context, userID string) (dto.FollowStatsResponse, error)
}

type engagementService struct {
	repo          repository.RelationRepository
	profiles      repository.ProfileRepository
	notifications NotificationService
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewEngagementService constructs an engagement service. notifications and profiles may be nil.
func NewEngagementService(repo repository.RelationRepository, profiles repository.ProfileRepository, notifications NotificationService, logger zerolog.Logger) EngagementService {
	return &engagementService{
		repo:          repo,
		profiles:      profiles,
		notifications: notifications,
		logger:        logger.With().Str("component", "engagement_service").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/gema-community-api/internal/service/engagement"),
	}
}

func validateKey(key realtime.ToggleKey) error {
	if !key.Kind.Valid() || strings.TrimSpace(key.ActorID) == "" || strings.TrimSpace(key.TargetID) == "" {
		return ErrInvalidRelation
	}
	if key.Kind == models.RelationFollow && key.ActorID == key.TargetID {
		return ErrSelfRelation
	}
	return nil
}

// SetRelation inserts or deletes the membership. Repeating the same intent is a no-op.
func (s *engagementService) SetRelation(ctx context.Context, key realtime.ToggleKey, active bool) error {
	if err := validateKey(key); err != nil {
		return err
	}

	spanCtx, span := s.tracer.Start(ctx, "relations.set", trace.WithAttributes(
		attribute.String("relation.kind", string(key.Kind)),
		attribute.String("relation.target_id", key.TargetID),
		attribute.Bool("relation.active", active),
	))
	defer span.End()

	changed, err := s.repo.Set(spanCtx, key.Kind, key.ActorID, key.TargetID, active)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("set %s: %w", key, err)
	}

	if changed && active && key.Kind == models.RelationFollow {
		s.notifyFollow(spanCtx, key)
	}
	return nil
}

func (s *engagementService) notifyFollow(ctx context.Context, key realtime.ToggleKey) {
	if s.notifications == nil {
		return
	}

	name := "Someone"
	if s.profiles != nil {
		if profile, err := s.profiles.FindByID(ctx, key.ActorID); err == nil {
			name = displayName(profile)
		}
	}

	_, err := s.notifications.Publish(ctx, dto.NotificationCreateRequest{
		UserID:   key.TargetID,
		Type:     string(models.NotificationTypeFollow),
		Title:    "New follower",
		Message:  name + " started following you",
		Link:     "/profile/" + key.ActorID,
		Metadata: map[string]interface{}{"follower_id": key.ActorID},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("actor_id", key.ActorID).Msg("failed to create follow notification")
	}
}

func (s *engagementService) RelationState(ctx context.Context, key realtime.ToggleKey) (realtime.ToggleState, error) {
	if err := validateKey(key); err != nil {
		return realtime.ToggleState{}, err
	}

	active, err := s.repo.Exists(ctx, key.Kind, key.ActorID, key.TargetID)
	if err != nil {
		return realtime.ToggleState{}, err
	}
	count, err := s.repo.Count(ctx, key.Kind, key.TargetID)
	if err != nil {
		return realtime.ToggleState{}, err
	}
	return realtime.ToggleState{Active: active, Count: count}, nil
}

func (s *engagementService) FollowStats(ctx context.Context, userID string) (dto.FollowStatsResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return dto.FollowStatsResponse{}, ErrInvalidRelation
	}

	followers, err := s.repo.Count(ctx, models.RelationFollow, userID)
	if err != nil {
		return dto.FollowStatsResponse{}, err
	}
	following, err := s.repo.CountByActor(ctx, models.RelationFollow, userID)
	if err != nil {
		return dto.FollowStatsResponse{}, err
	}
	return dto.FollowStatsResponse{UserID: userID, Followers: followers, Following: following}, nil
}
