package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/realtime"
	"github.com/noah-isme/gema-community-api/internal/repository"
)

func newEngagementFixture(t *testing.T) (EngagementService, NotificationService, repository.ProfileRepository) {
	t.Helper()
	db := setupCommunityDB(t)
	profiles := repository.NewProfileRepository(db)
	notifications := NewNotificationService(repository.NewNotificationRepository(db), nil, testValidator(), testLogger())
	svc := NewEngagementService(repository.NewRelationRepository(db), profiles, notifications, testLogger())
	return svc, notifications, profiles
}

func TestEngagementSetRelationIsIdempotent(t *testing.T) {
	svc, _, _ := newEngagementFixture(t)
	ctx := context.Background()
	key := realtime.ToggleKey{Kind: models.RelationPostLike, ActorID: "alice", TargetID: "post-1"}

	require.NoError(t, svc.SetRelation(ctx, key, true))
	require.NoError(t, svc.SetRelation(ctx, key, true))

	state, err := svc.RelationState(ctx, key)
	require.NoError(t, err)
	require.Equal(t, realtime.ToggleState{Active: true, Count: 1}, state)

	other := realtime.ToggleKey{Kind: models.RelationPostLike, ActorID: "bob", TargetID: "post-1"}
	require.NoError(t, svc.SetRelation(ctx, other, true))
	require.NoError(t, svc.SetRelation(ctx, key, false))
	require.NoError(t, svc.SetRelation(ctx, key, false))

	state, err = svc.RelationState(ctx, key)
	require.NoError(t, err)
	require.Equal(t, realtime.ToggleState{Active: false, Count: 1}, state)
}

func TestEngagementRejectsInvalidKeys(t *testing.T) {
	svc, _, _ := newEngagementFixture(t)
	ctx := context.Background()

	err := svc.SetRelation(ctx, realtime.ToggleKey{Kind: "bookmark", ActorID: "alice", TargetID: "x"}, true)
	require.ErrorIs(t, err, ErrInvalidRelation)

	err = svc.SetRelation(ctx, realtime.ToggleKey{Kind: models.RelationFollow, ActorID: "alice", TargetID: "alice"}, true)
	require.ErrorIs(t, err, ErrSelfRelation)

	_, err = svc.RelationState(ctx, realtime.ToggleKey{Kind: models.RelationUpvote, ActorID: "alice"})
	require.ErrorIs(t, err, ErrInvalidRelation)
}

func TestEngagementFollowNotifiesOnce(t *testing.T) {
	svc, notifications, profiles := newEngagementFixture(t)
	ctx := context.Background()
	require.NoError(t, profiles.Upsert(ctx, &models.Profile{ID: "alice", Username: "alice", DisplayName: "Alice"}))

	key := realtime.ToggleKey{Kind: models.RelationFollow, ActorID: "alice", TargetID: "bob"}
	require.NoError(t, svc.SetRelation(ctx, key, true))
	require.NoError(t, svc.SetRelation(ctx, key, true))

	list, err := notifications.List(ctx, "bob", 10, 0)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, "follow", list.Items[0].Type)
	require.Equal(t, "Alice started following you", list.Items[0].Message)

	stats, err := svc.FollowStats(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Followers)
	require.Zero(t, stats.Following)

	stats, err = svc.FollowStats(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Following)
}
