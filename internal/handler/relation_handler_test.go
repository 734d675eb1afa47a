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
	"github.com/noah-isme/gema-community-api/internal/realtime"
)

type relationEnvelope struct {
	Success bool                      `json:"success"`
	Data    dto.RelationStateResponse `json:"data"`
}

func relationApp(fx communityFixture, userID string) *fiber.App {
	h := handler.NewRelationHandler(fx.engagement, fx.sessions, fx.validator, fx.logger)
	return newUserApp(userID, func(router fiber.Router) { h.Register(router.Group("/relations")) })
}

func TestRelationHandler_SetIsIdempotent(t *testing.T) {
	fx := newCommunityFixture(t)
	app := relationApp(fx, "alice")
	active := true

	for i := 0; i < 2; i++ {
		resp := doJSON(t, app, http.MethodPut, "/api/relations/like/post-1", dto.RelationUpdateRequest{Active: &active})
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var state relationEnvelope
		decodeResponse(t, resp, &state)
		require.True(t, state.Data.Active)
		require.Equal(t, int64(1), state.Data.Count)
	}

	inactive := false
	resp := doJSON(t, app, http.MethodPut, "/api/relations/like/post-1", dto.RelationUpdateRequest{Active: &inactive})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var state relationEnvelope
	decodeResponse(t, resp, &state)
	require.False(t, state.Data.Active)
	require.Zero(t, state.Data.Count)
}

func TestRelationHandler_RejectsBadInput(t *testing.T) {
	fx := newCommunityFixture(t)
	app := relationApp(fx, "alice")

	resp := doJSON(t, app, http.MethodGet, "/api/relations/bookmark/post-1", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPut, "/api/relations/like/post-1", map[string]string{})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	active := true
	resp = doJSON(t, app, http.MethodPut, "/api/relations/follow/alice", dto.RelationUpdateRequest{Active: &active})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRelationHandler_ToggleFlipsThroughSession(t *testing.T) {
	fx := newCommunityFixture(t)
	bob := relationApp(fx, "bob")
	active := true
	resp := doJSON(t, bob, http.MethodPut, "/api/relations/upvote/post-9", dto.RelationUpdateRequest{Active: &active})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	alice := relationApp(fx, "alice")
	resp = doJSON(t, alice, http.MethodPost, "/api/relations/upvote/post-9/toggle", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var toggled relationEnvelope
	decodeResponse(t, resp, &toggled)
	require.True(t, toggled.Data.Active)
	require.Equal(t, int64(2), toggled.Data.Count)

	resp = doJSON(t, alice, http.MethodPost, "/api/relations/upvote/post-9/toggle", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeResponse(t, resp, &toggled)
	require.False(t, toggled.Data.Active)
	require.Equal(t, int64(1), toggled.Data.Count)

	resp = doJSON(t, alice, http.MethodGet, "/api/relations/upvote/post-9", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var state relationEnvelope
	decodeResponse(t, resp, &state)
	require.False(t, state.Data.Active)
	require.Equal(t, int64(1), state.Data.Count)
}

func TestRelationHandler_StateUsesLiveSession(t *testing.T) {
	fx := newCommunityFixture(t)
	session, release, err := fx.sessions.Acquire(context.Background(), "alice")
	require.NoError(t, err)
	defer release()

	_, err = session.Toggle(context.Background(), realtime.ToggleKey{Kind: models.RelationPostLike, TargetID: "post-3"})
	require.NoError(t, err)

	app := relationApp(fx, "alice")
	resp := doJSON(t, app, http.MethodGet, "/api/relations/like/post-3", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var state relationEnvelope
	decodeResponse(t, resp, &state)
	require.True(t, state.Data.Active)
	require.Equal(t, int64(1), state.Data.Count)
}

func TestRelationHandler_FollowStatsAndNotification(t *testing.T) {
	fx := newCommunityFixture(t)
	require.NoError(t, fx.profiles.Upsert(context.Background(), &models.Profile{ID: "alice", Username: "alice", DisplayName: "Alice"}))

	active := true
	resp := doJSON(t, relationApp(fx, "alice"), http.MethodPut, "/api/relations/follow/bob", dto.RelationUpdateRequest{Active: &active})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp = doJSON(t, relationApp(fx, "carol"), http.MethodPut, "/api/relations/follow/bob", dto.RelationUpdateRequest{Active: &active})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = doJSON(t, relationApp(fx, "bob"), http.MethodGet, "/api/relations/users/bob/follow-stats", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stats struct {
		Data dto.FollowStatsResponse `json:"data"`
	}
	decodeResponse(t, resp, &stats)
	require.Equal(t, int64(2), stats.Data.Followers)
	require.Zero(t, stats.Data.Following)

	list, err := fx.notifications.List(context.Background(), "bob", 10, 0)
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	messages := []string{list.Items[0].Message, list.Items[1].Message}
	require.Contains(t, messages, "Alice started following you")
}
