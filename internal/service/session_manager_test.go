package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/feed"
	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/realtime"
	"github.com/noah-isme/gema-community-api/internal/repository"
)

type managerFixture struct {
	manager   *SessionManager
	broker    *feed.Broker
	messaging MessagingService
	profiles  repository.ProfileRepository
}

func newManagerFixture(t *testing.T) managerFixture {
	t.Helper()
	db := setupCommunityDB(t)
	broker := feed.NewBroker(16, testLogger())
	t.Cleanup(broker.Close)

	profiles := repository.NewProfileRepository(db)
	notifications := NewNotificationService(repository.NewNotificationRepository(db), broker, testValidator(), testLogger())
	messaging := NewMessagingService(repository.NewMessageRepository(db), profiles, notifications, broker, testValidator(), testLogger())
	engagement := NewEngagementService(repository.NewRelationRepository(db), profiles, notifications, testLogger())

	manager := NewSessionManager(SessionManagerConfig{
		Feed:                     broker,
		Messaging:                messaging,
		Notifications:            notifications,
		Engagement:               engagement,
		Profiles:                 profiles,
		ConversationPollInterval: time.Hour,
		ThreadPollInterval:       time.Hour,
		NotificationPollInterval: time.Hour,
		RetryInterval:            10 * time.Millisecond,
		Logger:                   testLogger(),
	})
	t.Cleanup(manager.Shutdown)
	return managerFixture{manager: manager, broker: broker, messaging: messaging, profiles: profiles}
}

func waitForSnapshot(t *testing.T, view *realtime.View, match func(realtime.Snapshot) bool) realtime.Snapshot {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case snapshot, ok := <-view.Updates():
			require.True(t, ok, "view closed")
			if match(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func TestSessionManagerSharesSessionUntilLastRelease(t *testing.T) {
	fx := newManagerFixture(t)
	ctx := context.Background()

	first, releaseFirst, err := fx.manager.Acquire(ctx, "alice")
	require.NoError(t, err)
	second, releaseSecond, err := fx.manager.Acquire(ctx, "alice")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, fx.manager.Active())

	releaseFirst()
	releaseFirst()
	peeked, ok := fx.manager.Peek("alice")
	require.True(t, ok)
	require.Same(t, first, peeked)

	releaseSecond()
	require.True(t, first.Ended())
	_, ok = fx.manager.Peek("alice")
	require.False(t, ok)

	third, releaseThird, err := fx.manager.Acquire(ctx, "alice")
	require.NoError(t, err)
	defer releaseThird()
	require.NotSame(t, first, third)
}

func TestSessionManagerRejectsAnonymous(t *testing.T) {
	fx := newManagerFixture(t)
	_, _, err := fx.manager.Acquire(context.Background(), "")
	require.ErrorIs(t, err, realtime.ErrMissingSelf)
}

func TestSessionManagerPrimesAndFollowsFeed(t *testing.T) {
	fx := newManagerFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.profiles.Upsert(ctx, &models.Profile{ID: "bob", Username: "bob", DisplayName: "Bob"}))

	_, err := fx.messaging.Send(ctx, "bob", dto.MessageSendRequest{ReceiverID: "alice", Content: "before login"})
	require.NoError(t, err)

	session, release, err := fx.manager.Acquire(ctx, "alice")
	require.NoError(t, err)
	defer release()
	require.Equal(t, 1, session.UnreadCount("bob"))
	require.Len(t, session.Notifications(), 1)

	view, err := session.OpenConversations(ctx)
	require.NoError(t, err)
	defer view.Close()

	require.Eventually(t, func() bool { return fx.broker.Subscribers() > 0 }, waitFor, tick)
	_, err = fx.messaging.Send(ctx, "bob", dto.MessageSendRequest{ReceiverID: "alice", Content: "after login"})
	require.NoError(t, err)

	snapshot := waitForSnapshot(t, view, func(s realtime.Snapshot) bool {
		return s.UnreadMessages == 2 && len(s.Conversations) == 1 && s.Conversations[0].PartnerProfile != nil
	})
	require.Equal(t, "Bob", snapshot.Conversations[0].PartnerProfile.DisplayName)
}

func TestSessionManagerMarkReadReachesStore(t *testing.T) {
	fx := newManagerFixture(t)
	ctx := context.Background()

	_, err := fx.messaging.Send(ctx, "bob", dto.MessageSendRequest{ReceiverID: "alice", Content: "one"})
	require.NoError(t, err)
	_, err = fx.messaging.Send(ctx, "bob", dto.MessageSendRequest{ReceiverID: "alice", Content: "two"})
	require.NoError(t, err)

	session, release, err := fx.manager.Acquire(ctx, "alice")
	require.NoError(t, err)
	defer release()

	flipped, err := session.MarkConversationRead(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, 2, flipped)
	require.Equal(t, realtime.ReadStateClean, session.ReadState("bob"))

	thread, err := fx.messaging.ListThread(ctx, "alice", "bob")
	require.NoError(t, err)
	for _, message := range thread {
		require.True(t, message.Read)
	}

	flipped, err = session.MarkAllNotificationsRead(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, flipped)
}

func TestSessionManagerToggleCommitsThroughEngagement(t *testing.T) {
	fx := newManagerFixture(t)
	ctx := context.Background()

	session, release, err := fx.manager.Acquire(ctx, "alice")
	require.NoError(t, err)
	defer release()

	key := realtime.ToggleKey{Kind: models.RelationUpvote, TargetID: "post-9"}
	state, err := session.Toggle(ctx, key)
	require.NoError(t, err)
	require.Equal(t, realtime.ToggleState{Active: true, Count: 1}, state)

	state, err = session.Toggle(ctx, key)
	require.NoError(t, err)
	require.Equal(t, realtime.ToggleState{Active: false, Count: 0}, state)
}

func TestSessionManagerEndOnLogout(t *testing.T) {
	fx := newManagerFixture(t)
	session, release, err := fx.manager.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	fx.manager.End("alice")
	require.True(t, session.Ended())
	require.Zero(t, fx.manager.Active())
	release()

	_, err = session.MarkConversationRead(context.Background(), "bob")
	require.ErrorIs(t, err, realtime.ErrSessionEnded)
}
