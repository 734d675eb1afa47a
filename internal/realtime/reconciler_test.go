package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconcilerCleanConversationSkipsStore(t *testing.T) {
	cache := NewCache()
	cache.Apply(MessageEvent(ChangeInsert, SourceFeed, message("m1", "bob", "alice", 1, true)))
	store := &readStoreStub{}
	reconciler := NewReconciler("alice", cache, store, testLogger())

	require.Equal(t, ReadStateClean, reconciler.State("bob"))
	flipped, err := reconciler.MarkConversationRead(context.Background(), "bob")
	require.NoError(t, err)
	require.Zero(t, flipped)
	require.Zero(t, store.callCount())
}

func TestReconcilerMarkTwiceIsIdempotent(t *testing.T) {
	cache := NewCache()
	cache.Apply(MessageEvent(ChangeInsert, SourceFeed, message("m1", "bob", "alice", 1, false)))
	cache.Apply(MessageEvent(ChangeInsert, SourceFeed, message("m2", "bob", "alice", 2, false)))
	store := &readStoreStub{}
	reconciler := NewReconciler("alice", cache, store, testLogger())

	flipped, err := reconciler.MarkConversationRead(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, 2, flipped)
	require.Zero(t, reconciler.UnreadCount("bob"))

	flipped, err = reconciler.MarkConversationRead(context.Background(), "bob")
	require.NoError(t, err)
	require.Zero(t, flipped)
	require.Zero(t, reconciler.UnreadCount("bob"))
	require.Equal(t, 1, store.callCount())
}

func TestReconcilerKeepsMessagesArrivingDuringRequest(t *testing.T) {
	cache := NewCache()
	first := message("1", "bob", "alice", 1, false)
	cache.Apply(MessageEvent(ChangeInsert, SourceFeed, first))

	store := &readStoreStub{entered: make(chan struct{}, 1), release: make(chan struct{})}
	reconciler := NewReconciler("alice", cache, store, testLogger())

	var flipped int
	var markErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		flipped, markErr = reconciler.MarkConversationRead(context.Background(), "bob")
	}()

	<-store.entered
	cache.Apply(MessageEvent(ChangeInsert, SourceFeed, message("2", "bob", "alice", 2, false)))
	close(store.release)
	<-done

	require.NoError(t, markErr)
	require.Equal(t, 1, flipped)
	require.Equal(t, VersionOfMessage(first), store.lastCall().cutoff)

	unread := cache.UnreadFrom("alice", "bob")
	require.Len(t, unread, 1)
	require.Equal(t, "2", unread[0].ID)
	require.Equal(t, ReadStateDirty, reconciler.State("bob"))
}

func TestReconcilerFailureLeavesUnreadState(t *testing.T) {
	cache := NewCache()
	cache.Apply(MessageEvent(ChangeInsert, SourceFeed, message("m1", "bob", "alice", 1, false)))
	store := &readStoreStub{err: errors.New("boom")}
	reconciler := NewReconciler("alice", cache, store, testLogger())

	_, err := reconciler.MarkConversationRead(context.Background(), "bob")
	require.Error(t, err)
	require.Equal(t, 1, reconciler.UnreadCount("bob"))
}

func TestReconcilerConcurrentCallsShareRequest(t *testing.T) {
	cache := NewCache()
	cache.Apply(MessageEvent(ChangeInsert, SourceFeed, message("m1", "bob", "alice", 1, false)))
	store := &readStoreStub{entered: make(chan struct{}, 4), release: make(chan struct{})}
	reconciler := NewReconciler("alice", cache, store, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reconciler.MarkConversationRead(context.Background(), "bob")
			require.NoError(t, err)
		}()
	}

	<-store.entered
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	require.LessOrEqual(t, store.callCount(), 3)
	require.Zero(t, reconciler.UnreadCount("bob"))
}

func TestReconcilerNotifications(t *testing.T) {
	cache := NewCache()
	cache.Apply(NotificationEvent(ChangeInsert, SourceFeed, notification("n1", "alice", 1, false)))
	cache.Apply(NotificationEvent(ChangeInsert, SourceFeed, notification("n2", "alice", 2, false)))
	store := &readStoreStub{}
	reconciler := NewReconciler("alice", cache, store, testLogger())

	flipped, err := reconciler.MarkNotificationRead(context.Background(), "n1")
	require.NoError(t, err)
	require.Equal(t, 1, flipped)

	flipped, err = reconciler.MarkNotificationRead(context.Background(), "n1")
	require.NoError(t, err)
	require.Zero(t, flipped)
	require.Equal(t, 1, store.callCount())

	flipped, err = reconciler.MarkAllNotificationsRead(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, flipped)
	require.Equal(t, "n2", store.lastCall().cutoff.ID)

	flipped, err = reconciler.MarkAllNotificationsRead(context.Background())
	require.NoError(t, err)
	require.Zero(t, flipped)
	require.Equal(t, 2, store.callCount())
	require.Zero(t, cache.UnreadNotifications("alice"))
}
