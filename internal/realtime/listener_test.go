package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type feedStub struct {
	mu            sync.Mutex
	subscriptions []*subscriptionStub
	failures      int
}

type subscriptionStub struct {
	events    chan ChangeEvent
	closeOnce sync.Once
}

func (s *subscriptionStub) Events() <-chan ChangeEvent {
	return s.events
}

func (s *subscriptionStub) Close() error {
	s.drop()
	return nil
}

func (s *subscriptionStub) drop() {
	s.closeOnce.Do(func() { close(s.events) })
}

func (f *feedStub) Subscribe(ctx context.Context, scope Scope) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("feed unavailable")
	}
	sub := &subscriptionStub{events: make(chan ChangeEvent, 8)}
	f.subscriptions = append(f.subscriptions, sub)
	return sub, nil
}

func (f *feedStub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscriptions)
}

func (f *feedStub) latest() *subscriptionStub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions[len(f.subscriptions)-1]
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *sinkRecorder) sink(ctx context.Context, event ChangeEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return true
}

func (r *sinkRecorder) snapshot() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeEvent(nil), r.events...)
}

func TestListenerFiltersByScope(t *testing.T) {
	feed := &feedStub{}
	recorder := &sinkRecorder{}
	scope := Scope{SelfID: "alice", PartnerID: "bob", Records: []RecordKind{RecordMessage}}
	listener := NewListener(feed, scope, recorder.sink, 10*time.Millisecond, "thread", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	require.Eventually(t, func() bool { return feed.count() == 1 }, timeout, tick)
	sub := feed.latest()
	sub.events <- MessageEvent(ChangeInsert, "", message("1", "bob", "alice", 1, false))
	sub.events <- MessageEvent(ChangeInsert, SourceFeed, message("2", "carol", "alice", 2, false))
	sub.events <- NotificationEvent(ChangeInsert, SourceFeed, notification("n1", "alice", 3, false))
	sub.events <- MessageEvent(ChangeInsert, SourceFeed, message("3", "alice", "bob", 4, false))

	require.Eventually(t, func() bool { return len(recorder.snapshot()) == 2 }, timeout, tick)
	events := recorder.snapshot()
	require.Equal(t, "1", events[0].RecordID())
	require.Equal(t, SourceFeed, events[0].Source)
	require.Equal(t, "3", events[1].RecordID())
}

func TestListenerResubscribesAfterDrop(t *testing.T) {
	feed := &feedStub{failures: 1}
	recorder := &sinkRecorder{}
	scope := Scope{SelfID: "alice"}
	listener := NewListener(feed, scope, recorder.sink, 5*time.Millisecond, "conversations", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		listener.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return feed.count() == 1 }, timeout, tick)
	feed.latest().drop()
	require.Eventually(t, func() bool { return feed.count() == 2 }, timeout, tick)

	feed.latest().events <- MessageEvent(ChangeInsert, SourceFeed, message("1", "bob", "alice", 1, false))
	require.Eventually(t, func() bool { return len(recorder.snapshot()) == 1 }, timeout, tick)

	cancel()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("listener did not stop")
	}
}

func TestListenerWithoutFeedReturns(t *testing.T) {
	listener := NewListener(nil, Scope{SelfID: "alice"}, (&sinkRecorder{}).sink, 0, "conversations", testLogger())
	listener.Run(context.Background())
}

func TestScopeMatches(t *testing.T) {
	conversations := Scope{SelfID: "alice", Records: []RecordKind{RecordMessage}}
	require.True(t, conversations.Matches(MessageEvent(ChangeInsert, SourceFeed, message("1", "bob", "alice", 1, false))))
	require.False(t, conversations.Matches(MessageEvent(ChangeInsert, SourceFeed, message("2", "bob", "carol", 1, false))))
	require.False(t, conversations.Matches(NotificationEvent(ChangeInsert, SourceFeed, notification("n", "alice", 1, false))))

	notifications := Scope{SelfID: "alice", Records: []RecordKind{RecordNotification}}
	require.True(t, notifications.Matches(NotificationEvent(ChangeInsert, SourceFeed, notification("n", "alice", 1, false))))
	require.False(t, notifications.Matches(NotificationEvent(ChangeInsert, SourceFeed, notification("n", "bob", 1, false))))

	require.False(t, Scope{}.Matches(MessageEvent(ChangeInsert, SourceFeed, message("1", "bob", "alice", 1, false))))
}
