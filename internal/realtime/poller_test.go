package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestPollerPollOnceForwardsAsPollEvents(t *testing.T) {
	recorder := &sinkRecorder{}
	fetch := func(ctx context.Context) ([]ChangeEvent, error) {
		return []ChangeEvent{
			{Record: RecordMessage, Message: ptrMessage(message("1", "bob", "alice", 1, false))},
		}, nil
	}
	poller := NewPoller(time.Minute, fetch, recorder.sink, nil, "conversations", testLogger())

	require.NoError(t, poller.PollOnce(context.Background()))
	events := recorder.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, SourcePoll, events[0].Source)
	require.Equal(t, ChangeUpdate, events[0].Kind)
}

func TestPollerFetchErrorIsReturned(t *testing.T) {
	fetch := func(ctx context.Context) ([]ChangeEvent, error) {
		return nil, errors.New("offline")
	}
	poller := NewPoller(time.Minute, fetch, (&sinkRecorder{}).sink, nil, "conversations", testLogger())
	require.Error(t, poller.PollOnce(context.Background()))
}

func TestPollerRunPollsImmediatelyAndOnTicks(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context) ([]ChangeEvent, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}
	poller := NewPoller(10*time.Millisecond, fetch, (&sinkRecorder{}).sink, nil, "notifications", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, timeout, tick)
	cancel()
	<-done
}

func TestPollerAbandonsSlowFetch(t *testing.T) {
	var calls int32
	recorder := &sinkRecorder{}
	fetch := func(ctx context.Context) ([]ChangeEvent, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			<-ctx.Done()
			return []ChangeEvent{MessageEvent(ChangeUpdate, SourcePoll, message("stale", "bob", "alice", 1, false))}, nil
		}
		return []ChangeEvent{MessageEvent(ChangeUpdate, SourcePoll, message("fresh", "bob", "alice", 2, false))}, nil
	}
	poller := NewPoller(20*time.Millisecond, fetch, recorder.sink, nil, "thread", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(recorder.snapshot()) > 0 }, timeout, tick)
	cancel()
	<-done

	for _, event := range recorder.snapshot() {
		require.Equal(t, "fresh", event.RecordID())
	}
}

func TestPollerHonoursLimiter(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	poller := NewPoller(time.Minute, func(ctx context.Context) ([]ChangeEvent, error) {
		return nil, nil
	}, (&sinkRecorder{}).sink, limiter, "conversations", testLogger())

	require.NoError(t, poller.PollOnce(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, poller.PollOnce(ctx))
}
