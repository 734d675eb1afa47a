package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/observability"
)

const defaultRetryInterval = 5 * time.Second

// Subscription is a live change-feed stream. Events is closed when the stream drops.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Feed opens change-feed subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, scope Scope) (Subscription, error)
}

// Sink receives events for the session queue. It returns false when the receiver is gone.
type Sink func(ctx context.Context, event ChangeEvent) bool

// Listener forwards feed events matching one scope into a sink and resubscribes after drops.
// Drops are never surfaced; the poller covers the gap until the next attempt.
type Listener struct {
	feed   Feed
	scope  Scope
	sink   Sink
	retry  time.Duration
	view   string
	logger zerolog.Logger
}

// NewListener constructs a listener for one view.
func NewListener(feed Feed, scope Scope, sink Sink, retry time.Duration, view string, logger zerolog.Logger) *Listener {
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	return &Listener{
		feed:   feed,
		scope:  scope,
		sink:   sink,
		retry:  retry,
		view:   view,
		logger: logger.With().Str("component", "realtime_listener").Str("view", view).Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	if l.feed == nil {
		return
	}

	for {
		sub, err := l.feed.Subscribe(ctx, l.scope)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Debug().Err(err).Msg("change feed subscribe failed")
			observability.RealtimeFeedDrops().WithLabelValues(l.view).Inc()
		} else {
			l.consume(ctx, sub)
			if err := sub.Close(); err != nil {
				l.logger.Debug().Err(err).Msg("failed to close change feed subscription")
			}
			if ctx.Err() != nil {
				return
			}
			l.logger.Debug().Msg("change feed subscription dropped")
			observability.RealtimeFeedDrops().WithLabelValues(l.view).Inc()
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *Listener) consume(ctx context.Context, sub Subscription) {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !l.scope.Matches(event) {
				continue
			}
			if event.Source == "" {
				event.Source = SourceFeed
			}
			if !l.sink(ctx, event) {
				return
			}
		}
	}
}
