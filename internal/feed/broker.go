// Package feed carries change events between nodes and into per-session listeners.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/realtime"
)

const defaultBufferSize = 64

// ErrBrokerClosed is returned by Subscribe once the broker was closed.
var ErrBrokerClosed = errors.New("feed broker closed")

// Publisher sends a change event to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event realtime.ChangeEvent) error
}

// Broker is an in-process change feed. External transports relay into it, and sessions
// subscribe to it as their realtime.Feed.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[*subscription]struct{}
	buffer      int
	closed      bool
	logger      zerolog.Logger
}

type subscription struct {
	broker    *Broker
	scope     realtime.Scope
	events    chan realtime.ChangeEvent
	closeOnce sync.Once
}

// NewBroker constructs a broker whose subscriptions buffer up to buffer events.
func NewBroker(buffer int, logger zerolog.Logger) *Broker {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	return &Broker{
		subscribers: make(map[*subscription]struct{}),
		buffer:      buffer,
		logger:      logger.With().Str("component", "feed_broker").Logger(),
	}
}

// Subscribe implements realtime.Feed.
func (b *Broker) Subscribe(ctx context.Context, scope realtime.Scope) (realtime.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscription{
		broker: b,
		scope:  scope,
		events: make(chan realtime.ChangeEvent, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	b.subscribers[sub] = struct{}{}

	return sub, nil
}

// Publish delivers event to every matching subscriber. A full subscriber misses the event;
// its poller picks the record up on the next tick.
func (b *Broker) Publish(ctx context.Context, event realtime.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if !sub.scope.Matches(event) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			b.logger.Warn().Str("record_id", event.RecordID()).Str("user_id", sub.scope.SelfID).Msg("dropping change event for slow subscriber")
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.events)
	}
}

// Close drops every subscription, which ends their listeners' current stream, and rejects
// later subscriptions.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub.events)
	}
}

func (s *subscription) Events() <-chan realtime.ChangeEvent {
	return s.events
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() { s.broker.unsubscribe(s) })
	return nil
}
