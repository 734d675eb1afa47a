package feed

import (
	"context"
	"errors"

	"github.com/noah-isme/gema-community-api/internal/realtime"
)

// Fanout publishes each event to several publishers, local broker first.
type Fanout struct {
	publishers []Publisher
}

// NewFanout skips nil publishers.
func NewFanout(publishers ...Publisher) *Fanout {
	out := make([]Publisher, 0, len(publishers))
	for _, publisher := range publishers {
		if publisher != nil {
			out = append(out, publisher)
		}
	}
	return &Fanout{publishers: out}
}

// Publish tries every publisher and joins their errors.
func (f *Fanout) Publish(ctx context.Context, event realtime.ChangeEvent) error {
	var errs []error
	for _, publisher := range f.publishers {
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
