package feed

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/observability"
	"github.com/noah-isme/gema-community-api/internal/realtime"
)

// relay normalizes payloads received from an external transport and hands them to the local
// broker, dropping echoes of this node's own publishes.
type relay struct {
	transport string
	nodeID    string
	target    Publisher
	logger    zerolog.Logger
}

func (r relay) deliver(ctx context.Context, payload []byte) {
	event, err := realtime.Normalize(payload)
	if err != nil {
		outcome := "invalid"
		if errors.Is(err, realtime.ErrUnsupportedEvent) {
			outcome = "ignored"
		}
		observability.FeedRelayed().WithLabelValues(r.transport, outcome).Inc()
		if outcome == "invalid" {
			r.logger.Warn().Err(err).Msg("invalid change event payload")
		}
		return
	}

	if r.nodeID != "" && event.Origin == r.nodeID {
		observability.FeedRelayed().WithLabelValues(r.transport, "echo").Inc()
		return
	}

	if err := r.target.Publish(ctx, event); err != nil {
		r.logger.Warn().Err(err).Msg("failed to relay change event")
		return
	}
	observability.FeedRelayed().WithLabelValues(r.transport, "delivered").Inc()
}
