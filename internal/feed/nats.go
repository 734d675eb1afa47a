package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/realtime"
)

// NATSFeed publishes change envelopes to NATS subjects and relays other nodes' envelopes into a
// local publisher. Every node needs every change, so no queue group is used.
type NATSFeed struct {
	conn   *nats.Conn
	prefix string
	relay  relay
	logger zerolog.Logger
}

// NewNATSFeed constructs a NATS feed using subjects named "<prefix>.<table>".
func NewNATSFeed(conn *nats.Conn, prefix, nodeID string, target Publisher, logger zerolog.Logger) *NATSFeed {
	logger = logger.With().Str("component", "feed_nats").Logger()
	return &NATSFeed{
		conn:   conn,
		prefix: strings.ReplaceAll(prefix, ":", "."),
		relay:  relay{transport: "nats", nodeID: nodeID, target: target, logger: logger},
		logger: logger,
	}
}

func (f *NATSFeed) subject(record realtime.RecordKind) string {
	return f.prefix + "." + string(record)
}

// Publish implements Publisher.
func (f *NATSFeed) Publish(ctx context.Context, event realtime.ChangeEvent) error {
	payload, err := realtime.Encode(event, f.relay.nodeID)
	if err != nil {
		return err
	}
	if err := f.conn.Publish(f.subject(event.Record), payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Start subscribes to "<prefix>.*" and drains the subscription when ctx is done.
func (f *NATSFeed) Start(ctx context.Context) error {
	sub, err := f.conn.Subscribe(f.prefix+".*", func(msg *nats.Msg) {
		f.relay.deliver(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			f.logger.Warn().Err(err).Msg("failed to drain change feed nats subscription")
		}
	}()
	return nil
}
