package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultUpstreamRetry     = 5 * time.Second
	defaultHandshakeDeadline = 10 * time.Second
)

// WebSocketFeed consumes an upstream realtime endpoint that streams change envelopes as text
// frames and relays them into a local publisher.
type WebSocketFeed struct {
	url    string
	header http.Header
	retry  time.Duration
	dialer *websocket.Dialer
	relay  relay
	logger zerolog.Logger
}

// NewWebSocketFeed constructs an upstream feed client. header is sent on every handshake.
func NewWebSocketFeed(url string, header http.Header, retry time.Duration, target Publisher, logger zerolog.Logger) *WebSocketFeed {
	if retry <= 0 {
		retry = defaultUpstreamRetry
	}
	logger = logger.With().Str("component", "feed_websocket").Logger()
	return &WebSocketFeed{
		url:    url,
		header: header,
		retry:  retry,
		dialer: &websocket.Dialer{HandshakeTimeout: defaultHandshakeDeadline},
		relay:  relay{transport: "websocket", target: target, logger: logger},
		logger: logger,
	}
}

// Run keeps a connection to the upstream open until ctx is done, reconnecting after drops.
func (f *WebSocketFeed) Run(ctx context.Context) {
	for {
		if err := f.consume(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn().Err(err).Msg("upstream change feed disconnected")
		}

		timer := time.NewTimer(f.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (f *WebSocketFeed) consume(ctx context.Context) error {
	conn, resp, err := f.dialer.DialContext(ctx, f.url, f.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	f.logger.Info().Str("url", f.url).Msg("upstream change feed connected")
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		f.relay.deliver(ctx, payload)
	}
}
