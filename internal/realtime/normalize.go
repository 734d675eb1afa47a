package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/gema-community-api/internal/models"
)

var (
	// ErrInvalidEnvelope indicates the payload is not a recognised change envelope.
	ErrInvalidEnvelope = errors.New("invalid change event envelope")
	// ErrUnsupportedEvent indicates a well-formed event the sync core does not consume (deletes, other tables).
	ErrUnsupportedEvent = errors.New("unsupported change event")
)

const envelopeSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "event_type": {"type": "string"},
    "eventType": {"type": "string"},
    "type": {"type": "string"},
    "table": {"type": "string", "minLength": 1},
    "origin": {"type": "string"},
    "new_record": {"type": "object", "required": ["id"]},
    "record": {"type": "object", "required": ["id"]},
    "new": {"type": "object", "required": ["id"]}
  },
  "required": ["table"],
  "anyOf": [
    {"required": ["new_record"]},
    {"required": ["record"]},
    {"required": ["new"]}
  ]
}`

var envelopeSchema = jsonschema.MustCompileString("change_event.schema.json", envelopeSchemaJSON)

// envelope covers the payload shapes emitted by the store's change feed and by our own publishers.
type envelope struct {
	EventType  string          `json:"event_type"`
	EventTypeC string          `json:"eventType"`
	Type       string          `json:"type"`
	Table      string          `json:"table"`
	Origin     string          `json:"origin,omitempty"`
	NewRecord  json.RawMessage `json:"new_record,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
	New        json.RawMessage `json:"new,omitempty"`
}

func (e envelope) kind() string {
	for _, candidate := range []string{e.EventType, e.EventTypeC, e.Type} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return strings.ToLower(trimmed)
		}
	}
	return ""
}

func (e envelope) payload() json.RawMessage {
	switch {
	case len(e.NewRecord) > 0:
		return e.NewRecord
	case len(e.Record) > 0:
		return e.Record
	default:
		return e.New
	}
}

// Normalize validates a raw change-feed payload and converts it into a ChangeEvent.
func Normalize(payload []byte) (ChangeEvent, error) {
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := envelopeSchema.Validate(doc); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var kind ChangeKind
	switch env.kind() {
	case "insert":
		kind = ChangeInsert
	case "update", "":
		kind = ChangeUpdate
	default:
		return ChangeEvent{}, fmt.Errorf("%w: event type %q", ErrUnsupportedEvent, env.kind())
	}

	event := ChangeEvent{Kind: kind, Source: SourceFeed, Origin: env.Origin}
	switch RecordKind(strings.ToLower(strings.TrimSpace(env.Table))) {
	case RecordMessage:
		var message models.Message
		if err := json.Unmarshal(env.payload(), &message); err != nil {
			return ChangeEvent{}, fmt.Errorf("%w: message record: %v", ErrInvalidEnvelope, err)
		}
		event.Record = RecordMessage
		event.Message = &message
	case RecordNotification:
		var notification models.Notification
		if err := json.Unmarshal(env.payload(), &notification); err != nil {
			return ChangeEvent{}, fmt.Errorf("%w: notification record: %v", ErrInvalidEnvelope, err)
		}
		event.Record = RecordNotification
		event.Notification = &notification
	default:
		return ChangeEvent{}, fmt.Errorf("%w: table %q", ErrUnsupportedEvent, env.Table)
	}

	return event, nil
}

type outboundEnvelope struct {
	EventType string      `json:"event_type"`
	Table     string      `json:"table"`
	Origin    string      `json:"origin,omitempty"`
	SentAt    time.Time   `json:"sent_at"`
	NewRecord interface{} `json:"new_record"`
}

// Encode renders an event in the store's change-feed envelope so that Normalize can read it back.
func Encode(event ChangeEvent, origin string) ([]byte, error) {
	var record interface{}
	switch event.Record {
	case RecordMessage:
		if event.Message == nil {
			return nil, fmt.Errorf("%w: message event without record", ErrInvalidEnvelope)
		}
		record = event.Message
	case RecordNotification:
		if event.Notification == nil {
			return nil, fmt.Errorf("%w: notification event without record", ErrInvalidEnvelope)
		}
		record = event.Notification
	default:
		return nil, fmt.Errorf("%w: record %q", ErrUnsupportedEvent, event.Record)
	}

	kind := event.Kind
	if kind == "" {
		kind = ChangeUpdate
	}

	return json.Marshal(outboundEnvelope{
		EventType: strings.ToUpper(string(kind)),
		Table:     string(event.Record),
		Origin:    origin,
		SentAt:    time.Now().UTC(),
		NewRecord: record,
	})
}
