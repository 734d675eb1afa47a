package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMessageInsert(t *testing.T) {
	payload := []byte(`{
		"eventType": "INSERT",
		"table": "messages",
		"new": {"id": "m1", "sender_id": "bob", "receiver_id": "alice", "content": "hi", "read": false, "created_at": "2024-05-01T12:00:00Z"}
	}`)

	event, err := Normalize(payload)
	require.NoError(t, err)
	require.Equal(t, ChangeInsert, event.Kind)
	require.Equal(t, RecordMessage, event.Record)
	require.Equal(t, SourceFeed, event.Source)
	require.Equal(t, "m1", event.Message.ID)
	require.Equal(t, "bob", event.Message.SenderID)
	require.Equal(t, baseTime, event.Message.CreatedAt.UTC())
}

func TestNormalizeNotificationUpdateWithoutType(t *testing.T) {
	payload := []byte(`{"table": "notifications", "record": {"id": "n1", "user_id": "alice", "type": "like", "read": true}}`)

	event, err := Normalize(payload)
	require.NoError(t, err)
	require.Equal(t, ChangeUpdate, event.Kind)
	require.Equal(t, RecordNotification, event.Record)
	require.True(t, event.Notification.Read)
}

func TestNormalizeRejectsInvalidPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"missing table":  `{"new": {"id": "m1"}}`,
		"missing record": `{"table": "messages"}`,
		"record no id":   `{"table": "messages", "new": {"content": "x"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize([]byte(payload))
			require.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}

func TestNormalizeRejectsUnsupportedEvents(t *testing.T) {
	_, err := Normalize([]byte(`{"event_type": "DELETE", "table": "messages", "new_record": {"id": "m1"}}`))
	require.ErrorIs(t, err, ErrUnsupportedEvent)

	_, err = Normalize([]byte(`{"event_type": "INSERT", "table": "posts", "new_record": {"id": "p1"}}`))
	require.ErrorIs(t, err, ErrUnsupportedEvent)
}

func TestEncodeRoundTripsThroughNormalize(t *testing.T) {
	original := NotificationEvent(ChangeInsert, SourceLocal, notification("n1", "alice", 1, false))

	payload, err := Encode(original, "node-a")
	require.NoError(t, err)

	decoded, err := Normalize(payload)
	require.NoError(t, err)
	require.Equal(t, "node-a", decoded.Origin)
	require.Equal(t, ChangeInsert, decoded.Kind)
	require.Equal(t, "n1", decoded.Notification.ID)
	require.Equal(t, "alice", decoded.Notification.UserID)

	_, err = Encode(ChangeEvent{Record: RecordMessage}, "node-a")
	require.ErrorIs(t, err, ErrInvalidEnvelope)
}
