// Package realtime keeps a per-session view of conversations and notifications consistent
// across change-feed events, polling snapshots and local optimistic mutations.
package realtime

import (
	"time"

	"github.com/noah-isme/gema-community-api/internal/models"
)

// ChangeKind is the row operation a change event describes.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
)

// RecordKind names the table a change event belongs to.
type RecordKind string

const (
	RecordMessage      RecordKind = "messages"
	RecordNotification RecordKind = "notifications"
)

// EventSource records which producer delivered an event.
type EventSource string

const (
	SourceFeed  EventSource = "feed"
	SourcePoll  EventSource = "poll"
	SourceLocal EventSource = "local"
)

// ChangeEvent is the normalized form of a single insert or update for one record.
// Exactly one of Message or Notification is set, matching Record.
type ChangeEvent struct {
	Kind         ChangeKind
	Record       RecordKind
	Source       EventSource
	Origin       string
	Message      *models.Message
	Notification *models.Notification

	// applied is closed by the apply loop once every event queued before it was applied.
	applied chan struct{}
}

// MessageEvent wraps a message record into a change event.
func MessageEvent(kind ChangeKind, source EventSource, message models.Message) ChangeEvent {
	return ChangeEvent{Kind: kind, Record: RecordMessage, Source: source, Message: &message}
}

// NotificationEvent wraps a notification record into a change event.
func NotificationEvent(kind ChangeKind, source EventSource, notification models.Notification) ChangeEvent {
	return ChangeEvent{Kind: kind, Record: RecordNotification, Source: source, Notification: &notification}
}

// RecordID returns the id of the carried record, or "" when the event is empty.
func (e ChangeEvent) RecordID() string {
	switch e.Record {
	case RecordMessage:
		if e.Message != nil {
			return e.Message.ID
		}
	case RecordNotification:
		if e.Notification != nil {
			return e.Notification.ID
		}
	}
	return ""
}

// Scope selects the events one view is interested in.
type Scope struct {
	SelfID    string
	PartnerID string
	Records   []RecordKind
}

// Matches reports whether the event belongs to the scope.
func (s Scope) Matches(event ChangeEvent) bool {
	if s.SelfID == "" || event.RecordID() == "" {
		return false
	}
	if len(s.Records) > 0 && !containsRecord(s.Records, event.Record) {
		return false
	}

	switch event.Record {
	case RecordMessage:
		message := event.Message
		if !message.Involves(s.SelfID) {
			return false
		}
		if s.PartnerID == "" {
			return true
		}
		return message.PartnerOf(s.SelfID) == s.PartnerID
	case RecordNotification:
		return s.PartnerID == "" && event.Notification.UserID == s.SelfID
	}
	return false
}

func containsRecord(records []RecordKind, record RecordKind) bool {
	for _, candidate := range records {
		if candidate == record {
			return true
		}
	}
	return false
}

// Version orders records causally: by creation time, then lexically by id.
type Version struct {
	At time.Time `json:"at"`
	ID string    `json:"id"`
}

// VersionOfMessage returns the ordering version of a message.
func VersionOfMessage(message models.Message) Version {
	return Version{At: message.CreatedAt, ID: message.ID}
}

// VersionOfNotification returns the ordering version of a notification.
func VersionOfNotification(notification models.Notification) Version {
	return Version{At: notification.CreatedAt, ID: notification.ID}
}

// Less reports whether v sorts strictly before other.
func (v Version) Less(other Version) bool {
	if !v.At.Equal(other.At) {
		return v.At.Before(other.At)
	}
	return v.ID < other.ID
}

// Covers reports whether other is at or below v.
func (v Version) Covers(other Version) bool {
	return !v.Less(other)
}

// IsZero reports whether the version is unset.
func (v Version) IsZero() bool {
	return v.At.IsZero() && v.ID == ""
}
