package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message is a direct message between two users. Only Read ever changes after creation.
type Message struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	SenderID   string    `gorm:"size:64;index;index:idx_messages_pair,priority:1" json:"sender_id"`
	ReceiverID string    `gorm:"size:64;index;index:idx_messages_pair,priority:2" json:"receiver_id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Read       bool      `gorm:"not null;default:false;index" json:"read"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BeforeCreate assigns an identifier when the caller did not provide one.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(m.ID) == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// PartnerOf returns the other participant of the message from self's point of view.
func (m Message) PartnerOf(selfID string) string {
	if m.SenderID == selfID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether the user is sender or receiver.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// NotificationType enumerates the server-side triggers that create notifications.
type NotificationType string

const (
	NotificationTypeLike      NotificationType = "like"
	NotificationTypeReply     NotificationType = "reply"
	NotificationTypeFollow    NotificationType = "follow"
	NotificationTypeComplaint NotificationType = "complaint"
	NotificationTypeEvent     NotificationType = "event"
	NotificationTypeMessage   NotificationType = "message"
)

// Valid reports whether the type is one of the known notification kinds.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeLike, NotificationTypeReply, NotificationTypeFollow,
		NotificationTypeComplaint, NotificationTypeEvent, NotificationTypeMessage:
		return true
	}
	return false
}

// Notification is targeted to a single user and is never deleted by the sync core.
type Notification struct {
	ID        string            `gorm:"primaryKey;size:64" json:"id"`
	UserID    string            `gorm:"size:64;index" json:"user_id"`
	Type      NotificationType  `gorm:"size:32;not null" json:"type"`
	Title     string            `gorm:"size:255" json:"title"`
	Message   string            `gorm:"type:text" json:"message"`
	Link      string            `gorm:"size:512" json:"link"`
	Metadata  datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	Read      bool              `gorm:"not null;default:false;index" json:"read"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// BeforeCreate assigns an identifier when the caller did not provide one.
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(n.ID) == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
