package dto

import "github.com/noah-isme/gema-community-api/internal/realtime"

// Sync socket frame types.
const (
	SyncFrameOpen         = "open"
	SyncFrameClose        = "close"
	SyncFrameToggle       = "toggle"
	SyncFrameMarkRead     = "mark_read"
	SyncFrameSnapshot     = "snapshot"
	SyncFrameToggleResult = "toggle_result"
	SyncFrameError        = "error"
)

// SyncClientFrame is a command sent by a client over the sync socket.
type SyncClientFrame struct {
	Type           string `json:"type" validate:"required,oneof=open close toggle mark_read"`
	View           string `json:"view" validate:"omitempty,oneof=conversations thread notifications"`
	PartnerID      string `json:"partner_id" validate:"omitempty,max=64"`
	Kind           string `json:"kind" validate:"omitempty,oneof=like reply_like upvote follow"`
	TargetID       string `json:"target_id" validate:"omitempty,max=64"`
	NotificationID string `json:"notification_id" validate:"omitempty,max=64"`
	All            bool   `json:"all"`
}

// SyncServerFrame is pushed by the server over the sync socket.
type SyncServerFrame struct {
	Type     string                 `json:"type"`
	Snapshot *SyncSnapshot          `json:"snapshot,omitempty"`
	Toggle   *RelationStateResponse `json:"toggle,omitempty"`
	Pending  bool                   `json:"pending,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// SyncSnapshot is the client-facing form of a view snapshot.
type SyncSnapshot struct {
	View                string                 `json:"view"`
	PartnerID           string                 `json:"partner_id,omitempty"`
	Conversations       []ConversationResponse `json:"conversations,omitempty"`
	Thread              []MessageResponse      `json:"thread,omitempty"`
	Notifications       []NotificationResponse `json:"notifications,omitempty"`
	UnreadMessages      int                    `json:"unread_messages"`
	UnreadNotifications int                    `json:"unread_notifications"`
}

// NewSyncSnapshot converts a session snapshot.
func NewSyncSnapshot(snapshot realtime.Snapshot) *SyncSnapshot {
	out := &SyncSnapshot{
		View:                string(snapshot.View),
		PartnerID:           snapshot.PartnerID,
		UnreadMessages:      snapshot.UnreadMessages,
		UnreadNotifications: snapshot.UnreadNotifications,
	}
	if snapshot.Conversations != nil {
		out.Conversations = NewConversationResponseSlice(snapshot.Conversations)
	}
	if snapshot.Thread != nil {
		out.Thread = NewMessageResponseSlice(snapshot.Thread)
	}
	if snapshot.Notifications != nil {
		out.Notifications = NewNotificationResponseSlice(snapshot.Notifications)
	}
	return out
}
