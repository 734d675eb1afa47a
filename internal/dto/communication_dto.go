package dto

import (
	"time"

	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/realtime"
)

// MessageSendRequest is the payload to send a direct message.
type MessageSendRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required,max=64"`
	Content    string `json:"content" validate:"required,min=1,max=4000"`
}

// ThreadQuery pages back through a conversation.
type ThreadQuery struct {
	Before *time.Time `query:"before"`
	Limit  int        `query:"limit" validate:"omitempty,min=1,max=500"`
}

// MarkConversationReadRequest optionally bounds a mark-read call to a message the client has seen.
type MarkConversationReadRequest struct {
	UpToMessageID string `json:"up_to_message_id" validate:"omitempty,max=64"`
}

// MessageResponse is the serialized representation of a direct message.
type MessageResponse struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewMessageResponse converts a model into a DTO.
func NewMessageResponse(message models.Message) MessageResponse {
	return MessageResponse{
		ID:         message.ID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		Content:    message.Content,
		Read:       message.Read,
		CreatedAt:  message.CreatedAt,
	}
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// ProfileResponse is the public profile embedded in conversations.
type ProfileResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// NewProfileResponse converts a profile model.
func NewProfileResponse(profile models.Profile) ProfileResponse {
	return ProfileResponse{
		ID:          profile.ID,
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
	}
}

// ConversationResponse summarises the messages exchanged with one partner.
type ConversationResponse struct {
	PartnerID   string           `json:"partner_id"`
	Partner     *ProfileResponse `json:"partner,omitempty"`
	LastMessage MessageResponse  `json:"last_message"`
	UnreadCount int              `json:"unread_count"`
}

// NewConversationResponse converts an aggregated summary.
func NewConversationResponse(summary realtime.ConversationSummary) ConversationResponse {
	response := ConversationResponse{
		PartnerID:   summary.PartnerID,
		LastMessage: NewMessageResponse(summary.LastMessage),
		UnreadCount: summary.UnreadCount,
	}
	if summary.PartnerProfile != nil {
		partner := NewProfileResponse(*summary.PartnerProfile)
		response.Partner = &partner
	}
	return response
}

// NewConversationResponseSlice converts summaries in order.
func NewConversationResponseSlice(summaries []realtime.ConversationSummary) []ConversationResponse {
	out := make([]ConversationResponse, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, NewConversationResponse(summary))
	}
	return out
}

// ReadResult reports how many records a read-marking call flipped.
type ReadResult struct {
	Updated int `json:"updated"`
}

// NotificationCreateRequest describes the payload to create a notification.
type NotificationCreateRequest struct {
	UserID   string                 `json:"user_id" validate:"required,max=64"`
	Type     string                 `json:"type" validate:"required,oneof=like reply follow complaint event message"`
	Title    string                 `json:"title" validate:"omitempty,max=255"`
	Message  string                 `json:"message" validate:"required,min=1,max=2000"`
	Link     string                 `json:"link" validate:"omitempty,max=512"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title,omitempty"`
	Message   string                 `json:"message"`
	Link      string                 `json:"link,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		Type:      string(model.Type),
		Title:     model.Title,
		Message:   model.Message,
		Link:      model.Link,
		Metadata:  model.Metadata,
		Read:      model.Read,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// NotificationListResponse is a page of notifications plus the unread total.
type NotificationListResponse struct {
	Items       []NotificationResponse `json:"items"`
	UnreadCount int64                  `json:"unread_count"`
}

// RelationUpdateRequest sets a like, upvote or follow.
type RelationUpdateRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// RelationStateResponse is the membership plus the target's total.
type RelationStateResponse struct {
	Kind     string `json:"kind"`
	TargetID string `json:"target_id"`
	Active   bool   `json:"active"`
	Count    int64  `json:"count"`
}

// NewRelationStateResponse converts a toggle state.
func NewRelationStateResponse(key realtime.ToggleKey, state realtime.ToggleState) RelationStateResponse {
	return RelationStateResponse{
		Kind:     string(key.Kind),
		TargetID: key.TargetID,
		Active:   state.Active,
		Count:    state.Count,
	}
}

// FollowStatsResponse counts a user's followers and followees.
type FollowStatsResponse struct {
	UserID    string `json:"user_id"`
	Followers int64  `json:"followers"`
	Following int64  `json:"following"`
}
