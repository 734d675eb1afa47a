package realtime

import (
	"sort"

	"github.com/noah-isme/gema-community-api/internal/models"
)

// ConversationSummary is derived from the messages between self and one partner.
type ConversationSummary struct {
	PartnerID      string          `json:"partner_id"`
	PartnerProfile *models.Profile `json:"partner_profile,omitempty"`
	LastMessage    models.Message  `json:"last_message"`
	UnreadCount    int             `json:"unread_count"`
}

// Aggregate folds messages into one summary per partner, newest conversation first.
// Duplicate deliveries of the same message id are merged before counting, so any
// permutation of the input yields the same result.
func Aggregate(messages []models.Message, selfID string) []ConversationSummary {
	unique := make(map[string]models.Message, len(messages))
	for _, message := range messages {
		if message.ID == "" || !message.Involves(selfID) {
			continue
		}
		if stored, ok := unique[message.ID]; ok {
			message, _ = mergeMessage(stored, message)
		}
		unique[message.ID] = message
	}

	summaries := make(map[string]*ConversationSummary)
	for _, message := range unique {
		partnerID := message.PartnerOf(selfID)
		summary, ok := summaries[partnerID]
		if !ok {
			summary = &ConversationSummary{PartnerID: partnerID, LastMessage: message}
			summaries[partnerID] = summary
		} else if VersionOfMessage(summary.LastMessage).Less(VersionOfMessage(message)) {
			summary.LastMessage = message
		}
		if message.ReceiverID == selfID && !message.Read {
			summary.UnreadCount++
		}
	}

	out := make([]ConversationSummary, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool {
		left, right := VersionOfMessage(out[i].LastMessage), VersionOfMessage(out[j].LastMessage)
		if right.Less(left) {
			return true
		}
		if left.Less(right) {
			return false
		}
		return out[i].PartnerID < out[j].PartnerID
	})
	return out
}

// TotalUnread sums unread counts across summaries.
func TotalUnread(summaries []ConversationSummary) int {
	total := 0
	for _, summary := range summaries {
		total += summary.UnreadCount
	}
	return total
}
