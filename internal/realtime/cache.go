package realtime

import (
	"sort"
	"sync"

	"github.com/noah-isme/gema-community-api/internal/models"
)

// Cache is the per-session store of the latest known message and notification records.
// All writes go through merge rules keyed by record id, so the final state does not depend
// on the order in which the feed and the poller deliver records.
type Cache struct {
	mu            sync.RWMutex
	messages      map[string]models.Message
	notifications map[string]models.Notification
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{
		messages:      make(map[string]models.Message),
		notifications: make(map[string]models.Notification),
	}
}

// Apply merges one change event and reports whether the cached state changed.
func (c *Cache) Apply(event ChangeEvent) bool {
	if event.RecordID() == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Record {
	case RecordMessage:
		return c.applyMessageLocked(*event.Message)
	case RecordNotification:
		return c.applyNotificationLocked(*event.Notification)
	}
	return false
}

func (c *Cache) applyMessageLocked(incoming models.Message) bool {
	stored, ok := c.messages[incoming.ID]
	if !ok {
		c.messages[incoming.ID] = incoming
		return true
	}
	merged, changed := mergeMessage(stored, incoming)
	if changed {
		c.messages[incoming.ID] = merged
	}
	return changed
}

func (c *Cache) applyNotificationLocked(incoming models.Notification) bool {
	stored, ok := c.notifications[incoming.ID]
	if !ok {
		c.notifications[incoming.ID] = incoming
		return true
	}
	merged, changed := mergeNotification(stored, incoming)
	if changed {
		c.notifications[incoming.ID] = merged
	}
	return changed
}

// mergeMessage keeps immutable fields from whichever copy has them and treats read as monotonic.
func mergeMessage(stored, incoming models.Message) (models.Message, bool) {
	merged := stored
	changed := false

	if merged.SenderID == "" && incoming.SenderID != "" {
		merged.SenderID = incoming.SenderID
		changed = true
	}
	if merged.ReceiverID == "" && incoming.ReceiverID != "" {
		merged.ReceiverID = incoming.ReceiverID
		changed = true
	}
	if merged.Content == "" && incoming.Content != "" {
		merged.Content = incoming.Content
		changed = true
	}
	if merged.CreatedAt.IsZero() && !incoming.CreatedAt.IsZero() {
		merged.CreatedAt = incoming.CreatedAt
		changed = true
	}
	if incoming.Read && !merged.Read {
		merged.Read = true
		changed = true
	}
	if incoming.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = incoming.UpdatedAt
		changed = true
	}

	return merged, changed
}

func mergeNotification(stored, incoming models.Notification) (models.Notification, bool) {
	merged := stored
	changed := false

	if merged.UserID == "" && incoming.UserID != "" {
		merged.UserID = incoming.UserID
		changed = true
	}
	if merged.Type == "" && incoming.Type != "" {
		merged.Type = incoming.Type
		changed = true
	}
	if merged.Title == "" && incoming.Title != "" {
		merged.Title = incoming.Title
		changed = true
	}
	if merged.Message == "" && incoming.Message != "" {
		merged.Message = incoming.Message
		changed = true
	}
	if merged.Link == "" && incoming.Link != "" {
		merged.Link = incoming.Link
		changed = true
	}
	if merged.Metadata == nil && incoming.Metadata != nil {
		merged.Metadata = incoming.Metadata
		changed = true
	}
	if merged.CreatedAt.IsZero() && !incoming.CreatedAt.IsZero() {
		merged.CreatedAt = incoming.CreatedAt
		changed = true
	}
	if incoming.Read && !merged.Read {
		merged.Read = true
		changed = true
	}
	if incoming.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = incoming.UpdatedAt
		changed = true
	}

	return merged, changed
}

// Messages returns every cached message ordered by version ascending.
func (c *Cache) Messages() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Message, 0, len(c.messages))
	for _, message := range c.messages {
		out = append(out, message)
	}
	sortMessagesAscending(out)
	return out
}

// Thread returns the messages exchanged between self and partner, oldest first.
func (c *Cache) Thread(selfID, partnerID string) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Message, 0)
	for _, message := range c.messages {
		if message.Involves(selfID) && message.PartnerOf(selfID) == partnerID {
			out = append(out, message)
		}
	}
	sortMessagesAscending(out)
	return out
}

// UnreadFrom returns the unread messages partner sent to self.
func (c *Cache) UnreadFrom(selfID, partnerID string) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Message, 0)
	for _, message := range c.messages {
		if isUnreadFrom(message, selfID, partnerID) {
			out = append(out, message)
		}
	}
	sortMessagesAscending(out)
	return out
}

// MarkMessagesRead flips unread messages from partner at or below cutoff and returns how many changed.
func (c *Cache) MarkMessagesRead(selfID, partnerID string, cutoff Version) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	flipped := 0
	for id, message := range c.messages {
		if !isUnreadFrom(message, selfID, partnerID) {
			continue
		}
		if !cutoff.Covers(VersionOfMessage(message)) {
			continue
		}
		message.Read = true
		c.messages[id] = message
		flipped++
	}
	return flipped
}

func isUnreadFrom(message models.Message, selfID, partnerID string) bool {
	return !message.Read && message.ReceiverID == selfID && message.SenderID == partnerID
}

// Notifications returns the cached notifications for user, newest first.
func (c *Cache) Notifications(userID string) []models.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Notification, 0, len(c.notifications))
	for _, notification := range c.notifications {
		if notification.UserID == userID {
			out = append(out, notification)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return VersionOfNotification(out[j]).Less(VersionOfNotification(out[i]))
	})
	return out
}

// Notification returns a single cached notification.
func (c *Cache) Notification(id string) (models.Notification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	notification, ok := c.notifications[id]
	return notification, ok
}

// UnreadNotifications counts unread notifications for user.
func (c *Cache) UnreadNotifications(userID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, notification := range c.notifications {
		if notification.UserID == userID && !notification.Read {
			count++
		}
	}
	return count
}

// LatestUnreadNotification returns the newest unread notification version for user.
func (c *Cache) LatestUnreadNotification(userID string) (Version, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var latest Version
	found := false
	for _, notification := range c.notifications {
		if notification.UserID != userID || notification.Read {
			continue
		}
		version := VersionOfNotification(notification)
		if !found || latest.Less(version) {
			latest = version
			found = true
		}
	}
	return latest, found
}

// MarkNotificationsRead flips the given notifications. Ids not cached are ignored.
func (c *Cache) MarkNotificationsRead(ids ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	flipped := 0
	for _, id := range ids {
		notification, ok := c.notifications[id]
		if !ok || notification.Read {
			continue
		}
		notification.Read = true
		c.notifications[id] = notification
		flipped++
	}
	return flipped
}

// MarkNotificationsReadUpTo flips every unread notification of user at or below cutoff.
func (c *Cache) MarkNotificationsReadUpTo(userID string, cutoff Version) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	flipped := 0
	for id, notification := range c.notifications {
		if notification.UserID != userID || notification.Read {
			continue
		}
		if !cutoff.Covers(VersionOfNotification(notification)) {
			continue
		}
		notification.Read = true
		c.notifications[id] = notification
		flipped++
	}
	return flipped
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages) + len(c.notifications)
}

// Clear drops every cached record.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make(map[string]models.Message)
	c.notifications = make(map[string]models.Notification)
}

func sortMessagesAscending(messages []models.Message) {
	sort.Slice(messages, func(i, j int) bool {
		return VersionOfMessage(messages[i]).Less(VersionOfMessage(messages[j]))
	})
}
