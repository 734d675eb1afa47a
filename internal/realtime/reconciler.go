package realtime

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/gema-community-api/internal/observability"
)

// ReadState is the per-conversation read state.
type ReadState string

const (
	ReadStateClean ReadState = "clean"
	ReadStateDirty ReadState = "dirty"
)

// ReadStore performs the remote read-receipt mutations. Each call must only touch rows that
// are still unread and at or below cutoff.
type ReadStore interface {
	MarkConversationRead(ctx context.Context, selfID, partnerID string, cutoff Version) (int64, error)
	MarkNotificationsRead(ctx context.Context, selfID string, ids []string) (int64, error)
	MarkAllNotificationsRead(ctx context.Context, selfID string, cutoff Version) (int64, error)
}

// Reconciler marks conversations and notifications read. It never clears unread state
// optimistically: the cache only changes after the store confirms, and only for records
// at or below the version captured when the request was issued.
type Reconciler struct {
	selfID string
	cache  *Cache
	store  ReadStore
	group  singleflight.Group
	logger zerolog.Logger
}

// NewReconciler constructs a reconciler for one session.
func NewReconciler(selfID string, cache *Cache, store ReadStore, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		selfID: selfID,
		cache:  cache,
		store:  store,
		logger: logger.With().Str("component", "realtime_reconciler").Logger(),
	}
}

// UnreadCount returns the number of unread messages partner sent to self.
func (r *Reconciler) UnreadCount(partnerID string) int {
	return len(r.cache.UnreadFrom(r.selfID, partnerID))
}

// State returns Clean when nothing from partner is unread.
func (r *Reconciler) State(partnerID string) ReadState {
	if r.UnreadCount(partnerID) == 0 {
		return ReadStateClean
	}
	return ReadStateDirty
}

// MarkConversationRead marks everything partner sent up to now as read and returns how many
// cached messages flipped. Concurrent calls for the same partner share one request.
func (r *Reconciler) MarkConversationRead(ctx context.Context, partnerID string) (int, error) {
	result, err, _ := r.group.Do("conversation:"+partnerID, func() (interface{}, error) {
		return r.markConversation(ctx, partnerID)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (r *Reconciler) markConversation(ctx context.Context, partnerID string) (int, error) {
	unread := r.cache.UnreadFrom(r.selfID, partnerID)
	if len(unread) == 0 {
		observability.RealtimeReadMarks().WithLabelValues("conversation", "clean").Inc()
		return 0, nil
	}

	cutoff := VersionOfMessage(unread[len(unread)-1])
	if _, err := r.store.MarkConversationRead(ctx, r.selfID, partnerID, cutoff); err != nil {
		observability.RealtimeReadMarks().WithLabelValues("conversation", "error").Inc()
		r.logger.Warn().Err(err).Str("partner_id", partnerID).Msg("mark conversation read failed")
		return 0, fmt.Errorf("mark conversation %s read: %w", partnerID, err)
	}

	flipped := r.cache.MarkMessagesRead(r.selfID, partnerID, cutoff)
	observability.RealtimeReadMarks().WithLabelValues("conversation", "ok").Inc()
	return flipped, nil
}

// MarkNotificationRead marks one notification read.
func (r *Reconciler) MarkNotificationRead(ctx context.Context, notificationID string) (int, error) {
	if cached, ok := r.cache.Notification(notificationID); ok && cached.Read {
		observability.RealtimeReadMarks().WithLabelValues("notification", "clean").Inc()
		return 0, nil
	}

	if _, err := r.store.MarkNotificationsRead(ctx, r.selfID, []string{notificationID}); err != nil {
		observability.RealtimeReadMarks().WithLabelValues("notification", "error").Inc()
		return 0, fmt.Errorf("mark notification %s read: %w", notificationID, err)
	}

	observability.RealtimeReadMarks().WithLabelValues("notification", "ok").Inc()
	return r.cache.MarkNotificationsRead(notificationID), nil
}

// MarkAllNotificationsRead marks every cached unread notification up to the newest one read.
func (r *Reconciler) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	result, err, _ := r.group.Do("notifications", func() (interface{}, error) {
		cutoff, ok := r.cache.LatestUnreadNotification(r.selfID)
		if !ok {
			observability.RealtimeReadMarks().WithLabelValues("notifications", "clean").Inc()
			return 0, nil
		}
		if _, err := r.store.MarkAllNotificationsRead(ctx, r.selfID, cutoff); err != nil {
			observability.RealtimeReadMarks().WithLabelValues("notifications", "error").Inc()
			return 0, fmt.Errorf("mark notifications read: %w", err)
		}
		observability.RealtimeReadMarks().WithLabelValues("notifications", "ok").Inc()
		return r.cache.MarkNotificationsReadUpTo(r.selfID, cutoff), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}
