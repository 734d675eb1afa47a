package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-community-api/internal/models"
)

// NotificationRepository handles persistence for notification entities.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) (models.Notification, bool, error)
	MarkAllRead(ctx context.Context, userID string, cutoff ReadCutoff) ([]models.Notification, error)
	FindByID(ctx context.Context, id string) (models.Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var notifications []models.Notification
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, err
	}

	return notifications, nil
}

// MarkRead marks one notification read and reports whether it changed.
func (r *notificationRepository) MarkRead(ctx context.Context, id, userID string) (models.Notification, bool, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		return models.Notification{}, false, err
	}

	if notification.Read {
		return notification, false, nil
	}

	now := time.Now().UTC()
	if err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND read = ?", id, false).
		Updates(map[string]interface{}{"read": true, "updated_at": now}).Error; err != nil {
		return models.Notification{}, false, err
	}

	notification.Read = true
	notification.UpdatedAt = now
	return notification, true, nil
}

// MarkAllRead flips the user's unread notifications bounded by cutoff and returns them.
func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string, cutoff ReadCutoff) ([]models.Notification, error) {
	var flipped []models.Notification
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("user_id = ? AND read = ?", userID, false)
		if err := cutoff.apply(query).Find(&flipped).Error; err != nil {
			return err
		}
		if len(flipped) == 0 {
			return nil
		}

		ids := make([]string, 0, len(flipped))
		for _, notification := range flipped {
			ids = append(ids, notification.ID)
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.Notification{}).
			Where("id IN ? AND read = ?", ids, false).
			Updates(map[string]interface{}{"read": true, "updated_at": now}).Error; err != nil {
			return err
		}
		for i := range flipped {
			flipped[i].Read = true
			flipped[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flipped, nil
}

func (r *notificationRepository) FindByID(ctx context.Context, id string) (models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&notification).Error; err != nil {
		return models.Notification{}, err
	}
	return notification, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	return count, err
}
