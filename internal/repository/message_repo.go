package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-community-api/internal/models"
)

// ReadCutoff bounds a read-marking update: only rows created before At, or at At with an id
// not greater than ID, are touched.
type ReadCutoff struct {
	At time.Time
	ID string
}

func (c ReadCutoff) apply(query *gorm.DB) *gorm.DB {
	if c.At.IsZero() {
		return query
	}
	return query.Where("(created_at < ? OR (created_at = ? AND id <= ?))", c.At, c.At, c.ID)
}

// MessageRepository persists direct messages.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id string) (models.Message, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]models.Message, error)
	ListThread(ctx context.Context, userID, partnerID string, before time.Time, limit int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, userID, partnerID string, cutoff ReadCutoff) ([]models.Message, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// ListForUser returns the newest messages the user sent or received.
func (r *messageRepository) ListForUser(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}

	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// ListThread returns the conversation between two users in chronological order.
func (r *messageRepository) ListThread(ctx context.Context, userID, partnerID string, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	query := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userID, partnerID, partnerID, userID)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkConversationRead flips unread messages partner sent to user, bounded by cutoff, and
// returns the rows it flipped.
func (r *messageRepository) MarkConversationRead(ctx context.Context, userID, partnerID string, cutoff ReadCutoff) ([]models.Message, error) {
	var flipped []models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("receiver_id = ? AND sender_id = ? AND read = ?", userID, partnerID, false)
		if err := cutoff.apply(query).Find(&flipped).Error; err != nil {
			return err
		}
		if len(flipped) == 0 {
			return nil
		}

		ids := make([]string, 0, len(flipped))
		for _, message := range flipped {
			ids = append(ids, message.ID)
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.Message{}).
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

func (r *messageRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND read = ?", userID, false).
		Count(&count).Error
	return count, err
}
