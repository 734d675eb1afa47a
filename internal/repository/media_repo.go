package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-community-api/internal/models"
)

// MediaRepository persists metadata about uploaded media.
type MediaRepository interface {
	Create(ctx context.Context, asset *models.MediaAsset) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.MediaAsset, error)
}

type mediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository constructs a repository for media records.
func NewMediaRepository(db *gorm.DB) MediaRepository {
	return &mediaRepository{db: db}
}

func (r *mediaRepository) Create(ctx context.Context, asset *models.MediaAsset) error {
	return r.db.WithContext(ctx).Create(asset).Error
}

func (r *mediaRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.MediaAsset, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var assets []models.MediaAsset
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}
