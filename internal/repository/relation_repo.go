package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-community-api/internal/models"
)

// RelationRepository persists like, upvote and follow memberships.
type RelationRepository interface {
	Set(ctx context.Context, kind models.RelationKind, actorID, targetID string, active bool) (bool, error)
	Exists(ctx context.Context, kind models.RelationKind, actorID, targetID string) (bool, error)
	Count(ctx context.Context, kind models.RelationKind, targetID string) (int64, error)
	CountByActor(ctx context.Context, kind models.RelationKind, actorID string) (int64, error)
}

type relationRepository struct {
	db *gorm.DB
}

// NewRelationRepository constructs a relation repository backed by GORM.
func NewRelationRepository(db *gorm.DB) RelationRepository {
	return &relationRepository{db: db}
}

// Set inserts the membership when active and deletes it otherwise. Both directions are
// idempotent; the bool reports whether a row was written or removed.
func (r *relationRepository) Set(ctx context.Context, kind models.RelationKind, actorID, targetID string, active bool) (bool, error) {
	if active {
		relation := models.Relation{Kind: kind, ActorID: actorID, TargetID: targetID}
		tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "actor_id"}, {Name: "target_id"}},
			DoNothing: true,
		}).Create(&relation)
		return tx.RowsAffected > 0, tx.Error
	}

	tx := r.db.WithContext(ctx).
		Where("kind = ? AND actor_id = ? AND target_id = ?", kind, actorID, targetID).
		Delete(&models.Relation{})
	return tx.RowsAffected > 0, tx.Error
}

func (r *relationRepository) Exists(ctx context.Context, kind models.RelationKind, actorID, targetID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Relation{}).
		Where("kind = ? AND actor_id = ? AND target_id = ?", kind, actorID, targetID).
		Count(&count).Error
	return count > 0, err
}

// Count returns how many actors hold the relation to target, e.g. a post's like count or a
// user's follower count.
func (r *relationRepository) Count(ctx context.Context, kind models.RelationKind, targetID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Relation{}).
		Where("kind = ? AND target_id = ?", kind, targetID).
		Count(&count).Error
	return count, err
}

// CountByActor returns how many targets actor holds the relation to, e.g. following count.
func (r *relationRepository) CountByActor(ctx context.Context, kind models.RelationKind, actorID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Relation{}).
		Where("kind = ? AND actor_id = ?", kind, actorID).
		Count(&count).Error
	return count, err
}
