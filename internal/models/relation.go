package models

import "time"

// RelationKind identifies one of the membership join tables.
type RelationKind string

const (
	RelationPostLike  RelationKind = "like"
	RelationReplyLike RelationKind = "reply_like"
	RelationUpvote    RelationKind = "upvote"
	RelationFollow    RelationKind = "follow"
)

// Valid reports whether the kind maps to a join table.
func (k RelationKind) Valid() bool {
	switch k {
	case RelationPostLike, RelationReplyLike, RelationUpvote, RelationFollow:
		return true
	}
	return false
}

// Relation is a membership fact: actor likes, upvotes or follows target.
// At most one row exists per (kind, actor, target).
type Relation struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Kind      RelationKind `gorm:"size:32;not null;uniqueIndex:ux_relation,priority:1;index:idx_relation_target,priority:1" json:"kind"`
	ActorID   string       `gorm:"size:64;not null;uniqueIndex:ux_relation,priority:2" json:"actor_id"`
	TargetID  string       `gorm:"size:64;not null;uniqueIndex:ux_relation,priority:3;index:idx_relation_target,priority:2" json:"target_id"`
	CreatedAt time.Time    `json:"created_at"`
}
