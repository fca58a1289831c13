package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CanvasNode is a node on a user's exploration canvas with its own scoped
// dialogue. ParentNodeID forms the dependency adjacency list: a node whose
// ParentNodeID points at node X is a dependent of X and participates in X's
// cascade-delete contract.
type CanvasNode struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CanvasID uuid.UUID `gorm:"type:uuid;not null;index" json:"canvas_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	ParentNodeID *uuid.UUID `gorm:"type:uuid;column:parent_node_id;index" json:"parent_node_id,omitempty"`

	Title     string    `gorm:"column:title;not null;default:''" json:"title"`
	Technique Technique `gorm:"column:technique;not null" json:"technique"`

	DialogueState `gorm:"embedded"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CanvasNode) TableName() string { return "canvas_node" }

// Explored reports whether the node's dialogue has at least one full
// user/assistant exchange.
func (n *CanvasNode) Explored() bool {
	return n != nil && n.MessageCount >= 2
}
