package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Conversation struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Title     string         `gorm:"column:title;not null;default:'New Dialogue'" json:"title"`
	Technique Technique      `gorm:"column:technique;not null;index" json:"technique"`
	Tags      datatypes.JSON `gorm:"type:jsonb;column:tags;not null;default:'[]'" json:"tags"`
	Favorite  bool           `gorm:"column:favorite;not null;default:false;index" json:"favorite"`
	Archived  bool           `gorm:"column:archived;not null;default:false;index" json:"archived"`

	DialogueState `gorm:"embedded"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Conversation) TableName() string { return "conversation" }
