package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ArchivedMessage is cold storage for messages cut over from a dialogue's
// hot window. Rows are only ever written by the cutover path, one row per
// (parent, seq); a message lives in exactly one of hot window or archive.
type ArchivedMessage struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	ParentKind ParentKind `gorm:"column:parent_kind;not null;index:idx_archived_message_parent_seq,unique,priority:1" json:"parent_kind"`
	ParentID   uuid.UUID  `gorm:"type:uuid;column:parent_id;not null;index:idx_archived_message_parent_seq,unique,priority:2" json:"parent_id"`
	Seq        int64      `gorm:"column:seq;not null;index:idx_archived_message_parent_seq,unique,priority:3" json:"seq"`

	MessageID uuid.UUID      `gorm:"type:uuid;column:message_id;not null" json:"message_id"`
	Role      string         `gorm:"column:role;not null" json:"role"`
	Content   string         `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Meta      datatypes.JSON `gorm:"type:jsonb;column:meta;not null;default:'{}'" json:"meta,omitempty"`

	// CreatedAt keeps the original message timestamp; ArchivedAt records the
	// cutover time.
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
	ArchivedAt time.Time `gorm:"column:archived_at;not null;default:now()" json:"archived_at"`
}

func (ArchivedMessage) TableName() string { return "archived_message" }
