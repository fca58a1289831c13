package repos

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

type ConversationListFilter struct {
	Favorite *bool
	Archived *bool
	Tag      string
	Limit    int
}

type ConversationRepo interface {
	Create(dbc dbctx.Context, rows []*types.Conversation) ([]*types.Conversation, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Conversation, error)
	// LockByID takes a FOR UPDATE row lock; it is the serialization point for
	// sequence allocation and hot-window mutation. Requires dbc.Tx.
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, filter ConversationListFilter) ([]*types.Conversation, error)
	Save(dbc dbctx.Context, row *types.Conversation) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, log *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: log.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Create(dbc dbctx.Context, rows []*types.Conversation) ([]*types.Conversation, error) {
	if len(rows) == 0 {
		return []*types.Conversation{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *conversationRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Conversation, error) {
	var out []*types.Conversation
	if len(ids) == 0 {
		return out, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID requires dbc.Tx")
	}
	var out types.Conversation
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *conversationRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, filter ConversationListFilter) ([]*types.Conversation, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	q := txx.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("user_id = ?", userID)
	if filter.Favorite != nil {
		q = q.Where("favorite = ?", *filter.Favorite)
	}
	if filter.Archived != nil {
		q = q.Where("archived = ?", *filter.Archived)
	}
	if filter.Tag != "" {
		// The containment document must be valid JSON whatever the tag holds.
		tagDoc, err := json.Marshal([]string{filter.Tag})
		if err != nil {
			return nil, err
		}
		q = q.Where("tags @> ?", string(tagDoc))
	}
	var out []*types.Conversation
	if err := q.Order("last_message_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) Save(dbc dbctx.Context, row *types.Conversation) error {
	if row == nil || row.ID == uuid.Nil {
		return fmt.Errorf("missing conversation")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	row.UpdatedAt = time.Now().UTC()
	return txx.WithContext(dbc.Ctx).Save(row).Error
}

func (r *conversationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *conversationRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Delete(&types.Conversation{}, "id = ?", id).Error
}
