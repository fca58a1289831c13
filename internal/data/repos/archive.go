package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

type ArchivedMessageRepo interface {
	Create(dbc dbctx.Context, rows []*types.ArchivedMessage) ([]*types.ArchivedMessage, error)
	// ListBefore fetches up to limit rows with seq < beforeSeq, newest first.
	// Callers re-order ascending for display.
	ListBefore(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, beforeSeq int64, limit int) ([]*types.ArchivedMessage, error)
	// HasSeq reports whether a given sequence already lives in cold storage.
	// The worker uses this (plus the hot window) for redelivery detection.
	HasSeq(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, seq int64) (bool, error)
	CountByParent(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID) (int64, error)
	DeleteByParents(dbc dbctx.Context, kind types.ParentKind, parentIDs []uuid.UUID) error
}

type archivedMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArchivedMessageRepo(db *gorm.DB, log *logger.Logger) ArchivedMessageRepo {
	return &archivedMessageRepo{db: db, log: log.With("repo", "ArchivedMessageRepo")}
}

func (r *archivedMessageRepo) Create(dbc dbctx.Context, rows []*types.ArchivedMessage) ([]*types.ArchivedMessage, error) {
	if len(rows) == 0 {
		return []*types.ArchivedMessage{}, nil
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

func (r *archivedMessageRepo) ListBefore(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, beforeSeq int64, limit int) ([]*types.ArchivedMessage, error) {
	if parentID == uuid.Nil {
		return nil, fmt.Errorf("missing parent_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.ArchivedMessage
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ArchivedMessage{}).
		Where("parent_kind = ? AND parent_id = ? AND seq < ?", kind, parentID, beforeSeq).
		Order("seq DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *archivedMessageRepo) HasSeq(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, seq int64) (bool, error) {
	if parentID == uuid.Nil {
		return false, fmt.Errorf("missing parent_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var count int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ArchivedMessage{}).
		Where("parent_kind = ? AND parent_id = ? AND seq = ?", kind, parentID, seq).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *archivedMessageRepo) CountByParent(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID) (int64, error) {
	if parentID == uuid.Nil {
		return 0, fmt.Errorf("missing parent_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var count int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ArchivedMessage{}).
		Where("parent_kind = ? AND parent_id = ?", kind, parentID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *archivedMessageRepo) DeleteByParents(dbc dbctx.Context, kind types.ParentKind, parentIDs []uuid.UUID) error {
	if len(parentIDs) == 0 {
		return nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("parent_kind = ? AND parent_id IN ?", kind, parentIDs).
		Delete(&types.ArchivedMessage{}).Error
}
