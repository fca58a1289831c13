package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

type CanvasNodeRepo interface {
	Create(dbc dbctx.Context, rows []*types.CanvasNode) ([]*types.CanvasNode, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.CanvasNode, error)
	// LockByID is the per-node serialization point, same contract as the
	// conversation repo. Requires dbc.Tx.
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.CanvasNode, error)
	ListByCanvas(dbc dbctx.Context, canvasID uuid.UUID, limit int) ([]*types.CanvasNode, error)
	// ListDependents returns the direct children in the dependency adjacency
	// list (nodes whose parent_node_id is one of ids).
	ListDependents(dbc dbctx.Context, ids []uuid.UUID) ([]*types.CanvasNode, error)
	Save(dbc dbctx.Context, row *types.CanvasNode) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error
}

type canvasNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCanvasNodeRepo(db *gorm.DB, log *logger.Logger) CanvasNodeRepo {
	return &canvasNodeRepo{db: db, log: log.With("repo", "CanvasNodeRepo")}
}

func (r *canvasNodeRepo) Create(dbc dbctx.Context, rows []*types.CanvasNode) ([]*types.CanvasNode, error) {
	if len(rows) == 0 {
		return []*types.CanvasNode{}, nil
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

func (r *canvasNodeRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.CanvasNode, error) {
	var out []*types.CanvasNode
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

func (r *canvasNodeRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.CanvasNode, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID requires dbc.Tx")
	}
	var out types.CanvasNode
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *canvasNodeRepo) ListByCanvas(dbc dbctx.Context, canvasID uuid.UUID, limit int) ([]*types.CanvasNode, error) {
	if canvasID == uuid.Nil {
		return nil, fmt.Errorf("missing canvas_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.CanvasNode
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.CanvasNode{}).
		Where("canvas_id = ?", canvasID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *canvasNodeRepo) ListDependents(dbc dbctx.Context, ids []uuid.UUID) ([]*types.CanvasNode, error) {
	if len(ids) == 0 {
		return []*types.CanvasNode{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.CanvasNode
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.CanvasNode{}).
		Where("parent_node_id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *canvasNodeRepo) Save(dbc dbctx.Context, row *types.CanvasNode) error {
	if row == nil || row.ID == uuid.Nil {
		return fmt.Errorf("missing node")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	row.UpdatedAt = time.Now().UTC()
	return txx.WithContext(dbc.Ctx).Save(row).Error
}

func (r *canvasNodeRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.CanvasNode{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *canvasNodeRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Delete(&types.CanvasNode{}, "id IN ?", ids).Error
}
