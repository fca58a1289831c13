package repos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

type CompletionJobRepo interface {
	Create(dbc dbctx.Context, jobs []*types.CompletionJob) ([]*types.CompletionJob, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.CompletionJob, error)
	// ClaimNextRunnable picks the oldest dispatchable job and flips it to
	// running in one transaction. A job is dispatchable when it is queued and
	// due, or running with a heartbeat older than staleRunning (worker died
	// mid-claim). Parents that already have a live running job are excluded,
	// so at most one job per dialogue is in flight.
	ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.CompletionJob, error)
	GetByIdempotencyKey(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, key string) (*types.CompletionJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	HasRunnableForParent(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID) (bool, error)
	// QueueDepthBefore counts queued jobs created before the given job; the
	// submit response reports it as the caller's queue position.
	QueueDepthBefore(dbc dbctx.Context, createdAt time.Time) (int64, error)
	// PurgeTerminal deletes completed jobs finished before completedBefore and
	// failed jobs finished before failedBefore. Returns rows removed.
	PurgeTerminal(dbc dbctx.Context, completedBefore, failedBefore time.Time) (int64, error)
	DeleteByParents(dbc dbctx.Context, kind types.ParentKind, parentIDs []uuid.UUID) error
}

type completionJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCompletionJobRepo(db *gorm.DB, log *logger.Logger) CompletionJobRepo {
	return &completionJobRepo{db: db, log: log.With("repo", "CompletionJobRepo")}
}

func (r *completionJobRepo) Create(dbc dbctx.Context, jobs []*types.CompletionJob) ([]*types.CompletionJob, error) {
	if len(jobs) == 0 {
		return []*types.CompletionJob{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *completionJobRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.CompletionJob, error) {
	var out []*types.CompletionJob
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

func (r *completionJobRepo) ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.CompletionJob, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.CompletionJob
	err := txx.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var job types.CompletionJob
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          (status = ? AND next_run_at <= ?)
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
        AND NOT EXISTS (
          SELECT 1 FROM completion_job live
          WHERE live.parent_kind = completion_job.parent_kind
            AND live.parent_id = completion_job.parent_id
            AND live.status = ?
            AND live.id <> completion_job.id
            AND (live.heartbeat_at IS NULL OR live.heartbeat_at >= ?)
        )
      `, types.JobQueued, now, types.JobRunning, staleCutoff, types.JobRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := tx.Model(&types.CompletionJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.JobRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = types.JobRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *completionJobRepo) GetByIdempotencyKey(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, key string) (*types.CompletionJob, error) {
	if parentID == uuid.Nil || key == "" {
		return nil, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var job types.CompletionJob
	err := txx.WithContext(dbc.Ctx).
		Where("parent_kind = ? AND parent_id = ? AND idempotency_key = ?", kind, parentID, key).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *completionJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.CompletionJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *completionJobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	now := time.Now()
	return txx.WithContext(dbc.Ctx).
		Model(&types.CompletionJob{}).
		Where("id = ? AND status = ?", id, types.JobRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *completionJobRepo) HasRunnableForParent(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID) (bool, error) {
	if parentID == uuid.Nil {
		return false, fmt.Errorf("missing parent_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var count int64
	err := txx.WithContext(dbc.Ctx).
		Model(&types.CompletionJob{}).
		Where("parent_kind = ? AND parent_id = ? AND status IN ?",
			kind, parentID, []string{types.JobQueued, types.JobRunning},
		).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *completionJobRepo) QueueDepthBefore(dbc dbctx.Context, createdAt time.Time) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var count int64
	err := txx.WithContext(dbc.Ctx).
		Model(&types.CompletionJob{}).
		Where("status = ? AND created_at < ?", types.JobQueued, createdAt).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *completionJobRepo) PurgeTerminal(dbc dbctx.Context, completedBefore, failedBefore time.Time) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Where(`
      (status = ? AND finished_at IS NOT NULL AND finished_at < ?)
      OR (status = ? AND finished_at IS NOT NULL AND finished_at < ?)
    `, types.JobCompleted, completedBefore, types.JobFailed, failedBefore).
		Delete(&types.CompletionJob{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *completionJobRepo) DeleteByParents(dbc dbctx.Context, kind types.ParentKind, parentIDs []uuid.UUID) error {
	if len(parentIDs) == 0 {
		return nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("parent_kind = ? AND parent_id IN ?", kind, parentIDs).
		Delete(&types.CompletionJob{}).Error
}
