package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/maieulabs/maieutic-backend/internal/data/repos"
	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
)

/*
Queue is the dispatch surface the worker runs against. The production
implementation is the Postgres-backed repo adapter below; the interface exists
so a broker-backed queue could replace it without touching worker logic.

Transition rules the implementation must keep:
  - Claim flips queued->running atomically and increments attempts.
  - Retry flips running->queued with next_run_at in the future.
  - Fail and Succeed are terminal and set finished_at.
*/
type Queue interface {
	Claim(ctx context.Context, staleRunning time.Duration) (*types.CompletionJob, error)
	Heartbeat(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID, errMsg string, nextRunAt time.Time) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
	Succeed(ctx context.Context, id uuid.UUID, result any) error
	PurgeTerminal(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error)
}

type repoQueue struct {
	repo repos.CompletionJobRepo
}

func NewRepoQueue(repo repos.CompletionJobRepo) Queue {
	return &repoQueue{repo: repo}
}

func (q *repoQueue) Claim(ctx context.Context, staleRunning time.Duration) (*types.CompletionJob, error) {
	return q.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, staleRunning)
}

func (q *repoQueue) Heartbeat(ctx context.Context, id uuid.UUID) error {
	return q.repo.Heartbeat(dbctx.Context{Ctx: ctx}, id)
}

func (q *repoQueue) Retry(ctx context.Context, id uuid.UUID, errMsg string, nextRunAt time.Time) error {
	now := time.Now()
	return q.repo.UpdateFields(dbctx.Context{Ctx: ctx}, id, map[string]interface{}{
		"status":        types.JobQueued,
		"next_run_at":   nextRunAt,
		"last_error":    errMsg,
		"last_error_at": now,
		"locked_at":     nil,
		"heartbeat_at":  nil,
	})
}

func (q *repoQueue) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	now := time.Now()
	return q.repo.UpdateFields(dbctx.Context{Ctx: ctx}, id, map[string]interface{}{
		"status":        types.JobFailed,
		"last_error":    errMsg,
		"last_error_at": now,
		"finished_at":   now,
		"locked_at":     nil,
		"heartbeat_at":  nil,
	})
}

func (q *repoQueue) Succeed(ctx context.Context, id uuid.UUID, result any) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       types.JobCompleted,
		"last_error":   "",
		"finished_at":  now,
		"locked_at":    nil,
		"heartbeat_at": nil,
	}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			updates["result"] = datatypes.JSON(raw)
		}
	}
	return q.repo.UpdateFields(dbctx.Context{Ctx: ctx}, id, updates)
}

func (q *repoQueue) PurgeTerminal(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	return q.repo.PurgeTerminal(dbctx.Context{Ctx: ctx}, completedBefore, failedBefore)
}
