package services

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/maieulabs/maieutic-backend/internal/data/repos"
	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/ctxutil"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

type JobStatus struct {
	Job *types.CompletionJob `json:"job"`
	// Position is the 1-based queue position while the job is queued, 0
	// otherwise.
	Position int64 `json:"position"`
}

type JobService interface {
	Get(dbc dbctx.Context, id uuid.UUID) (*JobStatus, error)
}

type jobService struct {
	log  *logger.Logger
	jobs repos.CompletionJobRepo
}

func NewJobService(log *logger.Logger, jobs repos.CompletionJobRepo) JobService {
	return &jobService{log: log.With("service", "JobService"), jobs: jobs}
}

func (s *jobService) Get(dbc dbctx.Context, id uuid.UUID) (*JobStatus, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	rows, err := s.jobs.GetByIDs(dbc, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].OwnerUserID != rd.UserID {
		return nil, ErrNotFound
	}
	out := &JobStatus{Job: rows[0]}
	if rows[0].Status == types.JobQueued {
		depth, err := s.jobs.QueueDepthBefore(dbc, rows[0].CreatedAt)
		if err != nil {
			return nil, err
		}
		out.Position = depth + 1
	}
	return out, nil
}
