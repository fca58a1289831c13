package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/maieulabs/maieutic-backend/internal/data/repos/testutil"
	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
)

func ptrTime(t time.Time) *time.Time { return &t }

func seedJob(owner, parent uuid.UUID, status string, createdAt time.Time) *types.CompletionJob {
	return &types.CompletionJob{
		ID:               uuid.New(),
		OwnerUserID:      owner,
		ParentKind:       types.ParentConversation,
		ParentID:         parent,
		TriggerMessageID: uuid.New(),
		TriggerSeq:       1,
		AssistantSeq:     2,
		Status:           status,
		NextRunAt:        createdAt,
		Payload:          datatypes.JSON([]byte("{}")),
		Result:           datatypes.JSON([]byte("{}")),
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func TestCompletionJobRepoClaimOrderingAndSerialization(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewCompletionJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	owner := uuid.New()
	parentA := uuid.New()
	parentB := uuid.New()

	oldest := seedJob(owner, parentA, types.JobQueued, now.Add(-3*time.Hour))
	middle := seedJob(owner, parentB, types.JobQueued, now.Add(-2*time.Hour))
	newest := seedJob(owner, parentA, types.JobQueued, now.Add(-1*time.Hour))

	if _, err := repo.Create(dbc, []*types.CompletionJob{oldest, middle, newest}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Claims walk created_at ascending.
	claim1, err := repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #1: %v", err)
	}
	if claim1 == nil || claim1.ID != oldest.ID {
		t.Fatalf("claim #1: expected %v got %+v", oldest.ID, claim1)
	}
	if claim1.Status != types.JobRunning || claim1.Attempts != 1 {
		t.Fatalf("claim #1 not flipped to running/attempts=1: %+v", claim1)
	}

	// parentA now has a live running job, so newest (same parent) is skipped
	// even though it is older than nothing else queued for parentB.
	claim2, err := repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #2: %v", err)
	}
	if claim2 == nil || claim2.ID != middle.ID {
		t.Fatalf("claim #2: expected parentB's job %v got %+v", middle.ID, claim2)
	}

	// Nothing else is dispatchable while both parents have live running jobs.
	claim3, err := repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #3: %v", err)
	}
	if claim3 != nil {
		t.Fatalf("claim #3: expected nil got %+v", claim3)
	}

	// Completing parentA's job frees its next queued job.
	if err := repo.UpdateFields(dbc, claim1.ID, map[string]interface{}{
		"status": types.JobCompleted, "finished_at": now, "heartbeat_at": nil,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	claim4, err := repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #4: %v", err)
	}
	if claim4 == nil || claim4.ID != newest.ID {
		t.Fatalf("claim #4: expected %v got %+v", newest.ID, claim4)
	}
}

func TestCompletionJobRepoReclaimsStaleRunning(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewCompletionJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	stale := seedJob(uuid.New(), uuid.New(), types.JobRunning, now.Add(-2*time.Hour))
	stale.HeartbeatAt = ptrTime(now.Add(-30 * time.Minute))
	if _, err := repo.Create(dbc, []*types.CompletionJob{stale}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Fresh heartbeat: not reclaimable, and its parent stays blocked.
	if claimed, err := repo.ClaimNextRunnable(dbc, time.Hour); err != nil || claimed != nil {
		t.Fatalf("claimed a live running job: err=%v job=%+v", err, claimed)
	}

	// Past the stale cutoff the dead worker's job is claimable again.
	claimed, err := repo.ClaimNextRunnable(dbc, 10*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed == nil || claimed.ID != stale.ID {
		t.Fatalf("expected stale job %v got %+v", stale.ID, claimed)
	}
	if claimed.Attempts != 1 {
		t.Fatalf("reclaim should increment attempts: %+v", claimed)
	}
}

func TestCompletionJobRepoIdempotencyKeyLookup(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewCompletionJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	parent := uuid.New()
	job := seedJob(uuid.New(), parent, types.JobQueued, now)
	job.IdempotencyKey = "client-key-1"
	if _, err := repo.Create(dbc, []*types.CompletionJob{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	found, err := repo.GetByIdempotencyKey(dbc, types.ParentConversation, parent, "client-key-1")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey: %v", err)
	}
	if found == nil || found.ID != job.ID {
		t.Fatalf("expected %v got %+v", job.ID, found)
	}

	if found, err := repo.GetByIdempotencyKey(dbc, types.ParentConversation, parent, "other-key"); err != nil || found != nil {
		t.Fatalf("unknown key: err=%v found=%+v", err, found)
	}
	if found, err := repo.GetByIdempotencyKey(dbc, types.ParentNode, parent, "client-key-1"); err != nil || found != nil {
		t.Fatalf("key should be scoped to parent kind: err=%v found=%+v", err, found)
	}
	if found, err := repo.GetByIdempotencyKey(dbc, types.ParentConversation, parent, ""); err != nil || found != nil {
		t.Fatalf("empty key must never match: err=%v found=%+v", err, found)
	}
}

func TestCompletionJobRepoQueueDepthAndRunnable(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewCompletionJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	parent := uuid.New()
	first := seedJob(uuid.New(), uuid.New(), types.JobQueued, now.Add(-2*time.Hour))
	second := seedJob(uuid.New(), parent, types.JobQueued, now.Add(-1*time.Hour))
	if _, err := repo.Create(dbc, []*types.CompletionJob{first, second}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	depth, err := repo.QueueDepthBefore(dbc, second.CreatedAt)
	if err != nil {
		t.Fatalf("QueueDepthBefore: %v", err)
	}
	if depth != 1 {
		t.Fatalf("depth = %d, want 1", depth)
	}

	has, err := repo.HasRunnableForParent(dbc, types.ParentConversation, parent)
	if err != nil {
		t.Fatalf("HasRunnableForParent: %v", err)
	}
	if !has {
		t.Fatalf("expected a runnable job for parent")
	}
	if has, err := repo.HasRunnableForParent(dbc, types.ParentConversation, uuid.New()); err != nil || has {
		t.Fatalf("unknown parent: err=%v has=%v", err, has)
	}
}

func TestCompletionJobRepoPurgeTerminal(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewCompletionJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()

	oldCompleted := seedJob(uuid.New(), uuid.New(), types.JobCompleted, now.Add(-72*time.Hour))
	oldCompleted.FinishedAt = ptrTime(now.Add(-48 * time.Hour))
	freshCompleted := seedJob(uuid.New(), uuid.New(), types.JobCompleted, now.Add(-2*time.Hour))
	freshCompleted.FinishedAt = ptrTime(now.Add(-time.Hour))
	oldFailed := seedJob(uuid.New(), uuid.New(), types.JobFailed, now.Add(-240*time.Hour))
	oldFailed.FinishedAt = ptrTime(now.Add(-200 * time.Hour))
	freshFailed := seedJob(uuid.New(), uuid.New(), types.JobFailed, now.Add(-48*time.Hour))
	freshFailed.FinishedAt = ptrTime(now.Add(-24 * time.Hour))

	if _, err := repo.Create(dbc, []*types.CompletionJob{oldCompleted, freshCompleted, oldFailed, freshFailed}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// 24h completed retention, 7d failed retention.
	purged, err := repo.PurgeTerminal(dbc, now.Add(-24*time.Hour), now.Add(-168*time.Hour))
	if err != nil {
		t.Fatalf("PurgeTerminal: %v", err)
	}
	if purged != 2 {
		t.Fatalf("purged = %d, want 2", purged)
	}

	remaining, err := repo.GetByIDs(dbc, []uuid.UUID{oldCompleted.ID, freshCompleted.ID, oldFailed.ID, freshFailed.ID})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2", len(remaining))
	}
	for _, j := range remaining {
		if j.ID == oldCompleted.ID || j.ID == oldFailed.ID {
			t.Fatalf("job %v survived the purge", j.ID)
		}
	}
}
