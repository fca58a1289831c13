package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

/*
CompletionJob is one durable "produce a completion" unit of work.
Lifecycle:
  - Created as queued in the same transaction that persists the triggering
    user message, so an enqueue that returned to the caller always executes
    at least once.
  - Claimed by a worker (queued -> running, attempts+1). The claim query
    refuses to pick a job whose parent dialogue already has a running job:
    per-dialogue serialization is a dispatch property, not worker courtesy.
  - A transient failure before the attempt budget is spent re-queues the job
    with NextRunAt pushed out on an exponential schedule.
  - Terminal states are completed/failed. Terminal rows are retained for a
    bounded diagnostics window and then purged by the janitor.

AssistantSeq is reserved at enqueue time (trigger seq + 1). If the job ends
failed, that sequence number stays burned.
*/
type CompletionJob struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;column:owner_user_id;not null;index" json:"owner_user_id"`

	ParentKind ParentKind `gorm:"column:parent_kind;not null;index:idx_completion_job_parent,priority:1" json:"parent_kind"`
	ParentID   uuid.UUID  `gorm:"type:uuid;column:parent_id;not null;index:idx_completion_job_parent,priority:2" json:"parent_id"`

	TriggerMessageID uuid.UUID `gorm:"type:uuid;column:trigger_message_id;not null" json:"trigger_message_id"`
	TriggerSeq       int64     `gorm:"column:trigger_seq;not null" json:"trigger_seq"`
	AssistantSeq     int64     `gorm:"column:assistant_seq;not null" json:"assistant_seq"`

	Status   string `gorm:"column:status;not null;default:'queued';index" json:"status"`
	Attempts int    `gorm:"column:attempts;not null;default:0" json:"attempts"`

	// IdempotencyKey lets a client resubmit the same message safely; the
	// submit path returns the original job instead of reserving new seqs.
	IdempotencyKey string `gorm:"column:idempotency_key;not null;default:'';index" json:"idempotency_key,omitempty"`

	NextRunAt   time.Time  `gorm:"column:next_run_at;not null;default:now();index" json:"next_run_at"`
	LockedAt    *time.Time `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`

	LastError   string     `gorm:"column:last_error;type:text;not null;default:''" json:"last_error,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	FinishedAt  *time.Time `gorm:"column:finished_at;index" json:"finished_at,omitempty"`

	Payload datatypes.JSON `gorm:"type:jsonb;column:payload;not null;default:'{}'" json:"payload,omitempty"`
	Result  datatypes.JSON `gorm:"type:jsonb;column:result;not null;default:'{}'" json:"result,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CompletionJob) TableName() string { return "completion_job" }

func (j *CompletionJob) Terminal() bool {
	return j != nil && (j.Status == JobCompleted || j.Status == JobFailed)
}
