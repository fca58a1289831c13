// Package dialogue is the Go client for the maieutic delivery pipeline. It
// submits messages, consumes the per-dialogue event stream, and keeps an
// optimistic local transcript reconciled against server-confirmed state.
package dialogue

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MessageMeta mirrors the server's per-message metadata.
type MessageMeta struct {
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	Model            string `json:"model,omitempty"`
	LatencyMs        int64  `json:"latency_ms,omitempty"`
}

// Message is one transcript entry. Seq is assigned by the server and unique
// within a dialogue; sequences are monotonic but may contain gaps, so callers
// must never assume contiguity.
type Message struct {
	ID        uuid.UUID    `json:"id"`
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Seq       int64        `json:"seq"`
	CreatedAt time.Time    `json:"created_at"`
	Meta      *MessageMeta `json:"meta,omitempty"`
}

// EventType is the stream event vocabulary.
type EventType string

const (
	EventProcessing EventType = "processing"
	EventProgress   EventType = "progress"
	EventMessage    EventType = "message"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Event is one decoded stream event. Message is set only for EventMessage;
// Err only for EventError.
type Event struct {
	Type    EventType
	JobID   uuid.UUID
	Attempt int
	Note    string
	Message *Message
	Err     string
}

// SubmitResult is the synchronous reply to a message submission. Position is
// the job's place in the queue (1 = next to run). Resubmitted reports that an
// idempotency key matched a previously accepted submission.
type SubmitResult struct {
	JobID       uuid.UUID `json:"job_id"`
	Position    int       `json:"position"`
	Message     *Message  `json:"message"`
	Resubmitted bool      `json:"resubmitted"`
}

// HistoryPage is one page of older messages, chronological regardless of
// fetch direction.
type HistoryPage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
