package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/realtime"
)

// DialogueNotifier publishes delivery-stream events onto a dialogue's
// channel. One call maps to exactly one event; ordering is the caller's
// responsibility (the worker emits processing before message, message before
// complete).
type DialogueNotifier interface {
	Processing(kind types.ParentKind, parentID uuid.UUID, jobID uuid.UUID, attempt int)
	Progress(kind types.ParentKind, parentID uuid.UUID, jobID uuid.UUID, attempt int, note string)
	Message(kind types.ParentKind, parentID uuid.UUID, jobID uuid.UUID, msg *types.Message)
	Complete(kind types.ParentKind, parentID uuid.UUID, jobID uuid.UUID)
	Error(kind types.ParentKind, parentID uuid.UUID, jobID uuid.UUID, errMsg string)
}

type dialogueNotifier struct {
	emit SSEEmitter
}

func NewDialogueNotifier(emit SSEEmitter) DialogueNotifier {
	return &dialogueNotifier{emit: emit}
}

func channelFor(kind types.ParentKind, parentID uuid.UUID) string {
	if kind == types.ParentNode {
		return realtime.NodeChannel(parentID.String())
	}
	return realtime.ConversationChannel(parentID.String())
}

func (n *dialogueNotifier) Processing(kind types.ParentKind, parentID uuid.UUID, jobID uuid.UUID, attempt int) {
	if n == nil || n.emit == nil || parentID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: channelFor(kind, parentID),
		Event:   realtime.SSEEventProcessing,
		Data:    map[string]any{"job_id": jobID, "attempt": attempt},
	})
}

func (n *dialogueNotifier) Progress(kind types.ParentKind, parentID uuid.UUID, jobID uuid.UUID, attempt int, note string) {
	if n == nil || n.emit == nil || parentID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: channelFor(kind, parentID),
		Event:   realtime.SSEEventProgress,
		Data:    map[string]any{"job_id": jobID, "attempt": attempt, "note": note},
	})
}

func (n *dialogueNotifier) Message(kind types.ParentKind, parentID uuid.UUID, jobID uuid.UUID, msg *types.Message) {
	if n == nil || n.emit == nil || parentID == uuid.Nil || msg == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: channelFor(kind, parentID),
		Event:   realtime.SSEEventMessage,
		Data:    map[string]any{"job_id": jobID, "message": msg},
	})
}

func (n *dialogueNotifier) Complete(kind types.ParentKind, parentID uuid.UUID, jobID uuid.UUID) {
	if n == nil || n.emit == nil || parentID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: channelFor(kind, parentID),
		Event:   realtime.SSEEventComplete,
		Data:    map[string]any{"job_id": jobID},
	})
}

func (n *dialogueNotifier) Error(kind types.ParentKind, parentID uuid.UUID, jobID uuid.UUID, errMsg string) {
	if n == nil || n.emit == nil || parentID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: channelFor(kind, parentID),
		Event:   realtime.SSEEventError,
		Data:    map[string]any{"job_id": jobID, "error": errMsg},
	})
}
