package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maieulabs/maieutic-backend/internal/data/repos"
	"github.com/maieulabs/maieutic-backend/internal/data/repos/testutil"
	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/ctxutil"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
)

// captureNotifier records published stream events for assertions.
type captureNotifier struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	event string
	kind  types.ParentKind
	jobID uuid.UUID
	msg   *types.Message
}

func (c *captureNotifier) record(event string, kind types.ParentKind, jobID uuid.UUID, msg *types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{event: event, kind: kind, jobID: jobID, msg: msg})
}

func (c *captureNotifier) Processing(kind types.ParentKind, parentID, jobID uuid.UUID, attempt int) {
	c.record("processing", kind, jobID, nil)
}

func (c *captureNotifier) Progress(kind types.ParentKind, parentID, jobID uuid.UUID, attempt int, note string) {
	c.record("progress", kind, jobID, nil)
}

func (c *captureNotifier) Message(kind types.ParentKind, parentID, jobID uuid.UUID, msg *types.Message) {
	c.record("message", kind, jobID, msg)
}

func (c *captureNotifier) Complete(kind types.ParentKind, parentID, jobID uuid.UUID) {
	c.record("complete", kind, jobID, nil)
}

func (c *captureNotifier) Error(kind types.ParentKind, parentID, jobID uuid.UUID, errMsg string) {
	c.record("error", kind, jobID, nil)
}

func (c *captureNotifier) messageEvents() []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]capturedEvent, 0, len(c.events))
	for _, ev := range c.events {
		if ev.event == "message" {
			out = append(out, ev)
		}
	}
	return out
}

type dialogueFixture struct {
	svc     DialogueService
	jobs    repos.CompletionJobRepo
	archive repos.ArchivedMessageRepo
	notify  *captureNotifier
	dbc     dbctx.Context
	userID  uuid.UUID
}

// newDialogueFixture runs the whole service against a rolled-back transaction.
func newDialogueFixture(t *testing.T, hotWindow int) *dialogueFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	convRepo := repos.NewConversationRepo(tx, log)
	nodeRepo := repos.NewCanvasNodeRepo(tx, log)
	archiveRepo := repos.NewArchivedMessageRepo(tx, log)
	jobRepo := repos.NewCompletionJobRepo(tx, log)

	notify := &captureNotifier{}
	svc := NewDialogueService(tx, log, DialogueConfig{HotWindowSize: hotWindow}, convRepo, nodeRepo, archiveRepo, jobRepo, notify)

	userID := uuid.New()
	ctx := ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: userID})
	return &dialogueFixture{
		svc:     svc,
		jobs:    jobRepo,
		archive: archiveRepo,
		notify:  notify,
		dbc:     dbctx.Context{Ctx: ctx},
		userID:  userID,
	}
}

func (f *dialogueFixture) newConversation(t *testing.T) *types.Conversation {
	t.Helper()
	conv, err := f.svc.CreateConversation(f.dbc, "Test Dialogue", types.TechniqueMaieutics, nil)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return conv
}

func (f *dialogueFixture) finishJob(t *testing.T, jobID uuid.UUID, status string) {
	t.Helper()
	now := time.Now().UTC()
	if err := f.jobs.UpdateFields(f.dbc, jobID, map[string]interface{}{
		"status": status, "finished_at": now,
	}); err != nil {
		t.Fatalf("finish job: %v", err)
	}
}

// exchange submits a user message and persists the assistant reply at its
// reserved seq, completing the job so the dialogue is submittable again.
func (f *dialogueFixture) exchange(t *testing.T, parentID uuid.UUID, content string) *SubmitResult {
	t.Helper()
	res, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, parentID, content, "")
	if err != nil {
		t.Fatalf("SubmitMessage(%q): %v", content, err)
	}
	err = f.svc.AppendAssistant(f.dbc.Ctx, types.ParentConversation, parentID, types.Message{
		ID:        res.Job.ID,
		Role:      types.RoleAssistant,
		Content:   "and why " + content + "?",
		Seq:       res.Job.AssistantSeq,
		CreatedAt: time.Now().UTC(),
		Meta:      &types.MessageMeta{PromptTokens: 5, CompletionTokens: 3},
	})
	if err != nil {
		t.Fatalf("AppendAssistant: %v", err)
	}
	f.finishJob(t, res.Job.ID, types.JobCompleted)
	return res
}

func TestSubmitReservesTwoSequences(t *testing.T) {
	f := newDialogueFixture(t, 50)
	conv := f.newConversation(t)

	res, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, conv.ID, "what is knowledge?", "")
	if err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}
	if res.UserMessage.Seq != 1 {
		t.Errorf("user seq = %d, want 1", res.UserMessage.Seq)
	}
	if res.Job.TriggerSeq != 1 || res.Job.AssistantSeq != 2 {
		t.Errorf("job seqs = %d/%d, want 1/2", res.Job.TriggerSeq, res.Job.AssistantSeq)
	}
	if res.Job.Status != types.JobQueued {
		t.Errorf("job status = %q, want queued", res.Job.Status)
	}
	if res.Position != 1 {
		t.Errorf("position = %d, want 1", res.Position)
	}

	got, err := f.svc.GetConversation(f.dbc, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.NextSeq != 2 {
		t.Errorf("next_seq = %d, want 2 (both seqs reserved up front)", got.NextSeq)
	}
	if got.MessageCount != 1 {
		t.Errorf("message_count = %d, want 1", got.MessageCount)
	}
}

func TestSubmitRefusedWhileJobInFlight(t *testing.T) {
	f := newDialogueFixture(t, 50)
	conv := f.newConversation(t)

	if _, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, conv.ID, "first", ""); err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}
	_, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, conv.ID, "second", "")
	if !errors.Is(err, ErrDialogueBusy) {
		t.Fatalf("err = %v, want ErrDialogueBusy", err)
	}
}

func TestSubmitIdempotencyKeyReturnsOriginalJob(t *testing.T) {
	f := newDialogueFixture(t, 50)
	conv := f.newConversation(t)

	first, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, conv.ID, "what is truth?", "key-1")
	if err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}
	second, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, conv.ID, "what is truth?", "key-1")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !second.Resubmitted {
		t.Errorf("Resubmitted = false on a matched idempotency key")
	}
	if second.Job.ID != first.Job.ID {
		t.Errorf("resubmit enqueued a second job")
	}
	if second.UserMessage == nil || second.UserMessage.Seq != first.UserMessage.Seq {
		t.Errorf("resubmit did not return the original user message")
	}

	got, err := f.svc.GetConversation(f.dbc, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.MessageCount != 1 {
		t.Errorf("message_count = %d after resubmit, want 1", got.MessageCount)
	}
}

func TestSubmitPublishesUserMessageEvent(t *testing.T) {
	f := newDialogueFixture(t, 50)
	conv := f.newConversation(t)

	res, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, conv.ID, "what is courage?", "key-ev")
	if err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}

	// Every subscriber learns about the confirmed user turn from the stream,
	// not just the submitting client.
	events := f.notify.messageEvents()
	if len(events) != 1 {
		t.Fatalf("published %d message events, want 1", len(events))
	}
	ev := events[0]
	if ev.kind != types.ParentConversation || ev.jobID != res.Job.ID {
		t.Errorf("event routing = %s/%v, want conversation/%v", ev.kind, ev.jobID, res.Job.ID)
	}
	if ev.msg == nil || ev.msg.Role != types.RoleUser {
		t.Fatalf("event message = %+v, want the user turn", ev.msg)
	}
	if ev.msg.Seq != res.UserMessage.Seq || ev.msg.Content != "what is courage?" {
		t.Errorf("event message seq/content = %d/%q, want %d/%q",
			ev.msg.Seq, ev.msg.Content, res.UserMessage.Seq, "what is courage?")
	}

	// A matched idempotency key returns the original job without republishing.
	if _, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, conv.ID, "what is courage?", "key-ev"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got := len(f.notify.messageEvents()); got != 1 {
		t.Errorf("message events after resubmit = %d, want 1", got)
	}
}

func TestCutoverMovesOldestToArchive(t *testing.T) {
	f := newDialogueFixture(t, 4)
	conv := f.newConversation(t)

	// Three exchanges = 6 messages through a window of 4.
	for i := 0; i < 3; i++ {
		f.exchange(t, conv.ID, fmt.Sprintf("question %d", i+1))
	}

	got, err := f.svc.GetConversation(f.dbc, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	hot, err := got.DecodeRecent()
	if err != nil {
		t.Fatalf("DecodeRecent: %v", err)
	}
	if len(hot) != 4 {
		t.Fatalf("hot window = %d messages, want 4", len(hot))
	}
	for i, m := range hot {
		if want := int64(i + 3); m.Seq != want {
			t.Errorf("hot[%d].Seq = %d, want %d", i, m.Seq, want)
		}
	}
	if !got.HasArchivedMessages {
		t.Errorf("has_archived_messages not set after cutover")
	}

	count, err := f.archive.CountByParent(f.dbc, types.ParentConversation, conv.ID)
	if err != nil {
		t.Fatalf("CountByParent: %v", err)
	}
	if count != 2 {
		t.Errorf("archived = %d rows, want 2 (seqs 1 and 2)", count)
	}

	// The union of hot and cold is the full uninterrupted transcript.
	page, err := f.svc.History(f.dbc, types.ParentConversation, conv.ID, 0, 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Messages) != 6 || page.HasMore {
		t.Fatalf("history = %d messages hasMore=%v, want 6/false", len(page.Messages), page.HasMore)
	}
	for i, m := range page.Messages {
		if m.Seq != int64(i+1) {
			t.Fatalf("history[%d].Seq = %d, want %d", i, m.Seq, i+1)
		}
	}
}

func TestHistoryPaginatesAcrossHotAndCold(t *testing.T) {
	f := newDialogueFixture(t, 4)
	conv := f.newConversation(t)

	for i := 0; i < 5; i++ {
		f.exchange(t, conv.ID, fmt.Sprintf("question %d", i+1))
	}
	// 10 messages total: 1-6 cold, 7-10 hot.

	var all []types.Message
	beforeSeq := int64(0)
	for {
		page, err := f.svc.History(f.dbc, types.ParentConversation, conv.ID, beforeSeq, 3)
		if err != nil {
			t.Fatalf("History(before=%d): %v", beforeSeq, err)
		}
		if len(page.Messages) == 0 {
			break
		}
		all = append(page.Messages, all...)
		beforeSeq = page.Messages[0].Seq
		if !page.HasMore {
			break
		}
	}
	if len(all) != 10 {
		t.Fatalf("collected %d messages, want 10", len(all))
	}
	for i, m := range all {
		if m.Seq != int64(i+1) {
			t.Fatalf("all[%d].Seq = %d, want %d (no duplicates, no omissions)", i, m.Seq, i+1)
		}
	}
}

func TestFailedJobBurnsAssistantSeq(t *testing.T) {
	f := newDialogueFixture(t, 50)
	conv := f.newConversation(t)

	first, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, conv.ID, "doomed", "")
	if err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}
	f.finishJob(t, first.Job.ID, types.JobFailed)

	// Seq 2 was reserved for the failed job's reply and is never reused.
	exists, err := f.svc.SeqExists(f.dbc.Ctx, types.ParentConversation, conv.ID, first.Job.AssistantSeq)
	if err != nil {
		t.Fatalf("SeqExists: %v", err)
	}
	if exists {
		t.Fatalf("failed job left a message at its assistant seq")
	}

	second, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, conv.ID, "try again", "")
	if err != nil {
		t.Fatalf("second SubmitMessage: %v", err)
	}
	if second.UserMessage.Seq != 3 {
		t.Errorf("next user seq = %d, want 3 (seq 2 stays burned)", second.UserMessage.Seq)
	}

	page, err := f.svc.History(f.dbc, types.ParentConversation, conv.ID, 0, 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []int64{1, 3}
	if len(page.Messages) != len(want) {
		t.Fatalf("history seqs = %d messages, want %v", len(page.Messages), want)
	}
	for i, w := range want {
		if page.Messages[i].Seq != w {
			t.Fatalf("history[%d].Seq = %d, want %d", i, page.Messages[i].Seq, w)
		}
	}
}

func TestAppendAssistantIsIdempotentPerSeq(t *testing.T) {
	f := newDialogueFixture(t, 50)
	conv := f.newConversation(t)

	res, err := f.svc.SubmitMessage(f.dbc, types.ParentConversation, conv.ID, "hello", "")
	if err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}
	msg := types.Message{
		ID:        res.Job.ID,
		Role:      types.RoleAssistant,
		Content:   "and to you",
		Seq:       res.Job.AssistantSeq,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.svc.AppendAssistant(f.dbc.Ctx, types.ParentConversation, conv.ID, msg); err != nil {
		t.Fatalf("AppendAssistant: %v", err)
	}
	// Redelivery: the same reserved seq lands at most once.
	if err := f.svc.AppendAssistant(f.dbc.Ctx, types.ParentConversation, conv.ID, msg); err != nil {
		t.Fatalf("AppendAssistant redelivery: %v", err)
	}

	got, err := f.svc.GetConversation(f.dbc, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", got.MessageCount)
	}
	hot, _ := got.DecodeRecent()
	if len(hot) != 2 {
		t.Errorf("hot window = %d messages, want 2", len(hot))
	}
}

func TestOwnershipIsEnforced(t *testing.T) {
	f := newDialogueFixture(t, 50)
	conv := f.newConversation(t)

	stranger := ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: uuid.New()})
	strangerDbc := dbctx.Context{Ctx: stranger}

	if _, err := f.svc.GetConversation(strangerDbc, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetConversation by stranger: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.SubmitMessage(strangerDbc, types.ParentConversation, conv.ID, "hi", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("SubmitMessage by stranger: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.History(strangerDbc, types.ParentConversation, conv.ID, 0, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("History by stranger: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteConversationRemovesJobsAndArchive(t *testing.T) {
	f := newDialogueFixture(t, 2)
	conv := f.newConversation(t)

	for i := 0; i < 2; i++ {
		f.exchange(t, conv.ID, fmt.Sprintf("q%d", i))
	}
	if err := f.svc.DeleteConversation(f.dbc, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := f.svc.GetConversation(f.dbc, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("conversation still readable after delete: %v", err)
	}
	count, err := f.archive.CountByParent(f.dbc, types.ParentConversation, conv.ID)
	if err != nil {
		t.Fatalf("CountByParent: %v", err)
	}
	if count != 0 {
		t.Errorf("archive rows = %d after delete, want 0", count)
	}
}
