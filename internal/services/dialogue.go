package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/maieulabs/maieutic-backend/internal/data/repos"
	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/ctxutil"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDialogueBusy = errors.New("dialogue is busy")
)

const maxMessageLen = 20000

// DialogueConfig carries the tunables shared by the submit and append paths.
type DialogueConfig struct {
	// HotWindowSize bounds recent_messages; overflow cuts over to cold
	// storage in the same transaction.
	HotWindowSize int
	// Cost rates per token, used to keep estimated_cost current.
	PromptTokenCost     float64
	CompletionTokenCost float64
}

type ConversationPatch struct {
	Title     *string
	Technique *types.Technique
	Tags      []string
	Favorite  *bool
	Archived  *bool
}

type SubmitResult struct {
	Job         *types.CompletionJob
	UserMessage *types.Message
	// Position is the 1-based place in the queue at submit time.
	Position int64
	// Resubmitted is true when an idempotency key matched an earlier submit.
	Resubmitted bool
}

type HistoryPage struct {
	Messages []types.Message
	HasMore  bool
}

/*
DialogueService owns everything that touches a dialogue transcript:
  - conversation CRUD
  - SubmitMessage: persists the user message, reserves the assistant seq and
    enqueues the completion job, all in one transaction
  - History: seamless hot+cold pagination
  - AppendAssistant / FailAssistant: worker-side finalization

Canvas node dialogues share the submit/history/append paths through
ParentKind; node CRUD lives in CanvasService.
*/
type DialogueService interface {
	CreateConversation(dbc dbctx.Context, title string, technique types.Technique, tags []string) (*types.Conversation, error)
	ListConversations(dbc dbctx.Context, filter repos.ConversationListFilter) ([]*types.Conversation, error)
	GetConversation(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error)
	PatchConversation(dbc dbctx.Context, id uuid.UUID, patch ConversationPatch) (*types.Conversation, error)
	DeleteConversation(dbc dbctx.Context, id uuid.UUID) error

	SubmitMessage(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, content string, idempotencyKey string) (*SubmitResult, error)
	History(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, beforeSeq int64, limit int) (*HistoryPage, error)

	// Worker-side. These authenticate by job ownership, not request context.
	Transcript(ctx context.Context, kind types.ParentKind, parentID uuid.UUID) ([]types.Message, types.Technique, error)
	SeqExists(ctx context.Context, kind types.ParentKind, parentID uuid.UUID, seq int64) (bool, error)
	AppendAssistant(ctx context.Context, kind types.ParentKind, parentID uuid.UUID, msg types.Message) error
}

type dialogueService struct {
	db            *gorm.DB
	log           *logger.Logger
	cfg           DialogueConfig
	conversations repos.ConversationRepo
	nodes         repos.CanvasNodeRepo
	archive       repos.ArchivedMessageRepo
	jobs          repos.CompletionJobRepo
	notify        DialogueNotifier
}

func NewDialogueService(
	db *gorm.DB,
	log *logger.Logger,
	cfg DialogueConfig,
	conversations repos.ConversationRepo,
	nodes repos.CanvasNodeRepo,
	archive repos.ArchivedMessageRepo,
	jobs repos.CompletionJobRepo,
	notify DialogueNotifier,
) DialogueService {
	if cfg.HotWindowSize <= 0 {
		cfg.HotWindowSize = 50
	}
	return &dialogueService{
		db:            db,
		log:           log.With("service", "DialogueService"),
		cfg:           cfg,
		conversations: conversations,
		nodes:         nodes,
		archive:       archive,
		jobs:          jobs,
		notify:        notify,
	}
}

func (s *dialogueService) CreateConversation(dbc dbctx.Context, title string, technique types.Technique, tags []string) (*types.Conversation, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Dialogue"
	}
	if technique == "" {
		technique = types.TechniqueMaieutics
	}
	if !technique.Valid() {
		return nil, fmt.Errorf("unknown technique %q", technique)
	}
	if tags == nil {
		tags = []string{}
	}
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}

	row := &types.Conversation{
		UserID:    rd.UserID,
		Title:     title,
		Technique: technique,
		Tags:      datatypes.JSON(rawTags),
		DialogueState: types.DialogueState{
			RecentMessages: datatypes.JSON([]byte("[]")),
			LastMessageAt:  time.Now().UTC(),
		},
	}
	created, err := s.conversations.Create(dbc, []*types.Conversation{row})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (s *dialogueService) ListConversations(dbc dbctx.Context, filter repos.ConversationListFilter) ([]*types.Conversation, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	return s.conversations.ListByUser(dbc, rd.UserID, filter)
}

func (s *dialogueService) GetConversation(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	rows, err := s.conversations.GetByIDs(dbc, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].UserID != rd.UserID {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (s *dialogueService) PatchConversation(dbc dbctx.Context, id uuid.UUID, patch ConversationPatch) (*types.Conversation, error) {
	row, err := s.GetConversation(dbc, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("title cannot be empty")
		}
		updates["title"] = title
		row.Title = title
	}
	if patch.Technique != nil {
		if !patch.Technique.Valid() {
			return nil, fmt.Errorf("unknown technique %q", *patch.Technique)
		}
		updates["technique"] = *patch.Technique
		row.Technique = *patch.Technique
	}
	if patch.Tags != nil {
		rawTags, err := json.Marshal(patch.Tags)
		if err != nil {
			return nil, err
		}
		updates["tags"] = datatypes.JSON(rawTags)
		row.Tags = datatypes.JSON(rawTags)
	}
	if patch.Favorite != nil {
		updates["favorite"] = *patch.Favorite
		row.Favorite = *patch.Favorite
	}
	if patch.Archived != nil {
		updates["archived"] = *patch.Archived
		row.Archived = *patch.Archived
	}
	if len(updates) == 0 {
		return row, nil
	}
	if err := s.conversations.UpdateFields(dbc, id, updates); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *dialogueService) DeleteConversation(dbc dbctx.Context, id uuid.UUID) error {
	if _, err := s.GetConversation(dbc, id); err != nil {
		return err
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	return transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}
		if err := s.jobs.DeleteByParents(inner, types.ParentConversation, []uuid.UUID{id}); err != nil {
			return err
		}
		if err := s.archive.DeleteByParents(inner, types.ParentConversation, []uuid.UUID{id}); err != nil {
			return err
		}
		return s.conversations.Delete(inner, id)
	})
}

func (s *dialogueService) SubmitMessage(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, content string, idempotencyKey string) (*SubmitResult, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	if parentID == uuid.Nil {
		return nil, fmt.Errorf("missing dialogue id")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("missing content")
	}
	if len(content) > maxMessageLen {
		return nil, fmt.Errorf("message too large")
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if len(idempotencyKey) > 200 {
		return nil, fmt.Errorf("idempotency key too long")
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}

	// Fast-path idempotency (no lock): clients can retry while the original
	// job is still running.
	if idempotencyKey != "" {
		if existing, err := s.jobs.GetByIdempotencyKey(repoCtx, kind, parentID, idempotencyKey); err != nil {
			return nil, err
		} else if existing != nil && existing.OwnerUserID == rd.UserID {
			return s.resultForExisting(repoCtx, kind, parentID, existing)
		}
	}

	has, err := s.jobs.HasRunnableForParent(repoCtx, kind, parentID)
	if err != nil {
		return nil, err
	}
	if has {
		return nil, ErrDialogueBusy
	}

	var result *SubmitResult
	err = transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		state, _, ownerID, err := s.lockParent(inner, kind, parentID)
		if err != nil {
			return err
		}
		if ownerID != rd.UserID {
			return ErrNotFound
		}

		// Re-check under the lock; two concurrent submits both pass the
		// unlocked guard otherwise.
		if idempotencyKey != "" {
			if existing, err := s.jobs.GetByIdempotencyKey(inner, kind, parentID, idempotencyKey); err != nil {
				return err
			} else if existing != nil && existing.OwnerUserID == rd.UserID {
				result, err = s.resultForExisting(inner, kind, parentID, existing)
				return err
			}
		}
		has, err := s.jobs.HasRunnableForParent(inner, kind, parentID)
		if err != nil {
			return err
		}
		if has {
			return ErrDialogueBusy
		}

		now := time.Now().UTC()

		// Reserve both sequence numbers up front: the user message takes
		// next_seq+1, the eventual assistant reply takes next_seq+2. If the
		// job dies, the assistant seq stays burned.
		userSeq := state.NextSeq + 1
		assistantSeq := state.NextSeq + 2
		state.NextSeq += 2

		userMsg := types.Message{
			ID:        uuid.New(),
			Role:      types.RoleUser,
			Content:   content,
			Seq:       userSeq,
			CreatedAt: now,
		}
		if err := s.appendToWindow(inner, kind, parentID, state, []types.Message{userMsg}); err != nil {
			return err
		}
		state.MessageCount++
		state.LastMessageAt = now

		if err := s.saveParentState(inner, kind, parentID, state); err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]any{"content": content})
		if err != nil {
			return err
		}
		job := &types.CompletionJob{
			OwnerUserID:      rd.UserID,
			ParentKind:       kind,
			ParentID:         parentID,
			TriggerMessageID: userMsg.ID,
			TriggerSeq:       userSeq,
			AssistantSeq:     assistantSeq,
			Status:           types.JobQueued,
			IdempotencyKey:   idempotencyKey,
			NextRunAt:        now,
			Payload:          datatypes.JSON(payload),
		}
		created, err := s.jobs.Create(inner, []*types.CompletionJob{job})
		if err != nil {
			return err
		}
		job = created[0]

		depth, err := s.jobs.QueueDepthBefore(inner, job.CreatedAt)
		if err != nil {
			return err
		}
		result = &SubmitResult{
			Job:         job,
			UserMessage: &userMsg,
			Position:    depth + 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Every subscriber of the dialogue's channel sees the confirmed user turn
	// on the stream; the worker's assistant events follow at a higher seq. A
	// resubmit matched an earlier job whose user event already went out.
	if s.notify != nil && !result.Resubmitted {
		s.notify.Message(kind, parentID, result.Job.ID, result.UserMessage)
	}
	return result, nil
}

func (s *dialogueService) resultForExisting(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, job *types.CompletionJob) (*SubmitResult, error) {
	res := &SubmitResult{Job: job, Resubmitted: true}
	if job.Status == types.JobQueued {
		depth, err := s.jobs.QueueDepthBefore(dbc, job.CreatedAt)
		if err != nil {
			return nil, err
		}
		res.Position = depth + 1
	}
	if msg, err := s.findMessage(dbc, kind, parentID, job.TriggerSeq); err == nil && msg != nil {
		res.UserMessage = msg
	}
	return res, nil
}

func (s *dialogueService) History(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, beforeSeq int64, limit int) (*HistoryPage, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	state, _, ownerID, err := s.loadParent(dbc, kind, parentID)
	if err != nil {
		return nil, err
	}
	if ownerID != rd.UserID {
		return nil, ErrNotFound
	}

	hot, err := state.DecodeRecent()
	if err != nil {
		return nil, err
	}
	if beforeSeq > 0 {
		filtered := hot[:0]
		for _, m := range hot {
			if m.Seq < beforeSeq {
				filtered = append(filtered, m)
			}
		}
		hot = filtered
	}

	var page []types.Message
	hasMore := false
	if len(hot) >= limit {
		page = append(page, hot[len(hot)-limit:]...)
		hasMore = len(hot) > limit || state.HasArchivedMessages
		return &HistoryPage{Messages: page, HasMore: hasMore}, nil
	}

	page = append(page, hot...)
	if !state.HasArchivedMessages {
		return &HistoryPage{Messages: page, HasMore: false}, nil
	}

	// Fill the rest of the page from cold storage; fetch one extra row to
	// learn whether older messages remain.
	coldBefore := beforeSeq
	if len(page) > 0 {
		coldBefore = page[0].Seq
	}
	if coldBefore == 0 {
		coldBefore = state.NextSeq + 1
	}
	need := limit - len(page)
	rows, err := s.archive.ListBefore(dbc, kind, parentID, coldBefore, need+1)
	if err != nil {
		return nil, err
	}
	if len(rows) > need {
		hasMore = true
		rows = rows[:need]
	}
	// rows arrive newest-first
	cold := make([]types.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		cold = append(cold, messageFromArchived(rows[i]))
	}
	page = append(cold, page...)
	return &HistoryPage{Messages: page, HasMore: hasMore}, nil
}

func (s *dialogueService) Transcript(ctx context.Context, kind types.ParentKind, parentID uuid.UUID) ([]types.Message, types.Technique, error) {
	dbc := dbctx.Context{Ctx: ctx}
	state, technique, _, err := s.loadParent(dbc, kind, parentID)
	if err != nil {
		return nil, "", err
	}
	msgs, err := state.DecodeRecent()
	if err != nil {
		return nil, "", err
	}
	return msgs, technique, nil
}

func (s *dialogueService) SeqExists(ctx context.Context, kind types.ParentKind, parentID uuid.UUID, seq int64) (bool, error) {
	dbc := dbctx.Context{Ctx: ctx}
	msg, err := s.findMessage(dbc, kind, parentID, seq)
	if err != nil {
		return false, err
	}
	return msg != nil, nil
}

func (s *dialogueService) AppendAssistant(ctx context.Context, kind types.ParentKind, parentID uuid.UUID, msg types.Message) error {
	if msg.Seq <= 0 {
		return fmt.Errorf("missing seq")
	}
	return s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctx, Tx: txx}
		state, _, _, err := s.lockParent(inner, kind, parentID)
		if err != nil {
			return err
		}

		// Redelivery check under the lock: the reserved seq lands at most once.
		hot, err := state.DecodeRecent()
		if err != nil {
			return err
		}
		for _, m := range hot {
			if m.Seq == msg.Seq {
				return nil
			}
		}
		if state.HasArchivedMessages {
			exists, err := s.archive.HasSeq(inner, kind, parentID, msg.Seq)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
		}

		if err := s.appendToWindow(inner, kind, parentID, state, []types.Message{msg}); err != nil {
			return err
		}
		state.MessageCount++
		state.LastMessageAt = msg.CreatedAt
		if msg.Meta != nil {
			state.PromptTokens += int64(msg.Meta.PromptTokens)
			state.CompletionTokens += int64(msg.Meta.CompletionTokens)
			state.EstimatedCost += float64(msg.Meta.PromptTokens)*s.cfg.PromptTokenCost +
				float64(msg.Meta.CompletionTokens)*s.cfg.CompletionTokenCost
		}
		return s.saveParentState(inner, kind, parentID, state)
	})
}

// appendToWindow appends msgs to the hot window in seq order and cuts the
// overflow over to cold storage inside the caller's transaction, so readers
// never observe a message in both places or neither.
func (s *dialogueService) appendToWindow(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, state *types.DialogueState, msgs []types.Message) error {
	recent, err := state.DecodeRecent()
	if err != nil {
		return err
	}
	recent = append(recent, msgs...)
	sort.Slice(recent, func(i, j int) bool { return recent[i].Seq < recent[j].Seq })

	if len(recent) > s.cfg.HotWindowSize {
		cut := recent[:len(recent)-s.cfg.HotWindowSize]
		recent = recent[len(recent)-s.cfg.HotWindowSize:]

		now := time.Now().UTC()
		rows := make([]*types.ArchivedMessage, 0, len(cut))
		for _, m := range cut {
			rawMeta := []byte("{}")
			if m.Meta != nil {
				if encoded, err := json.Marshal(m.Meta); err == nil {
					rawMeta = encoded
				}
			}
			rows = append(rows, &types.ArchivedMessage{
				ParentKind: kind,
				ParentID:   parentID,
				Seq:        m.Seq,
				MessageID:  m.ID,
				Role:       m.Role,
				Content:    m.Content,
				Meta:       datatypes.JSON(rawMeta),
				CreatedAt:  m.CreatedAt,
				ArchivedAt: now,
			})
		}
		if _, err := s.archive.Create(dbc, rows); err != nil {
			return err
		}
		state.HasArchivedMessages = true
	}
	return state.SetRecent(recent)
}

func (s *dialogueService) findMessage(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, seq int64) (*types.Message, error) {
	state, _, _, err := s.loadParent(dbc, kind, parentID)
	if err != nil {
		return nil, err
	}
	hot, err := state.DecodeRecent()
	if err != nil {
		return nil, err
	}
	for i := range hot {
		if hot[i].Seq == seq {
			return &hot[i], nil
		}
	}
	if !state.HasArchivedMessages {
		return nil, nil
	}
	rows, err := s.archive.ListBefore(dbc, kind, parentID, seq+1, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 && rows[0].Seq == seq {
		msg := messageFromArchived(rows[0])
		return &msg, nil
	}
	return nil, nil
}

func (s *dialogueService) loadParent(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID) (*types.DialogueState, types.Technique, uuid.UUID, error) {
	switch kind {
	case types.ParentConversation:
		rows, err := s.conversations.GetByIDs(dbc, []uuid.UUID{parentID})
		if err != nil {
			return nil, "", uuid.Nil, err
		}
		if len(rows) == 0 {
			return nil, "", uuid.Nil, ErrNotFound
		}
		return &rows[0].DialogueState, rows[0].Technique, rows[0].UserID, nil
	case types.ParentNode:
		rows, err := s.nodes.GetByIDs(dbc, []uuid.UUID{parentID})
		if err != nil {
			return nil, "", uuid.Nil, err
		}
		if len(rows) == 0 {
			return nil, "", uuid.Nil, ErrNotFound
		}
		return &rows[0].DialogueState, rows[0].Technique, rows[0].UserID, nil
	default:
		return nil, "", uuid.Nil, fmt.Errorf("unknown parent kind %q", kind)
	}
}

func (s *dialogueService) lockParent(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID) (*types.DialogueState, types.Technique, uuid.UUID, error) {
	switch kind {
	case types.ParentConversation:
		row, err := s.conversations.LockByID(dbc, parentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", uuid.Nil, ErrNotFound
			}
			return nil, "", uuid.Nil, err
		}
		return &row.DialogueState, row.Technique, row.UserID, nil
	case types.ParentNode:
		row, err := s.nodes.LockByID(dbc, parentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", uuid.Nil, ErrNotFound
			}
			return nil, "", uuid.Nil, err
		}
		return &row.DialogueState, row.Technique, row.UserID, nil
	default:
		return nil, "", uuid.Nil, fmt.Errorf("unknown parent kind %q", kind)
	}
}

func (s *dialogueService) saveParentState(dbc dbctx.Context, kind types.ParentKind, parentID uuid.UUID, state *types.DialogueState) error {
	updates := map[string]interface{}{
		"next_seq":              state.NextSeq,
		"recent_messages":       state.RecentMessages,
		"has_archived_messages": state.HasArchivedMessages,
		"message_count":         state.MessageCount,
		"prompt_tokens":         state.PromptTokens,
		"completion_tokens":     state.CompletionTokens,
		"estimated_cost":        state.EstimatedCost,
		"last_message_at":       state.LastMessageAt,
	}
	switch kind {
	case types.ParentConversation:
		return s.conversations.UpdateFields(dbc, parentID, updates)
	case types.ParentNode:
		return s.nodes.UpdateFields(dbc, parentID, updates)
	default:
		return fmt.Errorf("unknown parent kind %q", kind)
	}
}

func messageFromArchived(row *types.ArchivedMessage) types.Message {
	msg := types.Message{
		ID:        row.MessageID,
		Role:      row.Role,
		Content:   row.Content,
		Seq:       row.Seq,
		CreatedAt: row.CreatedAt,
	}
	if len(row.Meta) > 0 && string(row.Meta) != "{}" {
		var meta types.MessageMeta
		if err := json.Unmarshal(row.Meta, &meta); err == nil {
			msg.Meta = &meta
		}
	}
	return msg
}
