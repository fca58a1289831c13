package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/maieulabs/maieutic-backend/internal/data/repos"
	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/http/response"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/services"
)

type ConversationHandler struct {
	dialogues services.DialogueService
}

func NewConversationHandler(dialogues services.DialogueService) *ConversationHandler {
	return &ConversationHandler{dialogues: dialogues}
}

type createConversationReq struct {
	Title     string          `json:"title"`
	Technique types.Technique `json:"technique"`
	Tags      []string        `json:"tags"`
}

// POST /api/conversations
func (h *ConversationHandler) Create(c *gin.Context) {
	var req createConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	conv, err := h.dialogues.CreateConversation(dbc, req.Title, req.Technique, req.Tags)
	if err != nil {
		respondServiceError(c, "create_conversation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv})
}

// GET /api/conversations?favorite=&archived=&tag=&limit=
func (h *ConversationHandler) List(c *gin.Context) {
	filter := repos.ConversationListFilter{Tag: strings.TrimSpace(c.Query("tag"))}
	if v := strings.TrimSpace(c.Query("favorite")); v != "" {
		b := v == "true" || v == "1"
		filter.Favorite = &b
	}
	if v := strings.TrimSpace(c.Query("archived")); v != "" {
		b := v == "true" || v == "1"
		filter.Archived = &b
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	rows, err := h.dialogues.ListConversations(dbc, filter)
	if err != nil {
		respondServiceError(c, "list_conversations_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": rows})
}

// GET /api/conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	conv, err := h.dialogues.GetConversation(dbc, id)
	if err != nil {
		respondServiceError(c, "conversation_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv})
}

type patchConversationReq struct {
	Title     *string          `json:"title"`
	Technique *types.Technique `json:"technique"`
	Tags      []string         `json:"tags"`
	Favorite  *bool            `json:"favorite"`
	Archived  *bool            `json:"archived"`
}

// PATCH /api/conversations/:id
func (h *ConversationHandler) Patch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	var req patchConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	conv, err := h.dialogues.PatchConversation(dbc, id, services.ConversationPatch{
		Title:     req.Title,
		Technique: req.Technique,
		Tags:      req.Tags,
		Favorite:  req.Favorite,
		Archived:  req.Archived,
	})
	if err != nil {
		respondServiceError(c, "patch_conversation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv})
}

// DELETE /api/conversations/:id
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.dialogues.DeleteConversation(dbc, id); err != nil {
		respondServiceError(c, "delete_conversation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": id})
}

type submitMessageReq struct {
	Content string `json:"content"`
}

// POST /api/conversations/:id/messages
func (h *ConversationHandler) SubmitMessage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	var req submitMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	res, err := h.dialogues.SubmitMessage(dbc, types.ParentConversation, id, req.Content, c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondServiceError(c, "submit_message_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"job_id":      res.Job.ID,
		"position":    res.Position,
		"message":     res.UserMessage,
		"resubmitted": res.Resubmitted,
	})
}

// GET /api/conversations/:id/history?before_seq=&limit=
func (h *ConversationHandler) History(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	beforeSeq := int64(0)
	if v := strings.TrimSpace(c.Query("before_seq")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			beforeSeq = n
		}
	}
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	page, err := h.dialogues.History(dbc, types.ParentConversation, id, beforeSeq, limit)
	if err != nil {
		respondServiceError(c, "history_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"messages": page.Messages, "has_more": page.HasMore})
}
