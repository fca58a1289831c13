package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/http/response"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/services"
)

type CanvasHandler struct {
	canvas    services.CanvasService
	dialogues services.DialogueService
}

func NewCanvasHandler(canvas services.CanvasService, dialogues services.DialogueService) *CanvasHandler {
	return &CanvasHandler{canvas: canvas, dialogues: dialogues}
}

type createNodeReq struct {
	ParentNodeID *uuid.UUID      `json:"parent_node_id"`
	Title        string          `json:"title"`
	Technique    types.Technique `json:"technique"`
}

// POST /api/canvases/:id/nodes
func (h *CanvasHandler) CreateNode(c *gin.Context) {
	canvasID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_canvas_id", err)
		return
	}
	var req createNodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	node, err := h.canvas.CreateNode(dbc, canvasID, req.ParentNodeID, req.Title, req.Technique)
	if err != nil {
		respondServiceError(c, "create_node_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"node": node})
}

// GET /api/canvases/:id/nodes
func (h *CanvasHandler) ListNodes(c *gin.Context) {
	canvasID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_canvas_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	nodes, err := h.canvas.ListNodes(dbc, canvasID)
	if err != nil {
		respondServiceError(c, "list_nodes_failed", err)
		return
	}
	items := make([]gin.H, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, gin.H{"node": n, "explored": n.Explored()})
	}
	response.RespondOK(c, gin.H{"nodes": items})
}

// GET /api/nodes/:id
func (h *CanvasHandler) GetNode(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	node, err := h.canvas.GetNode(dbc, id)
	if err != nil {
		respondServiceError(c, "node_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"node": node, "explored": node.Explored()})
}

type patchNodeReq struct {
	Title     *string          `json:"title"`
	Technique *types.Technique `json:"technique"`
}

// PATCH /api/nodes/:id
func (h *CanvasHandler) PatchNode(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
		return
	}
	var req patchNodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	node, err := h.canvas.PatchNode(dbc, id, services.NodePatch{Title: req.Title, Technique: req.Technique})
	if err != nil {
		respondServiceError(c, "patch_node_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"node": node})
}

// DELETE /api/nodes/:id?cascade=true
func (h *CanvasHandler) DeleteNode(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
		return
	}
	cascade := false
	if v := strings.TrimSpace(c.Query("cascade")); v != "" {
		cascade = v == "true" || v == "1"
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	deleted, err := h.canvas.DeleteNode(dbc, id, cascade)
	if err != nil {
		respondServiceError(c, "delete_node_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": deleted})
}

// POST /api/nodes/:id/messages
func (h *CanvasHandler) SubmitMessage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
		return
	}
	var req submitMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	res, err := h.dialogues.SubmitMessage(dbc, types.ParentNode, id, req.Content, c.GetHeader("Idempotency-Key"))
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

// GET /api/nodes/:id/history?before_seq=&limit=
func (h *CanvasHandler) History(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
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
	page, err := h.dialogues.History(dbc, types.ParentNode, id, beforeSeq, limit)
	if err != nil {
		respondServiceError(c, "history_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"messages": page.Messages, "has_more": page.HasMore})
}
