package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/maieulabs/maieutic-backend/internal/http/response"
	"github.com/maieulabs/maieutic-backend/internal/platform/dbctx"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
	"github.com/maieulabs/maieutic-backend/internal/realtime"
	"github.com/maieulabs/maieutic-backend/internal/services"
)

// RealtimeHandler serves the per-dialogue SSE streams. A stream request is
// authorized like any other read: the dialogue must exist and belong to the
// caller before the client is subscribed to its channel.
type RealtimeHandler struct {
	log       *logger.Logger
	hub       *realtime.SSEHub
	dialogues services.DialogueService
	canvas    services.CanvasService
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, dialogues services.DialogueService, canvas services.CanvasService) *RealtimeHandler {
	return &RealtimeHandler{
		log:       log.With("handler", "RealtimeHandler"),
		hub:       hub,
		dialogues: dialogues,
		canvas:    canvas,
	}
}

// GET /api/conversations/:id/stream
func (h *RealtimeHandler) StreamConversation(c *gin.Context) {
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
	h.serve(c, conv.UserID, realtime.ConversationChannel(id.String()))
}

// GET /api/nodes/:id/stream
func (h *RealtimeHandler) StreamNode(c *gin.Context) {
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
	h.serve(c, node.UserID, realtime.NodeChannel(id.String()))
}

func (h *RealtimeHandler) serve(c *gin.Context, userID uuid.UUID, channel string) {
	client := h.hub.NewSSEClient(userID)
	h.hub.AddChannel(client, channel)
	h.log.Debug("SSE stream open", "channel", channel, "clientID", client.ID)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.hub.CloseClient(client)
	h.log.Debug("SSE stream closed", "channel", channel, "clientID", client.ID)
}
