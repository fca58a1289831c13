package app

import (
	"github.com/gin-gonic/gin"

	httpx "github.com/maieulabs/maieutic-backend/internal/http"
	httpMW "github.com/maieulabs/maieutic-backend/internal/http/middleware"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, h Handlers, auth *httpMW.AuthMiddleware) *gin.Engine {
	return httpx.NewRouter(httpx.RouterConfig{
		Log:                 log,
		AuthMiddleware:      auth,
		ConversationHandler: h.Conversation,
		CanvasHandler:       h.Canvas,
		RealtimeHandler:     h.Realtime,
		JobHandler:          h.Job,
		HealthHandler:       h.Health,
	})
}
