package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/maieulabs/maieutic-backend/internal/http/handlers"
	httpMW "github.com/maieulabs/maieutic-backend/internal/http/middleware"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	AuthMiddleware *httpMW.AuthMiddleware

	ConversationHandler *httpH.ConversationHandler
	CanvasHandler       *httpH.CanvasHandler
	RealtimeHandler     *httpH.RealtimeHandler
	JobHandler          *httpH.JobHandler
	HealthHandler       *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("maieutic-backend"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.ConversationHandler != nil {
			protected.POST("/conversations", cfg.ConversationHandler.Create)
			protected.GET("/conversations", cfg.ConversationHandler.List)
			protected.GET("/conversations/:id", cfg.ConversationHandler.Get)
			protected.PATCH("/conversations/:id", cfg.ConversationHandler.Patch)
			protected.DELETE("/conversations/:id", cfg.ConversationHandler.Delete)
			protected.POST("/conversations/:id/messages", cfg.ConversationHandler.SubmitMessage)
			protected.GET("/conversations/:id/history", cfg.ConversationHandler.History)
		}

		if cfg.CanvasHandler != nil {
			protected.POST("/canvases/:id/nodes", cfg.CanvasHandler.CreateNode)
			protected.GET("/canvases/:id/nodes", cfg.CanvasHandler.ListNodes)
			protected.GET("/nodes/:id", cfg.CanvasHandler.GetNode)
			protected.PATCH("/nodes/:id", cfg.CanvasHandler.PatchNode)
			protected.DELETE("/nodes/:id", cfg.CanvasHandler.DeleteNode)
			protected.POST("/nodes/:id/messages", cfg.CanvasHandler.SubmitMessage)
			protected.GET("/nodes/:id/history", cfg.CanvasHandler.History)
		}

		if cfg.RealtimeHandler != nil {
			protected.GET("/conversations/:id/stream", cfg.RealtimeHandler.StreamConversation)
			protected.GET("/nodes/:id/stream", cfg.RealtimeHandler.StreamNode)
		}

		if cfg.JobHandler != nil {
			protected.GET("/jobs/:id", cfg.JobHandler.GetJob)
		}
	}

	return r
}
