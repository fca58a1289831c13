package app

import (
	httpH "github.com/maieulabs/maieutic-backend/internal/http/handlers"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
	"github.com/maieulabs/maieutic-backend/internal/realtime"
)

type Handlers struct {
	Health       *httpH.HealthHandler
	Conversation *httpH.ConversationHandler
	Canvas       *httpH.CanvasHandler
	Realtime     *httpH.RealtimeHandler
	Job          *httpH.JobHandler
}

func wireHandlers(log *logger.Logger, s Services, hub *realtime.SSEHub) Handlers {
	return Handlers{
		Health:       httpH.NewHealthHandler(),
		Conversation: httpH.NewConversationHandler(s.Dialogues),
		Canvas:       httpH.NewCanvasHandler(s.Canvas, s.Dialogues),
		Realtime:     httpH.NewRealtimeHandler(log, hub, s.Dialogues, s.Canvas),
		Job:          httpH.NewJobHandler(s.Jobs),
	}
}
