package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/maieulabs/maieutic-backend/internal/jobs"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
	"github.com/maieulabs/maieutic-backend/internal/provider"
	"github.com/maieulabs/maieutic-backend/internal/realtime"
	"github.com/maieulabs/maieutic-backend/internal/realtime/bus"
	"github.com/maieulabs/maieutic-backend/internal/services"
)

type Services struct {
	Auth      services.AuthService
	Dialogues services.DialogueService
	Canvas    services.CanvasService
	Jobs      services.JobService
	Notifier  services.DialogueNotifier

	Bus    bus.Bus
	Worker *jobs.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, hub *realtime.SSEHub) (Services, error) {
	auth, err := services.NewAuthService(log)
	if err != nil {
		return Services{}, fmt.Errorf("init auth service: %w", err)
	}

	sseBus, err := bus.NewSSEBus(log)
	if err != nil {
		return Services{}, fmt.Errorf("init sse bus: %w", err)
	}
	// Everything publishes through the bus; the forwarder fans incoming
	// messages into this process's hub.
	if err := sseBus.StartForwarder(context.Background(), hub.Broadcast); err != nil {
		return Services{}, fmt.Errorf("start sse forwarder: %w", err)
	}
	notifier := services.NewDialogueNotifier(&services.BusEmitter{Bus: sseBus})

	dialogues := services.NewDialogueService(db, log, services.DialogueConfig{
		HotWindowSize:       cfg.HotWindowSize,
		PromptTokenCost:     cfg.PromptTokenCost,
		CompletionTokenCost: cfg.CompletionTokenCost,
	}, r.Conversations, r.Nodes, r.Archive, r.Jobs, notifier)

	canvas := services.NewCanvasService(db, log, r.Nodes, r.Archive, r.Jobs)
	jobSvc := services.NewJobService(log, r.Jobs)

	prov, err := provider.FromEnv(log)
	if err != nil {
		return Services{}, fmt.Errorf("init provider: %w", err)
	}

	worker := jobs.NewWorker(log, jobs.WorkerConfig{
		Count:              cfg.WorkerCount,
		MaxAttempts:        cfg.MaxAttempts,
		RetryBase:          cfg.RetryBase,
		StaleRunning:       cfg.StaleRunning,
		ProviderTimeout:    cfg.ProviderTimeout,
		CompletedRetention: cfg.CompletedRetention,
		FailedRetention:    cfg.FailedRetention,
	}, jobs.NewRepoQueue(r.Jobs), dialogues, prov, notifier)

	return Services{
		Auth:      auth,
		Dialogues: dialogues,
		Canvas:    canvas,
		Jobs:      jobSvc,
		Notifier:  notifier,
		Bus:       sseBus,
		Worker:    worker,
	}, nil
}
