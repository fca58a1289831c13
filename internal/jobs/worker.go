package jobs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	types "github.com/maieulabs/maieutic-backend/internal/domain"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
	"github.com/maieulabs/maieutic-backend/internal/provider"
	"github.com/maieulabs/maieutic-backend/internal/services"
)

type WorkerConfig struct {
	Count           int
	PollInterval    time.Duration
	MaxAttempts     int
	RetryBase       time.Duration
	StaleRunning    time.Duration
	ProviderTimeout time.Duration

	HeartbeatInterval  time.Duration
	JanitorInterval    time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.Count <= 0 {
		c.Count = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 2 * time.Minute
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 45 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Hour
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = 24 * time.Hour
	}
	if c.FailedRetention <= 0 {
		c.FailedRetention = 7 * 24 * time.Hour
	}
}

/*
Worker drains the completion queue. Each of cfg.Count loops polls Claim on a
ticker; the claim query itself guarantees at most one running job per dialogue,
so loops never coordinate with each other.

One claimed job runs through handle():
 1. redelivery check (assistant seq already persisted -> finish without a
    provider call)
 2. build the provider request from the hot window + technique prompt
 3. call the provider under ProviderTimeout
 4. persist the assistant message at its reserved seq, then publish
    message/complete

Failures split on provider.IsRetryable: transient errors re-queue with
exponential delay until MaxAttempts, permanent errors (and exhausted budgets)
fail the job and publish a single error event.
*/
type Worker struct {
	log       *logger.Logger
	cfg       WorkerConfig
	queue     Queue
	dialogues services.DialogueService
	prov      provider.Provider
	notify    services.DialogueNotifier
}

func NewWorker(
	log *logger.Logger,
	cfg WorkerConfig,
	queue Queue,
	dialogues services.DialogueService,
	prov provider.Provider,
	notify services.DialogueNotifier,
) *Worker {
	cfg.applyDefaults()
	return &Worker{
		log:       log.With("component", "CompletionWorker"),
		cfg:       cfg,
		queue:     queue,
		dialogues: dialogues,
		prov:      prov,
		notify:    notify,
	}
}

// Start launches the worker loops and the janitor; it returns immediately and
// the loops stop when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Count; i++ {
		g.Go(func() error {
			w.runLoop(gctx)
			return nil
		})
	}
	g.Go(func() error {
		w.janitorLoop(gctx)
		return nil
	})
	go func() { _ = g.Wait() }()
}

func (w *Worker) runLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.queue.Claim(ctx, w.cfg.StaleRunning)
			if err != nil {
				w.log.Warn("Claim failed", "error", err)
				continue
			}
			if job == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						w.log.Error("Job handler panic", "job_id", job.ID, "panic", r)
						w.finishFailed(ctx, job, fmt.Sprintf("panic: %v", r))
					}
				}()
				w.handle(ctx, job)
			}()
		}
	}
}

func (w *Worker) handle(ctx context.Context, job *types.CompletionJob) {
	log := w.log.With("job_id", job.ID, "parent_kind", job.ParentKind, "parent_id", job.ParentID, "attempt", job.Attempts)

	w.notify.Processing(job.ParentKind, job.ParentID, job.ID, job.Attempts)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, job)

	// Redelivery: a stale-reclaimed job may have already persisted its
	// assistant message. The reserved seq must land at most once.
	exists, err := w.dialogues.SeqExists(ctx, job.ParentKind, job.ParentID, job.AssistantSeq)
	if err != nil {
		w.retryOrFail(ctx, job, fmt.Errorf("redelivery check: %w", err), true)
		return
	}
	if exists {
		log.Info("Assistant message already persisted; completing without provider call")
		if err := w.queue.Succeed(ctx, job.ID, map[string]any{"redelivered": true}); err != nil {
			log.Warn("Succeed after redelivery failed", "error", err)
		}
		w.notify.Complete(job.ParentKind, job.ParentID, job.ID)
		return
	}

	transcript, technique, err := w.dialogues.Transcript(ctx, job.ParentKind, job.ParentID)
	if err != nil {
		w.retryOrFail(ctx, job, fmt.Errorf("load transcript: %w", err), true)
		return
	}

	req := provider.Request{System: SystemPrompt(technique)}
	for _, m := range transcript {
		if m.Seq > job.TriggerSeq {
			continue
		}
		if m.Role != types.RoleUser && m.Role != types.RoleAssistant {
			continue
		}
		req.Messages = append(req.Messages, provider.ChatMessage{Role: m.Role, Content: m.Content})
	}
	if len(req.Messages) == 0 {
		w.finishFailed(ctx, job, "trigger message missing from transcript")
		return
	}

	w.notify.Progress(job.ParentKind, job.ParentID, job.ID, job.Attempts, "calling provider")

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.ProviderTimeout)
	start := time.Now()
	completion, err := w.prov.Complete(callCtx, req)
	cancel()
	if err != nil {
		w.retryOrFail(ctx, job, fmt.Errorf("provider: %w", err), provider.IsRetryable(err))
		return
	}

	msg := types.Message{
		ID:        job.ID, // the assistant message id doubles as the job id
		Role:      types.RoleAssistant,
		Content:   completion.Content,
		Seq:       job.AssistantSeq,
		CreatedAt: time.Now().UTC(),
		Meta: &types.MessageMeta{
			PromptTokens:     completion.PromptTokens,
			CompletionTokens: completion.CompletionTokens,
			Model:            completion.Model,
			LatencyMs:        time.Since(start).Milliseconds(),
		},
	}
	if err := w.dialogues.AppendAssistant(ctx, job.ParentKind, job.ParentID, msg); err != nil {
		w.retryOrFail(ctx, job, fmt.Errorf("persist assistant message: %w", err), true)
		return
	}

	if err := w.queue.Succeed(ctx, job.ID, map[string]any{
		"seq":   msg.Seq,
		"model": completion.Model,
	}); err != nil {
		log.Warn("Succeed failed", "error", err)
	}
	w.notify.Message(job.ParentKind, job.ParentID, job.ID, &msg)
	w.notify.Complete(job.ParentKind, job.ParentID, job.ID)
	log.Info("Completion delivered", "seq", msg.Seq, "latency_ms", msg.Meta.LatencyMs)
}

func (w *Worker) retryOrFail(ctx context.Context, job *types.CompletionJob, cause error, retryable bool) {
	if retryable && job.Attempts < w.cfg.MaxAttempts {
		attempt := job.Attempts
		if attempt < 1 {
			attempt = 1
		}
		delay := w.cfg.RetryBase << (attempt - 1)
		next := time.Now().Add(delay)
		w.log.Warn("Job attempt failed; re-queueing",
			"job_id", job.ID, "attempt", job.Attempts, "delay", delay, "error", cause)
		if err := w.queue.Retry(ctx, job.ID, cause.Error(), next); err != nil {
			w.log.Error("Retry transition failed", "job_id", job.ID, "error", err)
		}
		w.notify.Progress(job.ParentKind, job.ParentID, job.ID, job.Attempts,
			fmt.Sprintf("attempt %d failed; retrying", job.Attempts))
		return
	}
	w.finishFailed(ctx, job, cause.Error())
}

// finishFailed is the single place a job goes terminal-failed, which keeps the
// one-error-event-per-job guarantee.
func (w *Worker) finishFailed(ctx context.Context, job *types.CompletionJob, errMsg string) {
	w.log.Error("Job failed permanently", "job_id", job.ID, "attempts", job.Attempts, "error", errMsg)
	if err := w.queue.Fail(ctx, job.ID, errMsg); err != nil {
		w.log.Error("Fail transition failed", "job_id", job.ID, "error", err)
	}
	w.notify.Error(job.ParentKind, job.ParentID, job.ID, errMsg)
}

func (w *Worker) heartbeatLoop(ctx context.Context, job *types.CompletionJob) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(ctx, job.ID); err != nil {
				w.log.Warn("Heartbeat failed", "job_id", job.ID, "error", err)
			}
		}
	}
}

func (w *Worker) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			purged, err := w.queue.PurgeTerminal(ctx,
				now.Add(-w.cfg.CompletedRetention),
				now.Add(-w.cfg.FailedRetention),
			)
			if err != nil {
				w.log.Warn("Janitor purge failed", "error", err)
				continue
			}
			if purged > 0 {
				w.log.Info("Purged terminal jobs", "count", purged)
			}
		}
	}
}
