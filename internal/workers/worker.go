// Package workers runs the claim loop that drains the task queue and routes
// jobs to their handlers.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stockwatch/monitor-service/internal/taskqueue"
)

// Handler processes one claimed job payload. Returning a non-nil error fails
// the job; wrap it in Permanent to suppress retries.
type Handler func(ctx context.Context, payload []byte) error

// PermanentError marks a job failure that must not be retried, e.g. a store
// response that fails schema validation and will keep failing.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the worker fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type Config struct {
	WorkerID   string
	Kinds      []string
	MaxTasks   int
	NumWorkers int
	PollDelay  time.Duration
}

type Worker struct {
	queue    *taskqueue.TaskQueue
	config   Config
	handlers map[string]Handler
	stopChan chan struct{}
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

func New(queue *taskqueue.TaskQueue, config Config, logger zerolog.Logger) *Worker {
	if config.MaxTasks <= 0 {
		config.MaxTasks = 5
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	if config.PollDelay <= 0 {
		config.PollDelay = 5 * time.Second
	}
	return &Worker{
		queue:    queue,
		config:   config,
		handlers: make(map[string]Handler),
		stopChan: make(chan struct{}),
		logger:   logger.With().Str("component", "worker").Str("worker_id", config.WorkerID).Logger(),
	}
}

// RegisterHandler binds a job kind to its handler. Not safe to call after
// Start.
func (w *Worker) RegisterHandler(kind string, handler Handler) {
	w.handlers[kind] = handler
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().
		Strs("kinds", w.config.Kinds).
		Int("num_workers", w.config.NumWorkers).
		Msg("starting worker")

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// Stop signals the claim loops and blocks until in-flight jobs finish.
func (w *Worker) Stop() {
	close(w.stopChan)
	w.logger.Info().Msg("worker stopping, waiting for in-flight tasks")
	w.wg.Wait()
	w.logger.Info().Msg("worker stopped")
}

func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()
	workerID := fmt.Sprintf("%s-%d", w.config.WorkerID, workerNum)

	ticker := time.NewTicker(w.config.PollDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processTasks(ctx, workerID)
		}
	}
}

func (w *Worker) processTasks(ctx context.Context, workerID string) {
	tasks, err := w.queue.Claim(ctx, taskqueue.ClaimInput{
		WorkerID: workerID,
		Kinds:    w.config.Kinds,
		MaxTasks: w.config.MaxTasks,
	})
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to claim tasks")
		return
	}
	if len(tasks) == 0 {
		return
	}

	w.logger.Debug().
		Str("claim_worker", workerID).
		Int("task_count", len(tasks)).
		Msg("claimed tasks")

	for _, task := range tasks {
		w.processTask(ctx, workerID, task)
	}
}

func (w *Worker) processTask(ctx context.Context, workerID string, task taskqueue.ClaimedTask) {
	handler, ok := w.handlers[task.Kind]
	if !ok {
		w.logger.Warn().Str("kind", task.Kind).Msg("no handler for job kind")
		if err := w.queue.Fail(ctx, task.ID, "no handler registered", false); err != nil {
			w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to fail task")
		}
		return
	}

	start := time.Now()
	handlerErr := handler(ctx, task.Payload)
	if handlerErr != nil {
		retry := true
		var permanent *PermanentError
		if errors.As(handlerErr, &permanent) {
			retry = false
		}
		if err := w.queue.Fail(ctx, task.ID, handlerErr.Error(), retry); err != nil {
			w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to fail task")
		}
		w.logger.Error().Err(handlerErr).
			Str("task_id", task.ID).
			Str("kind", task.Kind).
			Bool("retry", retry).
			Msg("task failed")
		return
	}

	if err := w.queue.Complete(ctx, task.ID); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to complete task")
		return
	}

	w.logger.Info().
		Str("claim_worker", workerID).
		Str("task_id", task.ID).
		Str("kind", task.Kind).
		Dur("duration", time.Since(start)).
		Msg("task completed")
}
