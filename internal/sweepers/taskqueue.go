// Package sweepers holds periodic maintenance loops for the task queue.
package sweepers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stockwatch/monitor-service/internal/metrics"
	"github.com/stockwatch/monitor-service/internal/taskqueue"
)

// TaskQueueSweeper expires overdue jobs, releases jobs stuck on dead
// workers, prunes finished rows, and refreshes the queue depth gauge.
type TaskQueueSweeper struct {
	queue      *taskqueue.TaskQueue
	logger     zerolog.Logger
	interval   time.Duration
	stuckAfter time.Duration
	retention  time.Duration
	stopChan   chan struct{}
}

func NewTaskQueueSweeper(queue *taskqueue.TaskQueue, logger zerolog.Logger, interval time.Duration) *TaskQueueSweeper {
	return &TaskQueueSweeper{
		queue:      queue,
		logger:     logger.With().Str("component", "taskqueue-sweeper").Logger(),
		interval:   interval,
		stuckAfter: 10 * time.Minute,
		retention:  7 * 24 * time.Hour,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the periodic maintenance sweep.
func (s *TaskQueueSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Msg("starting task queue sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("task queue sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("task queue sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("task queue sweep failed")
			}
		}
	}
}

// Stop signals the sweeper to stop.
func (s *TaskQueueSweeper) Stop() {
	close(s.stopChan)
}

// Sweep runs one maintenance pass.
func (s *TaskQueueSweeper) Sweep(ctx context.Context) error {
	expired, err := s.queue.ExpireOverdue(ctx)
	if err != nil {
		return err
	}

	released, err := s.queue.ReleaseStuck(ctx, s.stuckAfter)
	if err != nil {
		return err
	}

	pruned, err := s.queue.DeleteFinished(ctx, s.retention)
	if err != nil {
		return err
	}

	depth, err := s.queue.PendingByKind(ctx)
	if err != nil {
		return err
	}
	for kind, n := range depth {
		metrics.QueueDepth.WithLabelValues(kind).Set(float64(n))
	}

	if expired > 0 || released > 0 || pruned > 0 {
		s.logger.Info().
			Int("expired", expired).
			Int("released", released).
			Int("pruned", pruned).
			Msg("task queue sweep complete")
	}
	return nil
}
