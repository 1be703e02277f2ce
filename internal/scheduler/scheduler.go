// Package scheduler enqueues poll jobs for every active listing at one of
// two cadences.
//
// Listings with at least one active subscription poll on the frequent
// interval, the rest on the periodic one. Each enqueue uses the listing id as
// its singleton key, so when polls run slower than the schedule the queue
// absorbs repeat ticks instead of growing.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/metrics"
	"github.com/stockwatch/monitor-service/internal/taskqueue"
)

type scheduleSource interface {
	ListActiveListingSchedules(ctx context.Context) ([]database.ListingSchedule, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, input taskqueue.EnqueueInput) (string, error)
}

type Config struct {
	// FrequentInterval is the poll cadence for subscribed listings.
	FrequentInterval time.Duration
	// PeriodicInterval is the poll cadence for everything else.
	PeriodicInterval time.Duration
	// ReconcileInterval is how often each store's catalog is re-listed.
	ReconcileInterval time.Duration
	// JobTTL bounds how long an enqueued poll job stays claimable.
	JobTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		FrequentInterval:  15 * time.Minute,
		PeriodicInterval:  6 * time.Hour,
		ReconcileInterval: 24 * time.Hour,
		JobTTL:            30 * time.Minute,
	}
}

type Scheduler struct {
	catalog      scheduleSource
	queue        enqueuer
	config       Config
	storeHandles []string
	logger       zerolog.Logger

	lastPolled    map[string]time.Time
	lastReconcile map[string]time.Time
}

func New(cat scheduleSource, queue enqueuer, config Config, storeHandles []string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		catalog:       cat,
		queue:         queue,
		config:        config,
		storeHandles:  storeHandles,
		logger:        logger.With().Str("component", "scheduler").Logger(),
		lastPolled:    make(map[string]time.Time),
		lastReconcile: make(map[string]time.Time),
	}
}

// Run ticks at the frequent interval until the context is cancelled. Each
// tick enqueues whatever is due; the singleton keys make double enqueues
// harmless, so the in-memory due times are an optimization, not a
// correctness mechanism.
func (s *Scheduler) Run(ctx context.Context) error {
	tick := s.config.FrequentInterval
	if tick <= 0 {
		tick = DefaultConfig().FrequentInterval
	}

	// Immediate first pass so a fresh deploy does not idle for a full tick.
	s.tick(ctx)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	s.enqueueDuePolls(ctx, now)
	s.enqueueDueReconciles(ctx, now)
}

func (s *Scheduler) enqueueDuePolls(ctx context.Context, now time.Time) {
	schedules, err := s.catalog.ListActiveListingSchedules(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load listing schedules")
		return
	}

	enqueued := 0
	for _, schedule := range schedules {
		interval := s.config.PeriodicInterval
		cadence := "periodic"
		if schedule.HasSubscription {
			interval = s.config.FrequentInterval
			cadence = "frequent"
		}
		if last, ok := s.lastPolled[schedule.ListingID]; ok && now.Sub(last) < interval {
			continue
		}

		id, err := s.queue.Enqueue(ctx, taskqueue.EnqueueInput{
			Kind:         taskqueue.KindPollStoreListing,
			Payload:      taskqueue.PollStoreListingPayload{StoreListingID: schedule.ListingID},
			SingletonKey: schedule.ListingID,
			TTL:          s.config.JobTTL,
		})
		if err != nil {
			s.logger.Error().Err(err).
				Str("store_listing_id", schedule.ListingID).
				Msg("failed to enqueue poll job")
			continue
		}
		s.lastPolled[schedule.ListingID] = now
		if id != "" {
			enqueued++
			metrics.JobsEnqueuedTotal.WithLabelValues(taskqueue.KindPollStoreListing, cadence).Inc()
		}
	}

	if enqueued > 0 {
		s.logger.Info().
			Int("listings", len(schedules)).
			Int("enqueued", enqueued).
			Msg("scheduled poll jobs")
	}
}

func (s *Scheduler) enqueueDueReconciles(ctx context.Context, now time.Time) {
	interval := s.config.ReconcileInterval
	if interval <= 0 {
		return
	}

	for _, handle := range s.storeHandles {
		if last, ok := s.lastReconcile[handle]; ok && now.Sub(last) < interval {
			continue
		}

		id, err := s.queue.Enqueue(ctx, taskqueue.EnqueueInput{
			Kind:         taskqueue.KindReconcileStore,
			Payload:      taskqueue.ReconcileStorePayload{Store: handle},
			SingletonKey: handle,
			TTL:          interval,
		})
		if err != nil {
			s.logger.Error().Err(err).Str("store", handle).Msg("failed to enqueue reconcile job")
			continue
		}
		s.lastReconcile[handle] = now
		if id != "" {
			metrics.JobsEnqueuedTotal.WithLabelValues(taskqueue.KindReconcileStore, "periodic").Inc()
		}
	}
}
