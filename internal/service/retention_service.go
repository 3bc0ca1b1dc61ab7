package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/fleet-trip-api/pkg/jobs"
)

type deletedTripPurger interface {
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type historyPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type historyCacheFlusher interface {
	InvalidateAll(ctx context.Context)
}

const retentionJobType = "retention_sweep"

// RetentionConfig controls the scheduled sweep.
type RetentionConfig struct {
	Schedule   string
	Days       int
	Location   *time.Location
	MaxRetries int
	RetryDelay time.Duration
}

// RetentionReport summarises one sweep.
type RetentionReport struct {
	Cutoff        time.Time `json:"cutoff"`
	TripsPurged   int64     `json:"tripsPurged"`
	HistoryPurged int64     `json:"historyPurged"`
	CompletedAt   time.Time `json:"completedAt"`
}

// RetentionService removes soft-deleted trips and history entries past the retention window.
type RetentionService struct {
	trips   deletedTripPurger
	history historyPruner
	cache   historyCacheFlusher
	metrics *MetricsService
	cfg     RetentionConfig
	logger  *zap.Logger
	now     func() time.Time

	cron  *cron.Cron
	queue *jobs.Queue
}

// NewRetentionService constructs the service. cache may be nil.
func NewRetentionService(trips deletedTripPurger, history historyPruner, cache historyCacheFlusher, metrics *MetricsService, cfg RetentionConfig, logger *zap.Logger) *RetentionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 2 * * *"
	}
	if cfg.Days <= 0 {
		cfg.Days = 60
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	return &RetentionService{
		trips:   trips,
		history: history,
		cache:   cache,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run performs one sweep: soft-deleted trips first, then history older than the window.
func (s *RetentionService) Run(ctx context.Context) (report *RetentionReport, err error) {
	defer func() { s.metrics.RecordRetentionRun(err) }()

	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.Days)
	report = &RetentionReport{Cutoff: cutoff}

	if report.TripsPurged, err = s.trips.PurgeDeletedBefore(ctx, cutoff); err != nil {
		return nil, fmt.Errorf("purge deleted trips: %w", err)
	}
	s.metrics.RecordRetentionPurge("trips", report.TripsPurged)

	if report.HistoryPurged, err = s.history.DeleteOlderThan(ctx, cutoff); err != nil {
		return nil, fmt.Errorf("purge trip history: %w", err)
	}
	s.metrics.RecordRetentionPurge("history", report.HistoryPurged)
	if s.cache != nil && report.TripsPurged+report.HistoryPurged > 0 {
		s.cache.InvalidateAll(ctx)
	}

	report.CompletedAt = s.now().UTC()
	s.logger.Info("retention sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("trips_purged", report.TripsPurged),
		zap.Int64("history_purged", report.HistoryPurged),
	)
	return report, nil
}

// Start schedules the sweep with cron in the configured timezone. Failed sweeps are
// retried through the job queue.
func (s *RetentionService) Start(ctx context.Context) error {
	s.queue = jobs.NewQueue(retentionJobType, func(ctx context.Context, _ jobs.Job) error {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		_, err := s.Run(runCtx)
		return err
	}, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 1,
		MaxRetries: s.cfg.MaxRetries,
		RetryDelay: s.cfg.RetryDelay,
		Logger:     s.logger,
		OnGiveUp: func(job jobs.Job, err error) {
			s.logger.Error("retention sweep abandoned", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt+1), zap.Error(err))
		},
	})

	c := cron.New(cron.WithLocation(s.cfg.Location))
	if _, err := c.AddFunc(s.cfg.Schedule, s.trigger); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	s.queue.Start(ctx)
	c.Start()
	s.cron = c
	s.logger.Info("retention scheduler started", zap.String("schedule", s.cfg.Schedule), zap.Int("days", s.cfg.Days))
	return nil
}

// trigger skips the tick when a sweep is already running or waiting.
func (s *RetentionService) trigger() {
	err := s.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: retentionJobType})
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		s.logger.Info("retention sweep still pending, skipping tick")
	case err != nil:
		s.logger.Warn("failed to enqueue retention sweep", zap.Error(err))
	}
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *RetentionService) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.queue != nil {
		s.queue.Stop()
	}
}
