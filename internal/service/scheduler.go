package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ifuryst/crosspost/internal/config"
	"github.com/ifuryst/crosspost/internal/service/poster"
)

// ScheduledSubmissions finds scheduled submissions that are due.
type ScheduledSubmissions interface {
	ListDueScheduled(ctx context.Context, now time.Time) ([]string, error)
	Unschedule(ctx context.Context, id string) error
}

// Queuer hands a submission to the posting pipeline.
type Queuer interface {
	Queue(ctx context.Context, id string) error
}

// Scheduler periodically queues scheduled submissions whose time has come.
type Scheduler struct {
	config      *config.SchedulerConfig
	logger      *zap.Logger
	submissions ScheduledSubmissions
	queuer      Queuer
	now         func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, submissions ScheduledSubmissions, queuer Queuer) *Scheduler {
	return &Scheduler{
		config:      cfg,
		logger:      logger,
		submissions: submissions,
		queuer:      queuer,
		now:         time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.config.Spec, func() { s.runPickup(ctx) }); err != nil {
		s.logger.Error("Invalid scheduler spec", zap.String("spec", s.config.Spec), zap.Error(err))
		return err
	}

	s.logger.Info("Starting scheduler", zap.String("spec", s.config.Spec))

	// Pick up anything that came due while we were down.
	go s.runPickup(ctx)

	c.Start()
	s.c = c
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.logger.Info("Scheduler shutdown completed")
}

// runPickup queues every due submission and returns how many were queued.
func (s *Scheduler) runPickup(ctx context.Context) int {
	start := time.Now()
	ids, err := s.submissions.ListDueScheduled(ctx, s.now())
	if err != nil {
		s.logger.Error("Scheduled pickup failed", zap.Error(err))
		return 0
	}

	queued := 0
	for _, id := range ids {
		err := s.queuer.Queue(ctx, id)
		if err == nil {
			queued++
			continue
		}

		var verr *poster.ValidationError
		if errors.As(err, &verr) || errors.Is(err, poster.ErrNotFound) {
			// It would fail again on every tick.
			if uerr := s.submissions.Unschedule(ctx, id); uerr != nil {
				s.logger.Error("Failed to unschedule submission", zap.String("submission_id", id), zap.Error(uerr))
			}
		}
		s.logger.Warn("Failed to queue scheduled submission", zap.String("submission_id", id), zap.Error(err))
	}

	if len(ids) > 0 {
		s.logger.Info("Scheduled pickup completed",
			zap.Int("due", len(ids)),
			zap.Int("queued", queued),
			zap.Duration("duration", time.Since(start)))
	}
	return queued
}
