package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ifuryst/crosspost/internal/config"
	"github.com/ifuryst/crosspost/internal/models"
	"github.com/ifuryst/crosspost/internal/service/poster"
	"github.com/ifuryst/crosspost/internal/service/website/webhook"
)

// PosterService wires the configured websites, the post-time store and the
// orchestrator together.
type PosterService struct {
	logger       *zap.Logger
	config       *config.Config
	registry     *poster.Registry
	orchestrator *poster.Orchestrator
}

// PosterDependencies are the stores the orchestrator reports to. Redis is
// optional and only used when enabled in the config.
type PosterDependencies struct {
	Submissions   poster.SubmissionStore
	Logs          poster.LogStore
	Notifier      poster.Notifier
	Files         poster.FileLoader
	Redis         *redis.Client
	ExtraWebsites []poster.Website
}

// pipelineResetter is implemented by stores that persist queue flags.
type pipelineResetter interface {
	ResetPipelineFlags(ctx context.Context) (int64, error)
}

func NewPosterService(cfg *config.Config, deps PosterDependencies, logger *zap.Logger) (*PosterService, error) {
	registry := poster.NewRegistry(logger)
	s := &PosterService{
		logger:   logger,
		config:   cfg,
		registry: registry,
	}

	if err := s.registerWebsites(deps.ExtraWebsites); err != nil {
		return nil, err
	}

	if r, ok := deps.Submissions.(pipelineResetter); ok {
		n, err := r.ResetPipelineFlags(context.Background())
		if err != nil {
			return nil, err
		}
		if n > 0 {
			logger.Info("Cleared stale posting flags", zap.Int64("submissions", n))
		}
	}

	var times poster.PostTimeStore
	if cfg.Redis.Enabled && deps.Redis != nil {
		times = poster.NewRedisPostTimeStore(deps.Redis, cfg.Redis.KeyPrefix, cfg.Redis.PostTimeTTL)
		logger.Info("Using redis post-time store", zap.String("prefix", cfg.Redis.KeyPrefix))
	} else {
		times = poster.NewMemoryPostTimeStore()
		logger.Info("Using in-memory post-time store")
	}

	limiter := poster.NewRateLimiter(times, logger, poster.WithMinPostDelay(cfg.Poster.MinPostDelay))

	s.orchestrator = poster.NewOrchestrator(poster.Dependencies{
		Store:    deps.Submissions,
		Logs:     deps.Logs,
		Notifier: deps.Notifier,
		Registry: registry,
		Limiter:  limiter,
		Files:    deps.Files,
		Logger:   logger,
	}, poster.Options{
		EmptyQueueOnFailure: cfg.Poster.EmptyQueueOnFailure,
	})

	return s, nil
}

func (s *PosterService) registerWebsites(extra []poster.Website) error {
	for _, wc := range s.config.Websites {
		if !wc.IsEnabled() {
			s.logger.Info("Website disabled", zap.String("website", wc.Name))
			continue
		}
		w := webhook.New(webhook.Config{
			Name:              wc.Name,
			BaseURL:           wc.BaseURL,
			Token:             wc.Token,
			AcceptsSourceURLs: wc.AcceptsSourceURLs,
			WaitBetweenPosts:  wc.WaitBetweenPosts,
			MaxTags:           wc.MaxTags,
			Timeout:           wc.Timeout,
		}, s.logger)
		if err := s.registry.Register(w); err != nil {
			return fmt.Errorf("failed to register website %s: %w", wc.Name, err)
		}
	}

	for _, w := range extra {
		if err := s.registry.Register(w); err != nil {
			return fmt.Errorf("failed to register website %s: %w", w.Name(), err)
		}
	}
	return nil
}

func (s *PosterService) Queue(ctx context.Context, id string) error {
	return s.orchestrator.Queue(ctx, id)
}

func (s *PosterService) Cancel(ctx context.Context, id string) bool {
	return s.orchestrator.Cancel(ctx, id)
}

func (s *PosterService) CancelAll(ctx context.Context, typ models.SubmissionType) {
	s.orchestrator.CancelAll(ctx, typ)
}

func (s *PosterService) IsPosting(id string) bool {
	return s.orchestrator.IsPosting(id)
}

func (s *PosterService) IsQueued(id string) bool {
	return s.orchestrator.IsQueued(id)
}

func (s *PosterService) Status() poster.StatusSnapshot {
	return s.orchestrator.Status()
}

// Websites lists the registered website names.
func (s *PosterService) Websites() []string {
	return s.registry.Names()
}

// Close cancels everything still waiting to post.
func (s *PosterService) Close() {
	s.orchestrator.Close()
}
