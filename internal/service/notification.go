package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/ifuryst/crosspost/internal/config"
	"github.com/ifuryst/crosspost/internal/models"
	"github.com/ifuryst/crosspost/internal/service/poster"
)

// NotificationService stores notifications, logs them and optionally pushes
// them to a webhook. It implements poster.Notifier.
type NotificationService struct {
	db      *gorm.DB
	logger  *zap.Logger
	webhook string
	client  *http.Client
	limiter *rate.Limiter

	wg sync.WaitGroup
}

func NewNotificationService(db *gorm.DB, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &NotificationService{
		db:      db,
		logger:  logger,
		webhook: cfg.WebhookURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
	}
}

// NotificationOption sets optional fields of a stored notification.
type NotificationOption func(*models.Notification)

func WithSubmission(submissionID string) NotificationOption {
	return func(n *models.Notification) {
		n.SubmissionID = submissionID
	}
}

func WithWebsite(website string) NotificationOption {
	return func(n *models.Notification) {
		n.Website = website
	}
}

// WithContext attaches a JSON payload.
func WithContext(context any) NotificationOption {
	return func(n *models.Notification) {
		if contextBytes, err := json.Marshal(context); err == nil {
			n.Context = string(contextBytes)
		}
	}
}

// Record stores a notification and hands it to the webhook.
func (s *NotificationService) Record(ctx context.Context, level, title, message string, options ...NotificationOption) (*models.Notification, error) {
	n := &models.Notification{
		Level:   level,
		Title:   title,
		Message: message,
	}
	for _, option := range options {
		option(n)
	}

	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}

	if s.webhook != "" {
		s.wg.Add(1)
		go func(n models.Notification) {
			defer s.wg.Done()
			s.deliver(n)
		}(*n)
	}
	return n, nil
}

// Notify implements poster.Notifier. Failures to store are logged only.
func (s *NotificationService) Notify(ctx context.Context, n poster.Notification) {
	fields := []zap.Field{
		zap.String("submission_id", n.SubmissionID),
		zap.String("title", n.Title),
	}
	switch n.Level {
	case poster.LevelError:
		s.logger.Error(n.Message, fields...)
	case poster.LevelWarn:
		s.logger.Warn(n.Message, fields...)
	default:
		s.logger.Info(n.Message, fields...)
	}

	options := []NotificationOption{WithSubmission(n.SubmissionID)}
	if len(n.Failures) > 0 {
		options = append(options, WithContext(map[string]any{"failures": n.Failures}))
		if len(n.Failures) == 1 {
			options = append(options, WithWebsite(n.Failures[0].Website))
		}
	}

	if _, err := s.Record(ctx, string(n.Level), n.Title, n.Message, options...); err != nil {
		s.logger.Error("Failed to record notification",
			zap.String("submission_id", n.SubmissionID),
			zap.Error(err))
	}
}

// Recent returns the newest notifications.
func (s *NotificationService) Recent(ctx context.Context, limit int) ([]models.Notification, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 500:
		limit = 500
	}
	var out []models.Notification
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// Wait blocks until pending webhook deliveries are done.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

func (s *NotificationService) deliver(n models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		s.logger.Warn("Dropped webhook notification", zap.Uint("notification_id", n.ID), zap.Error(err))
		return
	}

	body, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("Failed to encode notification", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhook, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("Failed to build webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("Webhook delivery failed", zap.Uint("notification_id", n.ID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn("Webhook rejected notification",
			zap.Uint("notification_id", n.ID),
			zap.Int("status", resp.StatusCode))
	}
}
