package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ifuryst/crosspost/internal/models"
)

// PostLogService stores the audit entry written after every posting cycle.
type PostLogService struct {
	db *gorm.DB
}

func NewPostLogService(db *gorm.DB) *PostLogService {
	return &PostLogService{db: db}
}

func (s *PostLogService) CreateLog(ctx context.Context, entry *models.SubmissionLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to write submission log: %w", err)
	}
	return nil
}

// ListLogs returns the entries of a submission, newest first.
func (s *PostLogService) ListLogs(ctx context.Context, submissionID string) ([]models.SubmissionLog, error) {
	var logs []models.SubmissionLog
	err := s.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list submission logs: %w", err)
	}
	return logs, nil
}
