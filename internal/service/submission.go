package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/crosspost/internal/models"
	"github.com/ifuryst/crosspost/internal/service/poster"
)

// SubmissionService is the gorm-backed poster.SubmissionStore.
type SubmissionService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewSubmissionService(db *gorm.DB, logger *zap.Logger) *SubmissionService {
	return &SubmissionService{db: db, logger: logger}
}

// Create stores a new submission with its parts. An empty ID is filled with a
// fresh uuid.
func (s *SubmissionService) Create(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if !sub.Type.Valid() {
		return fmt.Errorf("unknown submission type %q", sub.Type)
	}
	for i := range sub.Parts {
		sub.Parts[i].SubmissionID = sub.ID
		if sub.Parts[i].PostStatus == "" {
			sub.Parts[i].PostStatus = models.PostStatusUnposted
		}
	}
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

func (s *SubmissionService) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	var sub models.Submission
	err := s.db.WithContext(ctx).
		Preload("Parts", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", id).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", poster.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load submission %s: %w", id, err)
	}
	return &sub, nil
}

// SaveSubmission only writes the posting flags so a stale copy never
// overwrites content edited while the submission was posting.
func (s *SubmissionService) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	result := s.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", sub.ID).
		Updates(map[string]interface{}{
			"is_posting":   sub.IsPosting,
			"is_queued":    sub.IsQueued,
			"is_scheduled": sub.IsScheduled,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save submission %s: %w", sub.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", poster.ErrNotFound, sub.ID)
	}
	return nil
}

// UpdatePart records the posting result of a part.
func (s *SubmissionService) UpdatePart(ctx context.Context, part *models.SubmissionPart) error {
	query := s.db.WithContext(ctx).Model(&models.SubmissionPart{})
	if part.ID != 0 {
		query = query.Where("id = ?", part.ID)
	} else {
		query = query.Where("submission_id = ? AND website = ? AND account_id = ?",
			part.SubmissionID, part.Website, part.AccountID)
	}

	err := query.Updates(map[string]interface{}{
		"post_status": part.PostStatus,
		"posted_to":   part.PostedTo,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update part %s/%s: %w", part.Website, part.AccountID, err)
	}
	return nil
}

func (s *SubmissionService) DeleteSubmission(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ?", id).Delete(&models.SubmissionPart{}).Error; err != nil {
			return fmt.Errorf("failed to delete parts of %s: %w", id, err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Submission{}).Error; err != nil {
			return fmt.Errorf("failed to delete submission %s: %w", id, err)
		}
		return nil
	})
}

// List returns submissions of one type, newest first. An empty type lists
// everything.
func (s *SubmissionService) List(ctx context.Context, typ models.SubmissionType) ([]models.Submission, error) {
	var subs []models.Submission
	query := s.db.WithContext(ctx).Preload("Parts").Order("created_at DESC")
	if typ != "" {
		query = query.Where("type = ?", typ)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}

// ResetPipelineFlags clears is_posting and is_queued on every submission.
// Queues live in memory, so after a restart no submission is in the pipeline.
func (s *SubmissionService) ResetPipelineFlags(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("is_posting = ? OR is_queued = ?", true, true).
		Updates(map[string]interface{}{"is_posting": false, "is_queued": false})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset pipeline flags: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListDueScheduled returns the ids of scheduled submissions whose post time
// has passed and that are not already in the pipeline.
func (s *SubmissionService) ListDueScheduled(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("is_scheduled = ? AND post_at <= ? AND is_posting = ? AND is_queued = ?", true, now, false, false).
		Order("post_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled submissions: %w", err)
	}
	return ids, nil
}

// Schedule marks a submission to be queued automatically at postAt.
func (s *SubmissionService) Schedule(ctx context.Context, id string, postAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_scheduled": true, "post_at": postAt})
	if result.Error != nil {
		return fmt.Errorf("failed to schedule submission %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", poster.ErrNotFound, id)
	}
	return nil
}

// Unschedule clears the schedule of a submission.
func (s *SubmissionService) Unschedule(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_scheduled": false, "post_at": nil}).Error
	if err != nil {
		return fmt.Errorf("failed to unschedule submission %s: %w", id, err)
	}
	return nil
}
