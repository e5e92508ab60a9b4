package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/crosspost/internal/models"
	"github.com/ifuryst/crosspost/internal/service/poster"
)

type partRequest struct {
	AccountID string          `json:"account_id" binding:"required"`
	Website   string          `json:"website" binding:"required"`
	IsDefault bool            `json:"is_default"`
	Data      models.PartData `json:"data"`
}

type createSubmissionRequest struct {
	ID              string        `json:"id"`
	Type            string        `json:"type" binding:"required,oneof=FILE NOTIFICATION"`
	Title           string        `json:"title"`
	Sources         []string      `json:"sources"`
	PrimaryFile     string        `json:"primary_file"`
	ThumbnailFile   string        `json:"thumbnail_file"`
	AdditionalFiles []string      `json:"additional_files"`
	PostAt          *time.Time    `json:"post_at"`
	Parts           []partRequest `json:"parts" binding:"required,min=1,dive"`
}

type scheduleRequest struct {
	PostAt time.Time `json:"post_at" binding:"required"`
}

func (s *Server) handleListWebsites(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"websites": s.Poster.Websites()})
}

func (s *Server) handleCreateSubmission(c *gin.Context) {
	var req createSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub := &models.Submission{
		ID:              req.ID,
		Type:            models.SubmissionType(req.Type),
		Title:           req.Title,
		Sources:         req.Sources,
		PrimaryFile:     req.PrimaryFile,
		ThumbnailFile:   req.ThumbnailFile,
		AdditionalFiles: req.AdditionalFiles,
	}
	if req.PostAt != nil {
		sub.IsScheduled = true
		sub.PostAt = req.PostAt
	}
	for _, p := range req.Parts {
		sub.Parts = append(sub.Parts, models.SubmissionPart{
			AccountID: p.AccountID,
			Website:   p.Website,
			IsDefault: p.IsDefault,
			Data:      p.Data,
		})
	}

	if err := s.Submissions.Create(c.Request.Context(), sub); err != nil {
		s.Logger.Error("Failed to create submission", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create submission"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"submission": sub})
}

func (s *Server) handleListSubmissions(c *gin.Context) {
	typ := models.SubmissionType(strings.ToUpper(c.Query("type")))
	if typ != "" && !typ.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown submission type"})
		return
	}

	subs, err := s.Submissions.List(c.Request.Context(), typ)
	if err != nil {
		s.Logger.Error("Failed to list submissions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list submissions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}

func (s *Server) handleGetSubmission(c *gin.Context) {
	sub, err := s.Submissions.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err, "Failed to get submission")
		return
	}

	c.JSON(http.StatusOK, gin.H{"submission": sub})
}

func (s *Server) handleScheduleSubmission(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Submissions.Schedule(c.Request.Context(), c.Param("id"), req.PostAt); err != nil {
		s.respondError(c, err, "Failed to schedule submission")
		return
	}

	c.JSON(http.StatusOK, gin.H{"scheduled": true, "post_at": req.PostAt})
}

func (s *Server) handleQueueSubmission(c *gin.Context) {
	id := c.Param("id")
	if err := s.Poster.Queue(c.Request.Context(), id); err != nil {
		s.respondError(c, err, "Failed to queue submission")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"submission_id": id,
		"posting":       s.Poster.IsPosting(id),
		"queued":        s.Poster.IsQueued(id),
	})
}

func (s *Server) handleCancelSubmission(c *gin.Context) {
	id := c.Param("id")
	cancelled := s.Poster.Cancel(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"submission_id": id, "cancelled": cancelled})
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Poster.Status())
}

func (s *Server) handleCancelQueue(c *gin.Context) {
	typ := models.SubmissionType(strings.ToUpper(c.Param("type")))
	if !typ.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown submission type"})
		return
	}

	s.Poster.CancelAll(c.Request.Context(), typ)
	c.JSON(http.StatusOK, gin.H{"type": typ, "cancelled": true})
}

func (s *Server) handleListLogs(c *gin.Context) {
	logs, err := s.Logs.ListLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.Logger.Error("Failed to list submission logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) handleListNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	notifications, err := s.Notifications.Recent(c.Request.Context(), limit)
	if err != nil {
		s.Logger.Error("Failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// respondError maps domain errors to status codes.
func (s *Server) respondError(c *gin.Context, err error, message string) {
	var verr *poster.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "problems": verr.Problems})
	case errors.Is(err, poster.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.Logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}
