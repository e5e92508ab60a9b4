package models

import (
	"time"
)

// Notification is a user-facing message about a posting cycle.
type Notification struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Level        string    `gorm:"size:20;not null;index" json:"level"` // info, warn, error
	Title        string    `gorm:"size:500;not null" json:"title"`
	Message      string    `gorm:"type:text;not null" json:"message"`
	SubmissionID string    `gorm:"size:36;index" json:"submission_id,omitempty"`
	Website      string    `gorm:"size:100;index" json:"website,omitempty"`
	Context      string    `gorm:"type:text" json:"context,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
