package models

import (
	"time"
)

// SubmissionType separates file uploads from text notifications. Each type has
// its own posting queue.
type SubmissionType string

const (
	SubmissionTypeFile         SubmissionType = "FILE"
	SubmissionTypeNotification SubmissionType = "NOTIFICATION"
)

// SubmissionTypes lists every type in a stable order.
var SubmissionTypes = []SubmissionType{SubmissionTypeFile, SubmissionTypeNotification}

// Valid reports whether t is a known submission type.
func (t SubmissionType) Valid() bool {
	return t == SubmissionTypeFile || t == SubmissionTypeNotification
}

type Submission struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	Type            SubmissionType `gorm:"size:20;not null;index" json:"type"`
	Title           string         `gorm:"size:500" json:"title"`
	IsPosting       bool           `gorm:"default:false" json:"is_posting"`
	IsQueued        bool           `gorm:"default:false" json:"is_queued"`
	IsScheduled     bool           `gorm:"default:false;index" json:"is_scheduled"`
	PostAt          *time.Time     `gorm:"index" json:"post_at"`
	Sources         StringArray    `gorm:"type:text" json:"sources"`
	PrimaryFile     string         `gorm:"size:1000" json:"primary_file,omitempty"`
	ThumbnailFile   string         `gorm:"size:1000" json:"thumbnail_file,omitempty"`
	AdditionalFiles StringArray    `gorm:"type:text" json:"additional_files,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Parts []SubmissionPart `gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE" json:"parts,omitempty"`
}

// Clone returns a deep copy that is safe to hand to another goroutine.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	c.Sources = append(StringArray(nil), s.Sources...)
	c.AdditionalFiles = append(StringArray(nil), s.AdditionalFiles...)
	if s.PostAt != nil {
		at := *s.PostAt
		c.PostAt = &at
	}
	c.Parts = nil
	for _, p := range s.Parts {
		c.Parts = append(c.Parts, *p.Clone())
	}
	return &c
}

// PostStatus is the outcome recorded on a part after a posting cycle.
type PostStatus string

const (
	PostStatusUnposted PostStatus = "UNPOSTED"
	PostStatusSuccess  PostStatus = "SUCCESS"
	PostStatusFailed   PostStatus = "FAILED"
)

// PartData holds the per-website overrides of a part. On the default part it
// holds the shared values the other parts fall back to.
type PartData struct {
	Title                 string            `json:"title,omitempty"`
	Description           string            `json:"description,omitempty"`
	UseDefaultDescription bool              `json:"use_default_description,omitempty"`
	Tags                  []string          `json:"tags,omitempty"`
	ExtendDefaultTags     bool              `json:"extend_default_tags,omitempty"`
	Rating                string            `json:"rating,omitempty"`
	Options               map[string]string `json:"options,omitempty"`
}

// SubmissionPart is the per (submission, account) record of what to post and
// how it went.
type SubmissionPart struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	SubmissionID string     `gorm:"size:36;not null;index" json:"submission_id"`
	AccountID    string     `gorm:"size:100;not null" json:"account_id"`
	Website      string     `gorm:"size:100;not null" json:"website"`
	IsDefault    bool       `gorm:"default:false" json:"is_default"`
	PostStatus   PostStatus `gorm:"size:20;default:'UNPOSTED'" json:"post_status"`
	PostedTo     string     `gorm:"size:1000" json:"posted_to,omitempty"`
	Data         PartData   `gorm:"type:text;serializer:json" json:"data"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Clone returns a deep copy of the part.
func (p *SubmissionPart) Clone() *SubmissionPart {
	if p == nil {
		return nil
	}
	c := *p
	c.Data.Tags = append([]string(nil), p.Data.Tags...)
	if p.Data.Options != nil {
		c.Data.Options = make(map[string]string, len(p.Data.Options))
		for k, v := range p.Data.Options {
			c.Data.Options[k] = v
		}
	}
	return &c
}
