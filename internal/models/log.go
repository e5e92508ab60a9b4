package models

import (
	"time"
)

// SubmissionLogSchemaVersion is bumped whenever the shape of LoggedPart changes.
const SubmissionLogSchemaVersion = 1

// LoggedOutcome mirrors the outcome of one posting attempt.
type LoggedOutcome struct {
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
	Source         string    `json:"source,omitempty"`
	AdditionalInfo any       `json:"additional_info,omitempty"`
	Website        string    `json:"website"`
	Time           time.Time `json:"time"`
}

// LoggedPart pairs a part with the outcome of its posting attempt.
type LoggedPart struct {
	Part    SubmissionPart `json:"part"`
	Outcome LoggedOutcome  `json:"outcome"`
}

// SubmissionLog is the audit entry written once per finished posting cycle.
type SubmissionLog struct {
	ID            string       `gorm:"primaryKey;size:36" json:"id"`
	SubmissionID  string       `gorm:"size:36;not null;index" json:"submission_id"`
	Submission    Submission   `gorm:"type:text;serializer:json" json:"submission"`
	Parts         []LoggedPart `gorm:"type:text;serializer:json" json:"parts"`
	SchemaVersion int          `gorm:"not null" json:"schema_version"`
	CreatedAt     time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
}
