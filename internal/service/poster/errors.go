package poster

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCancelled      = errors.New("post cancelled")
	ErrNotFound       = errors.New("submission not found")
	ErrUnknownWebsite = errors.New("unknown website")
	ErrNotLoggedIn    = errors.New("account is not logged in")
)

// Problem is a single blocking validation finding.
type Problem struct {
	Website   string `json:"website,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Message   string `json:"message"`
}

func (p Problem) String() string {
	if p.Website == "" {
		return p.Message
	}
	return fmt.Sprintf("%s: %s", p.Website, p.Message)
}

// ValidationError is returned when a submission cannot enter the posting
// pipeline.
type ValidationError struct {
	SubmissionID string    `json:"submission_id"`
	Problems     []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.String())
	}
	return fmt.Sprintf("submission %s failed validation: %s", e.SubmissionID, strings.Join(msgs, "; "))
}

// PostError lets a website attach a diagnostic payload to a failure. The
// payload ends up in the audit log next to the message.
type PostError struct {
	Message        string
	AdditionalInfo any
	Err            error
}

func (e *PostError) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *PostError) Unwrap() error {
	return e.Err
}
