package poster

import (
	"errors"
	"time"

	"github.com/ifuryst/crosspost/internal/models"
)

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "SUCCESS"
	OutcomeFailed  OutcomeStatus = "FAILED"
)

// PostOutcome is the result of one task's posting attempt.
type PostOutcome struct {
	Status         OutcomeStatus `json:"status"`
	Message        string        `json:"message,omitempty"`
	Source         string        `json:"source,omitempty"`
	AdditionalInfo any           `json:"additional_info,omitempty"`
	Website        string        `json:"website"`
	Time           time.Time     `json:"time"`
}

func (o PostOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

func successOutcome(website string, resp *PostResponse, at time.Time) PostOutcome {
	return PostOutcome{
		Status:         OutcomeSuccess,
		Message:        resp.Message,
		Source:         resp.Source,
		AdditionalInfo: resp.AdditionalInfo,
		Website:        website,
		Time:           at,
	}
}

func failedOutcome(website string, err error, at time.Time) PostOutcome {
	outcome := PostOutcome{
		Status:  OutcomeFailed,
		Message: err.Error(),
		Website: website,
		Time:    at,
	}
	var postErr *PostError
	if errors.As(err, &postErr) {
		outcome.AdditionalInfo = postErr.AdditionalInfo
	}
	return outcome
}

func (o PostOutcome) logged() models.LoggedOutcome {
	return models.LoggedOutcome{
		Status:         string(o.Status),
		Message:        o.Message,
		Source:         o.Source,
		AdditionalInfo: o.AdditionalInfo,
		Website:        o.Website,
		Time:           o.Time,
	}
}
