package poster

import (
	"time"

	"github.com/ifuryst/crosspost/internal/models"
)

type TaskStatus struct {
	Website              string       `json:"website"`
	AccountID            string       `json:"account_id"`
	State                TaskState    `json:"state"`
	PostAt               time.Time    `json:"post_at"`
	WaitForExternalStart bool         `json:"wait_for_external_start"`
	Outcome              *PostOutcome `json:"outcome,omitempty"`
}

type ActiveStatus struct {
	Submission *models.Submission `json:"submission"`
	StartedAt  time.Time          `json:"started_at"`
	Tasks      []TaskStatus       `json:"tasks"`
}

type QueueStatus struct {
	Type   models.SubmissionType `json:"type"`
	Active *ActiveStatus         `json:"active,omitempty"`
	Queued []*models.Submission  `json:"queued"`
}

type StatusSnapshot struct {
	Queues []QueueStatus `json:"queues"`
}

// Queue returns the status of one submission type.
func (s StatusSnapshot) Queue(typ models.SubmissionType) (QueueStatus, bool) {
	for _, q := range s.Queues {
		if q.Type == typ {
			return q, true
		}
	}
	return QueueStatus{}, false
}

// Status returns the active submission and the backlog of every type.
func (o *Orchestrator) Status() StatusSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := StatusSnapshot{}
	for _, typ := range models.SubmissionTypes {
		qs := QueueStatus{Type: typ, Queued: []*models.Submission{}}
		for _, sub := range o.queues[typ].Snapshot() {
			qs.Queued = append(qs.Queued, sub.Clone())
		}

		if entry := o.active[typ]; entry != nil {
			active := &ActiveStatus{
				Submission: entry.submission.Clone(),
				StartedAt:  entry.startedAt,
				Tasks:      make([]TaskStatus, 0, len(entry.tasks)),
			}
			for _, t := range entry.tasks {
				ts := TaskStatus{
					Website:              t.Website(),
					AccountID:            t.AccountID(),
					State:                t.State(),
					PostAt:               t.PostAt(),
					WaitForExternalStart: t.WaitForExternalStart(),
				}
				if outcome, ok := t.Outcome(); ok {
					ts.Outcome = &outcome
				}
				active.Tasks = append(active.Tasks, ts)
			}
			qs.Active = active
		}
		snapshot.Queues = append(snapshot.Queues, qs)
	}
	return snapshot
}
